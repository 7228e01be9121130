package models

import "time"

// StageResult is the uniform outcome every pipeline stage reports back
type StageResult struct {
	Stage       string
	Success     bool
	Err         error
	Details     string
	Remediation string
}

// FailedStage builds a failed StageResult
func FailedStage(stage string, err error, details, remediation string) StageResult {
	return StageResult{Stage: stage, Success: false, Err: err, Details: details, Remediation: remediation}
}

// SucceededStage builds a successful StageResult
func SucceededStage(stage, details string) StageResult {
	return StageResult{Stage: stage, Success: true, Details: details}
}

// BuildResult is what the artifact builder hands back to the pipeline
type BuildResult struct {
	Success      bool
	ArtifactPath string
	Version      string
	Commit       string
	Branch       string
	Timestamp    time.Time
	Stdout       string
	Stderr       string
}

// BuildInfo is stamped into the artifact directory as build-info.json
type BuildInfo struct {
	Version     string    `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	Commit      string    `json:"commit"`
	Branch      string    `json:"branch"`
	Environment string    `json:"environment"`
}

// PipelineOutcome is the final state of a deploy or rollback run
type PipelineOutcome struct {
	RunID        string
	Kind         RecordKind
	Group        string
	State        State
	Target       Color
	PreviousLive Color
	Build        *BuildResult
	Stages       []StageResult
	Err          error
}

// Succeeded reports whether the run reached Recorded without error
func (o *PipelineOutcome) Succeeded() bool {
	return o.State == STATE_RECORDED && o.Err == nil
}
