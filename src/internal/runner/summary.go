package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/template"
)

const SUMMARY_FILE = "deploy-summary.md"

// Summary is the data handed to the run summary template
type Summary struct {
	Kind         string
	Group        string
	Succeeded    bool
	State        models.State
	RunID        string
	Target       models.Color
	PreviousLive models.Color
	Version      string
	Commit       string
	Stages       []models.StageResult
	Remediation  []string
}

// NewSummary flattens an outcome for rendering
func NewSummary(o *models.PipelineOutcome) Summary {
	s := Summary{
		Kind:         string(o.Kind),
		Group:        o.Group,
		Succeeded:    o.Succeeded(),
		State:        o.State,
		RunID:        o.RunID,
		Target:       o.Target,
		PreviousLive: o.PreviousLive,
		Stages:       o.Stages,
	}
	if o.Build != nil {
		s.Version = o.Build.Version
		s.Commit = o.Build.Commit
	}
	for _, st := range o.Stages {
		if !st.Success && st.Remediation != "" {
			s.Remediation = append(s.Remediation, st.Remediation)
		}
	}
	return s
}

// WriteSummary renders the outcome as markdown into dir
func WriteSummary(renderer *template.Renderer, o *models.PipelineOutcome, dir string) (string, error) {
	content, err := renderer.RenderNamed(template.DEPLOY_SUMMARY_TEMPLATE, NewSummary(o))
	if err != nil {
		return "", fmt.Errorf("failed to render summary: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, SUMMARY_FILE)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	logger.WithField("path", path).Info("Wrote run summary")
	return path, nil
}
