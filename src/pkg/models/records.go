package models

import "time"

type RecordKind string

const (
	RECORD_KIND_DEPLOYMENT RecordKind = "deployment"
	RECORD_KIND_ROLLBACK   RecordKind = "rollback"
)

// Record is an immutable audit entry written to the deployment log
type Record interface {
	Kind() RecordKind
	RecordedAt() time.Time
	Group() string
}

// DeploymentRecord captures one deployment attempt
type DeploymentRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
	DeployedTo  Color     `json:"deployedTo"`
	Version     string    `json:"version"`
	Commit      string    `json:"commit"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

func (r *DeploymentRecord) Kind() RecordKind      { return RECORD_KIND_DEPLOYMENT }
func (r *DeploymentRecord) RecordedAt() time.Time { return r.Timestamp }
func (r *DeploymentRecord) Group() string         { return r.Environment }

// RollbackRecord captures one rollback attempt
type RollbackRecord struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Environment    string    `json:"environment"`
	RolledBackTo   Color     `json:"rolledBackTo"`
	RolledBackFrom Color     `json:"rolledBackFrom"`
	Version        string    `json:"version"`
	Commit         string    `json:"commit"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
}

func (r *RollbackRecord) Kind() RecordKind      { return RECORD_KIND_ROLLBACK }
func (r *RollbackRecord) RecordedAt() time.Time { return r.Timestamp }
func (r *RollbackRecord) Group() string         { return r.Environment }

var (
	_ Record = (*DeploymentRecord)(nil)
	_ Record = (*RollbackRecord)(nil)
)

// LogEntry wraps either record kind when listing history
type LogEntry struct {
	Kind       RecordKind        `json:"type"`
	Deployment *DeploymentRecord `json:"deployment,omitempty"`
	Rollback   *RollbackRecord   `json:"rollback,omitempty"`
}

// NewLogEntry wraps a record
func NewLogEntry(r Record) LogEntry {
	switch rec := r.(type) {
	case *DeploymentRecord:
		return LogEntry{Kind: RECORD_KIND_DEPLOYMENT, Deployment: rec}
	case *RollbackRecord:
		return LogEntry{Kind: RECORD_KIND_ROLLBACK, Rollback: rec}
	}
	return LogEntry{}
}

// Record returns the wrapped record
func (e LogEntry) Record() Record {
	if e.Deployment != nil {
		return e.Deployment
	}
	if e.Rollback != nil {
		return e.Rollback
	}
	return nil
}

func (e LogEntry) Timestamp() time.Time {
	if r := e.Record(); r != nil {
		return r.RecordedAt()
	}
	return time.Time{}
}

// ListFilter narrows a history listing
type ListFilter struct {
	Group string
	Kind  RecordKind
	Limit int
}

// Matches reports whether the entry passes the filter (Limit is applied by the caller)
func (f ListFilter) Matches(e LogEntry) bool {
	r := e.Record()
	if r == nil {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Group != "" && r.Group() != f.Group {
		return false
	}
	return true
}
