package deploylog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "deploylog")

// ErrNoRecord is returned when no record satisfies a lookup
var ErrNoRecord = errors.New("no matching deployment record")

// Store is an append-only log of deployment and rollback records
type Store interface {
	// Append persists a new record; existing records are never rewritten
	Append(ctx context.Context, rec models.Record) error
	// FindLastSuccessfulDeployment returns the newest successful deployment accepted by match
	FindLastSuccessfulDeployment(ctx context.Context, match func(*models.DeploymentRecord) bool) (*models.DeploymentRecord, error)
	// List returns entries newest first
	List(ctx context.Context, filter models.ListFilter) ([]models.LogEntry, error)
}

// timestampLayout keeps millisecond precision like ISO-8601 with a Z suffix
const timestampLayout = "2006-01-02T15:04:05.000Z"

// ObjectName is the file or key name of a record: <kind>-<ISO timestamp with ':' replaced by '-'>.json
func ObjectName(rec models.Record) string {
	ts := rec.RecordedAt().UTC().Format(timestampLayout)
	return fmt.Sprintf("%s-%s.json", rec.Kind(), strings.ReplaceAll(ts, ":", "-"))
}

// KindFromName recovers the record kind from an object name
func KindFromName(name string) (models.RecordKind, bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", false
	}
	for _, k := range []models.RecordKind{models.RECORD_KIND_DEPLOYMENT, models.RECORD_KIND_ROLLBACK} {
		if strings.HasPrefix(name, string(k)+"-") {
			return k, true
		}
	}
	return "", false
}

// Encode renders a record as indented JSON
func Encode(rec models.Record) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record: %w", rec.Kind(), err)
	}
	return data, nil
}

// Decode parses a record of the given kind
func Decode(kind models.RecordKind, data []byte) (models.LogEntry, error) {
	switch kind {
	case models.RECORD_KIND_DEPLOYMENT:
		var rec models.DeploymentRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return models.LogEntry{}, fmt.Errorf("failed to decode deployment record: %w", err)
		}
		return models.NewLogEntry(&rec), nil
	case models.RECORD_KIND_ROLLBACK:
		var rec models.RollbackRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return models.LogEntry{}, fmt.Errorf("failed to decode rollback record: %w", err)
		}
		return models.NewLogEntry(&rec), nil
	}
	return models.LogEntry{}, fmt.Errorf("unknown record kind %q", kind)
}

// validate rejects records that would corrupt the log
func validate(rec models.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if rec.Group() == "" {
		return fmt.Errorf("%s record has no environment group", rec.Kind())
	}
	if rec.RecordedAt().IsZero() {
		return fmt.Errorf("%s record has no timestamp", rec.Kind())
	}
	return nil
}

// sortNewestFirst orders entries by timestamp, newest first
func sortNewestFirst(entries []models.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp().After(entries[j].Timestamp())
	})
}

// applyFilter filters and limits entries already sorted newest first
func applyFilter(entries []models.LogEntry, filter models.ListFilter) []models.LogEntry {
	out := make([]models.LogEntry, 0, len(entries))
	for _, e := range entries {
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// lastSuccessful scans entries newest first for a successful deployment accepted by match
func lastSuccessful(entries []models.LogEntry, match func(*models.DeploymentRecord) bool) (*models.DeploymentRecord, error) {
	sortNewestFirst(entries)
	for _, e := range entries {
		d := e.Deployment
		if d == nil || !d.Success {
			continue
		}
		if match == nil || match(d) {
			return d, nil
		}
	}
	return nil, ErrNoRecord
}

// ForGroupExcluding matches deployments of group whose color differs from exclude
func ForGroupExcluding(group string, exclude models.Color) func(*models.DeploymentRecord) bool {
	return func(d *models.DeploymentRecord) bool {
		return d.Environment == group && d.DeployedTo != exclude
	}
}

// Now is the clock used when stamping records
var Now = func() time.Time { return time.Now().UTC() }
