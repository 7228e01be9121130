package deploylog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
)

const DEFAULT_LOG_DIR = "deployment-logs"

// FileStore keeps one JSON file per record in a directory
type FileStore struct {
	dir string
}

// Ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// NewFileStore creates a new file-backed store
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DEFAULT_LOG_DIR
	}
	return &FileStore{dir: dir}
}

func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) Append(ctx context.Context, rec models.Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	name := ObjectName(rec)
	base := strings.TrimSuffix(name, ".json")
	for i := 0; i < 100; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d.json", base, i)
		}
		path := filepath.Join(f.dir, candidate)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create record file: %w", err)
		}
		if _, err := file.Write(data); err != nil {
			_ = file.Close()
			return fmt.Errorf("failed to write record file: %w", err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("failed to close record file: %w", err)
		}
		logger.WithField("path", path).Info("Appended record")
		return nil
	}
	return fmt.Errorf("failed to allocate a unique file name for %s", name)
}

func (f *FileStore) FindLastSuccessfulDeployment(ctx context.Context, match func(*models.DeploymentRecord) bool) (*models.DeploymentRecord, error) {
	entries, err := f.readAll(models.RECORD_KIND_DEPLOYMENT)
	if err != nil {
		return nil, err
	}
	return lastSuccessful(entries, match)
}

func (f *FileStore) List(ctx context.Context, filter models.ListFilter) ([]models.LogEntry, error) {
	entries, err := f.readAll(filter.Kind)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(entries)
	return applyFilter(entries, filter), nil
}

func (f *FileStore) readAll(only models.RecordKind) ([]models.LogEntry, error) {
	dirEntries, err := os.ReadDir(f.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	var entries []models.LogEntry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		kind, ok := KindFromName(de.Name())
		if !ok || (only != "" && kind != only) {
			continue
		}
		path := filepath.Join(f.dir, de.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %s: %w", path, err)
		}
		entry, err := Decode(kind, data)
		if err != nil {
			logger.WithField("path", path).WithError(err).Warn("Skipping unreadable record")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
