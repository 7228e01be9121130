package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "builder")

const (
	BUILD_INFO_FILE = "build-info.json"

	DEFAULT_PRODUCTION_BUILD = "npm run build:prod"
	DEFAULT_STAGING_BUILD    = "npm run build:staging"
	DEFAULT_OUTPUT_DIR       = "build"
	DEFAULT_MANIFEST         = "package.json"
)

// DefaultTestCommands run in order; the first failure fails the test step
var DefaultTestCommands = []string{"npm test", "npm run test:integration"}

// Options configures one build
type Options struct {
	Group     string
	WorkDir   string
	Command   string
	OutputDir string
	Manifest  string
}

// ArtifactBuilder produces a stamped build artifact
type ArtifactBuilder interface {
	// Build runs the external build and stamps the artifact; failures are never retried
	Build(ctx context.Context, opts Options) (*models.BuildResult, error)
	// Test runs the test commands in order and stops at the first failure
	Test(ctx context.Context, workDir string, commands []string) (*CommandResult, error)
}

// Builder runs builds through a CommandRunner
type Builder struct {
	runner CommandRunner
	now    func() time.Time
}

// Ensure Builder implements ArtifactBuilder
var _ ArtifactBuilder = (*Builder)(nil)

// NewBuilder creates a new artifact builder
func NewBuilder(runner CommandRunner) *Builder {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &Builder{runner: runner, now: time.Now}
}

func (o Options) withDefaults() Options {
	if o.WorkDir == "" {
		o.WorkDir = "."
	}
	if o.Command == "" {
		o.Command = DEFAULT_STAGING_BUILD
	}
	if o.OutputDir == "" {
		o.OutputDir = DEFAULT_OUTPUT_DIR
	}
	if o.Manifest == "" {
		o.Manifest = DEFAULT_MANIFEST
	}
	return o
}

func (b *Builder) Build(ctx context.Context, opts Options) (*models.BuildResult, error) {
	opts = opts.withDefaults()
	result := &models.BuildResult{Timestamp: b.now().UTC()}

	name, args, ok := splitCommand(opts.Command)
	if !ok {
		return result, fmt.Errorf("empty build command")
	}

	logger.WithField("command", opts.Command).WithField("dir", opts.WorkDir).Info("Running build")
	run := b.runner.Run(ctx, opts.WorkDir, name, args...)
	result.Stdout = run.Stdout
	result.Stderr = run.Stderr
	if !run.Success() {
		return result, fmt.Errorf("build command %q failed (exit %d): %v", run.Command, run.ExitCode, run.Err)
	}

	version, err := ReadManifestVersion(filepath.Join(opts.WorkDir, opts.Manifest))
	if err != nil {
		return result, fmt.Errorf("failed to stamp version: %w", err)
	}
	result.Version = version

	if src, err := ReadSourceInfo(opts.WorkDir); err != nil {
		logger.WithError(err).Warn("Source control metadata unavailable, stamping as unknown")
		result.Commit = "unknown"
		result.Branch = "unknown"
	} else {
		result.Commit = src.Commit
		result.Branch = src.Branch
	}

	result.ArtifactPath = filepath.Join(opts.WorkDir, opts.OutputDir)
	if err := writeBuildInfo(result, opts.Group); err != nil {
		return result, err
	}

	result.Success = true
	logger.WithField("version", result.Version).WithField("commit", result.Commit).Info("Build stamped")
	return result, nil
}

func writeBuildInfo(result *models.BuildResult, group string) error {
	if err := os.MkdirAll(result.ArtifactPath, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	info := models.BuildInfo{
		Version:     result.Version,
		Timestamp:   result.Timestamp,
		Commit:      result.Commit,
		Branch:      result.Branch,
		Environment: group,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode build info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(result.ArtifactPath, BUILD_INFO_FILE), data, 0644); err != nil {
		return fmt.Errorf("failed to write build info: %w", err)
	}
	return nil
}

func (b *Builder) Test(ctx context.Context, workDir string, commands []string) (*CommandResult, error) {
	if workDir == "" {
		workDir = "."
	}
	var last CommandResult
	for _, command := range commands {
		name, args, ok := splitCommand(command)
		if !ok {
			continue
		}
		logger.WithField("command", command).Info("Running tests")
		last = b.runner.Run(ctx, workDir, name, args...)
		if !last.Success() {
			return &last, fmt.Errorf("test command %q failed (exit %d)", strings.TrimSpace(command), last.ExitCode)
		}
	}
	return &last, nil
}
