package builder

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// CommandResult captures the outcome of an external process
type CommandResult struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (r CommandResult) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// CommandRunner runs an external process in a directory
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) CommandResult
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Env []string
}

// Ensure ExecRunner implements CommandRunner
var _ CommandRunner = (*ExecRunner)(nil)

func (e *ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) CommandResult {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Command: strings.TrimSpace(name + " " + strings.Join(args, " ")),
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Err:     err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		result.ExitCode = -1
	}
	return result
}

// splitCommand turns "npm run build:prod" into a program and its arguments
func splitCommand(command string) (string, []string, bool) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}
