package runner

import (
	"context"
	"errors"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
)

var (
	// ErrAborted is set on the outcome when the operator declines a gate
	ErrAborted = errors.New("aborted by operator")
	// ErrNoopRollback refuses a rollback onto the color that is already live
	ErrNoopRollback = errors.New("rollback target is already the active color")
)

// Pipeline is one deploy or rollback run against a group
type Pipeline interface {
	// Run drives the state machine to a terminal state; errors are carried on the outcome
	Run(ctx context.Context) *models.PipelineOutcome
}
