package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/gh-nvat/bluegreen/src/pkg/deploylog"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
)

// RollbackRunner returns a group to the color it was on before its last deployment
type RollbackRunner struct {
	*RunnerBase
}

// Ensure RollbackRunner implements Pipeline
var _ Pipeline = (*RollbackRunner)(nil)

// NewRollbackRunner creates a new rollback pipeline
func NewRollbackRunner(deps Dependencies, options *Options) (*RollbackRunner, error) {
	base, err := newRunnerBase(deps, options)
	if err != nil {
		return nil, err
	}
	if c := options.TargetColor; c != "" && !c.Valid() {
		return nil, fmt.Errorf("invalid rollback target %q", c)
	}
	return &RollbackRunner{RunnerBase: base}, nil
}

func (r *RollbackRunner) Run(ctx context.Context) *models.PipelineOutcome {
	o := r.begin(models.RECORD_KIND_ROLLBACK)
	group := o.Group
	fmt.Fprintf(r.out, "🔄 Rollback of %s (run %s)\n", group, o.RunID)

	lease, ok := r.acquire(ctx, o)
	if !ok {
		return o
	}
	defer r.release(ctx, lease)

	active, err := r.Deps.Registry.ActiveColor(ctx, group)
	if err != nil {
		r.report(o, models.FailedStage(STAGE_REGISTRY, err, "could not read the active color of "+group, "check the registry before rolling back"))
		return r.fail(o, err)
	}
	o.PreviousLive = active

	target, source, err := r.resolveTarget(ctx, group, active)
	if err != nil {
		r.report(o, models.FailedStage(STAGE_REGISTRY, err, "could not read deployment history", "check the deployment log backend, or pass --to <color>"))
		return r.fail(o, err)
	}
	o.Target = target
	fmt.Fprintf(r.out, "📋 %s is live on %s, rolling back to %s\n", group, active, target)

	if target == active && !r.Options.Force {
		r.report(o, models.FailedStage(STAGE_SWITCH, ErrNoopRollback,
			fmt.Sprintf("%s already serves %s", active, group),
			"nothing to roll back; pass --force to re-issue the switch anyway",
		))
		return r.fail(o, ErrNoopRollback)
	}

	if !r.Options.Force {
		if !r.gate(ctx, fmt.Sprintf("Are you sure you want to rollback %s to the %s environment?", group, target)) {
			return r.abort(o)
		}
	}
	r.transition(o, models.STATE_CONFIRMED)

	if source != nil {
		r.Deps.Tracker.Start(ctx, source.Commit, fmt.Sprintf("%s-%s", group, target), "rollback "+o.RunID)
		defer func() {
			r.Deps.Tracker.Finish(context.WithoutCancel(ctx), o.Succeeded(), string(o.State), r.Deps.Layout.PublicURL(group))
		}()
	}

	if err := r.revert(ctx, o, active, target, source); err == nil {
		fmt.Fprintf(r.out, "🎉 %s rolled back to %s\n", group, target)
	}
	return o
}

// resolveTarget picks the explicit target, else the newest successful deployment
// to a color other than active, else the other color
func (r *RollbackRunner) resolveTarget(ctx context.Context, group string, active models.Color) (models.Color, *models.DeploymentRecord, error) {
	if explicit := r.Options.TargetColor; explicit != "" {
		source, err := r.Deps.Log.FindLastSuccessfulDeployment(ctx, func(d *models.DeploymentRecord) bool {
			return d.Environment == group && d.DeployedTo == explicit
		})
		if err != nil && !errors.Is(err, deploylog.ErrNoRecord) {
			return "", nil, err
		}
		return explicit, source, nil
	}

	source, err := r.Deps.Log.FindLastSuccessfulDeployment(ctx, deploylog.ForGroupExcluding(group, active))
	if errors.Is(err, deploylog.ErrNoRecord) {
		logger.WithField("group", group).Warn("No usable deployment history, falling back to the other color")
		fmt.Fprintf(r.out, "⚠️  No previous successful deployment of %s found, falling back to %s\n", group, active.Other())
		return active.Other(), nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return source.DeployedTo, source, nil
}

// revert switches traffic back, re-verifies and appends a RollbackRecord.
// A failing re-verification marks the record unsuccessful but never rolls again.
func (r *RunnerBase) revert(ctx context.Context, o *models.PipelineOutcome, from, target models.Color, source *models.DeploymentRecord) error {
	o.PreviousLive, o.Target = from, target
	rec := &models.RollbackRecord{
		ID:             o.RunID,
		Environment:    o.Group,
		RolledBackTo:   target,
		RolledBackFrom: from,
	}
	if source != nil {
		rec.Version = source.Version
		rec.Commit = source.Commit
	}

	if res := r.switchTo(ctx, o, target); !res.Success {
		return r.finishRollback(ctx, o, rec, res.Err)
	}
	r.transition(o, models.STATE_SWITCHED)

	if r.Options.SkipVerification {
		fmt.Fprintln(r.out, "⚠️  Post-rollback verification skipped")
	} else if res := r.verifyStage(ctx, o, STAGE_ACTIVE_VERIFY, r.Deps.Layout.PublicURL(o.Group)); !res.Success {
		return r.finishRollback(ctx, o, rec, fmt.Errorf("post-rollback verification failed: %w", res.Err))
	}
	r.transition(o, models.STATE_ACTIVE_VERIFIED)
	return r.finishRollback(ctx, o, rec, nil)
}

func (r *RunnerBase) finishRollback(ctx context.Context, o *models.PipelineOutcome, rec *models.RollbackRecord, cause error) error {
	rec.Timestamp = r.now()
	rec.Success = cause == nil
	rec.Error = errString(cause)
	if err := r.record(ctx, rec); err != nil && cause == nil {
		r.report(o, models.FailedStage(STAGE_RECORD, err, "traffic rolled back but the log was not written", "append the rollback record manually"))
		cause = err
	}
	if cause != nil {
		r.fail(o, cause)
		return cause
	}
	r.transition(o, models.STATE_RECORDED)
	return nil
}
