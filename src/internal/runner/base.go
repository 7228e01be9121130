package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/builder"
	"github.com/gh-nvat/bluegreen/src/pkg/config"
	"github.com/gh-nvat/bluegreen/src/pkg/confirm"
	"github.com/gh-nvat/bluegreen/src/pkg/deploylog"
	"github.com/gh-nvat/bluegreen/src/pkg/github"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/policy"
	"github.com/gh-nvat/bluegreen/src/pkg/poll"
	"github.com/gh-nvat/bluegreen/src/pkg/registry"
	"github.com/gh-nvat/bluegreen/src/pkg/storage"
	"github.com/gh-nvat/bluegreen/src/pkg/trace"
	"github.com/gh-nvat/bluegreen/src/pkg/traffic"
	"github.com/gh-nvat/bluegreen/src/pkg/verify"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "runner")

const (
	STAGE_LOCK          = "lock"
	STAGE_PREFLIGHT     = "preflight"
	STAGE_TESTS         = "tests"
	STAGE_BUILD         = "build"
	STAGE_PUBLISH       = "publish"
	STAGE_VERIFY        = "verify"
	STAGE_SWITCH        = "switch"
	STAGE_PROPAGATION   = "propagation"
	STAGE_ACTIVE_VERIFY = "active-verify"
	STAGE_RECORD        = "record"
)

// Dependencies are the collaborators of a run.
// Builder and Publisher are only needed for deploys; Policy, CDN, Distributions and Tracker are optional.
type Dependencies struct {
	Config        *config.Config
	Layout        registry.Layout
	Registry      registry.Registry
	Gateway       traffic.Gateway
	Builder       builder.ArtifactBuilder
	Publisher     storage.Publisher
	Verifier      verify.Verifier
	Log           deploylog.Store
	Confirmer     confirm.Confirmer
	Policy        policy.PolicyEvaluator
	Source        func(dir string) (*builder.SourceInfo, error)
	CDN           traffic.CloudFrontAPI
	Distributions traffic.DistributionResolver
	Tracker       *github.Tracker
}

type RunnerBase struct {
	Deps    Dependencies
	Options *Options

	out   io.Writer
	now   func() time.Time
	newID func() string
}

func newRunnerBase(deps Dependencies, options *Options) (*RunnerBase, error) {
	if deps.Config == nil || deps.Registry == nil || deps.Gateway == nil {
		return nil, fmt.Errorf("config, registry and gateway are required")
	}
	if deps.Verifier == nil || deps.Log == nil || deps.Confirmer == nil {
		return nil, fmt.Errorf("verifier, deployment log and confirmer are required")
	}
	if options == nil || options.Group == "" {
		return nil, fmt.Errorf("group is required")
	}
	if deps.Source == nil {
		deps.Source = builder.ReadSourceInfo
	}
	return &RunnerBase{
		Deps:    deps,
		Options: options,
		out:     os.Stdout,
		now:     deploylog.Now,
		newID:   uuid.NewString,
	}, nil
}

// SetOutput redirects operator progress output
func (r *RunnerBase) SetOutput(w io.Writer) {
	r.out = w
}

func (r *RunnerBase) begin(kind models.RecordKind) *models.PipelineOutcome {
	return &models.PipelineOutcome{
		RunID: r.newID(),
		Kind:  kind,
		Group: r.Options.Group,
		State: models.STATE_IDLE,
	}
}

func (r *RunnerBase) transition(o *models.PipelineOutcome, to models.State) {
	logger.WithFields(log.Fields{"run": o.RunID, "from": o.State, "to": to}).Debug("State transition")
	o.State = to
}

// acquire takes the group lease; the run fails without a record when it cannot
func (r *RunnerBase) acquire(ctx context.Context, o *models.PipelineOutcome) (*registry.Lease, bool) {
	owner := r.Options.Owner
	if owner == "" {
		owner = o.RunID
	}
	lease, err := r.Deps.Registry.AcquireLease(ctx, o.Group, owner, r.Deps.Config.Registry.LeaseTTL)
	if err != nil {
		remediation := "check registry connectivity and credentials, then retry"
		if errors.Is(err, registry.ErrLeaseHeld) {
			remediation = "another run owns this group; wait for it to finish or for its lease to expire"
		}
		r.report(o, models.FailedStage(STAGE_LOCK, err, "could not lock group "+o.Group, remediation))
		r.fail(o, err)
		return nil, false
	}
	return lease, true
}

func (r *RunnerBase) release(ctx context.Context, lease *registry.Lease) {
	if lease == nil {
		return
	}
	if err := r.Deps.Registry.ReleaseLease(context.WithoutCancel(ctx), lease); err != nil {
		logger.WithError(err).WithField("group", lease.Group).Warn("Failed to release lease")
	}
}

// stage runs fn inside a span and reports the result the moment it finishes
func (r *RunnerBase) stage(ctx context.Context, o *models.PipelineOutcome, name string, fn func(ctx context.Context) models.StageResult) models.StageResult {
	ctx, span := trace.StartSpan(ctx, string(o.Kind)+"."+name,
		attribute.String("group", o.Group),
		attribute.String("run", o.RunID),
	)
	res := fn(ctx)
	res.Stage = name
	err := res.Err
	if !res.Success && err == nil {
		err = errors.New(res.Details)
	}
	trace.EndSpan(span, err)
	r.report(o, res)
	return res
}

func (r *RunnerBase) report(o *models.PipelineOutcome, res models.StageResult) {
	o.Stages = append(o.Stages, res)
	if res.Success {
		fmt.Fprintf(r.out, "✅ %s: %s\n", res.Stage, res.Details)
		return
	}
	fmt.Fprintf(r.out, "❌ %s: %s\n", res.Stage, res.Details)
	if res.Err != nil {
		fmt.Fprintf(r.out, "   %v\n", res.Err)
	}
	if res.Remediation != "" {
		fmt.Fprintf(r.out, "💡 %s\n", res.Remediation)
	}
}

// gate asks the operator; a prompt error counts as a decline
func (r *RunnerBase) gate(ctx context.Context, message string) bool {
	ok, err := r.Deps.Confirmer.Confirm(ctx, message)
	if err != nil {
		logger.WithError(err).Warn("Confirmation failed, treating as decline")
		fmt.Fprintf(r.out, "⚠️  Could not read confirmation (%v), treating as no\n", err)
		return false
	}
	return ok
}

func (r *RunnerBase) abort(o *models.PipelineOutcome) *models.PipelineOutcome {
	fmt.Fprintln(r.out, "🛑 Aborted by operator, nothing recorded")
	r.transition(o, models.STATE_ABORTED)
	o.Err = ErrAborted
	return o
}

func (r *RunnerBase) fail(o *models.PipelineOutcome, err error) *models.PipelineOutcome {
	r.transition(o, models.STATE_FAILED)
	o.Err = err
	return o
}

// verifyStage runs the smoke checklist against baseURL
func (r *RunnerBase) verifyStage(ctx context.Context, o *models.PipelineOutcome, name, baseURL string) models.StageResult {
	return r.stage(ctx, o, name, func(ctx context.Context) models.StageResult {
		result := r.Deps.Verifier.Verify(ctx, baseURL, r.Deps.Config.Verify.Checklist)
		if result.Passed {
			return models.SucceededStage(name, fmt.Sprintf("%d checks passed against %s", len(result.Checks), baseURL))
		}
		failures := result.Failures()
		lines := make([]string, 0, len(failures))
		for _, c := range failures {
			lines = append(lines, fmt.Sprintf("%s (%s)", c.Name, c.Detail))
		}
		return models.FailedStage(name,
			fmt.Errorf("%d of %d checks failed", len(failures), len(result.Checks)),
			strings.Join(lines, "; "),
			"inspect "+baseURL+" and fix the failing checks",
		)
	})
}

// switchTo points traffic at color and waits for the edge.
// The registry is consulted first so an already-active color is not flipped again, unless the run is forced.
// A skipped switch issues nothing, so there is nothing to wait for or invalidate.
func (r *RunnerBase) switchTo(ctx context.Context, o *models.PipelineOutcome, color models.Color) models.StageResult {
	group := o.Group
	skipped := false
	res := r.stage(ctx, o, STAGE_SWITCH, func(ctx context.Context) models.StageResult {
		active, err := r.Deps.Registry.ActiveColor(ctx, group)
		if err == nil && active == color && !r.Options.Force {
			skipped = true
			return models.SucceededStage(STAGE_SWITCH, fmt.Sprintf("%s already serves %s, switch skipped", color, group))
		}
		fmt.Fprintf(r.out, "🔄 Switching %s to %s\n", group, color)
		if err := r.Deps.Gateway.SwitchTo(ctx, group, color); err != nil {
			return models.FailedStage(STAGE_SWITCH, err,
				"traffic switch to "+string(color)+" failed",
				"traffic still points at the previous color; check the switch function and retry",
			)
		}
		return models.SucceededStage(STAGE_SWITCH, fmt.Sprintf("public traffic of %s now points at %s", group, color))
	})
	if !res.Success || skipped {
		return res
	}

	res = r.stage(ctx, o, STAGE_PROPAGATION, func(ctx context.Context) models.StageResult {
		target, err := r.Deps.Gateway.PropagationTarget(ctx, group)
		if err != nil {
			return models.FailedStage(STAGE_PROPAGATION, err,
				"could not resolve what to poll for propagation",
				"the switch was issued; check the distribution of "+group+" and verify routing manually",
			)
		}
		p := r.Deps.Config.Propagation
		fmt.Fprintf(r.out, "⏳ Waiting for %s to propagate (up to %d checks)\n", target, p.MaxAttempts)
		if err := r.Deps.Gateway.WaitUntilPropagated(ctx, target, p.MaxAttempts, p.Interval); err != nil {
			var timeout *poll.TimeoutError
			if errors.As(err, &timeout) {
				return models.FailedStage(STAGE_PROPAGATION, err,
					"switch issued but propagation did not settle in time",
					"routing state is unknown; inspect "+target+" and the registry manually before retrying",
				)
			}
			return models.FailedStage(STAGE_PROPAGATION, err,
				"propagation status could not be read",
				"routing state is unknown; inspect "+target+" manually",
			)
		}
		return models.SucceededStage(STAGE_PROPAGATION, target+" settled")
	})
	if res.Success {
		r.invalidate(ctx, group)
	}
	return res
}

// invalidate flushes the CDN of production-like groups, best-effort
func (r *RunnerBase) invalidate(ctx context.Context, group string) {
	if r.Deps.CDN == nil || r.Deps.Distributions == nil || !r.Deps.Layout.IsProduction(group) {
		return
	}
	id, err := r.Deps.Distributions(ctx, group)
	if err == nil {
		_, err = traffic.Invalidate(ctx, r.Deps.CDN, id, "/*")
	}
	if err != nil {
		logger.WithError(err).WithField("group", group).Warn("CDN invalidation failed")
		fmt.Fprintf(r.out, "⚠️  CDN invalidation failed: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "🧹 Invalidated CDN cache %s\n", id)
}

// record appends rec to the deployment log
func (r *RunnerBase) record(ctx context.Context, rec models.Record) error {
	if err := r.Deps.Log.Append(context.WithoutCancel(ctx), rec); err != nil {
		logger.WithError(err).WithField("kind", rec.Kind()).Error("Failed to append record")
		fmt.Fprintf(r.out, "⚠️  Failed to write %s record: %v\n", rec.Kind(), err)
		return fmt.Errorf("failed to write %s record: %w", rec.Kind(), err)
	}
	fmt.Fprintf(r.out, "📋 Recorded %s for %s\n", rec.Kind(), rec.Group())
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
