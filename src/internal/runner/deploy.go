package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gh-nvat/bluegreen/src/pkg/builder"
	"github.com/gh-nvat/bluegreen/src/pkg/github"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/policy"
)

const (
	STAGE_REGISTRY = "registry"

	BACKUP_SUFFIX      = "-backup"
	BACKUP_TIME_LAYOUT = "20060102T150405Z"
	STDERR_TAIL_LINES  = 5
)

// DeployRunner drives one blue-green deployment of a group
type DeployRunner struct {
	*RunnerBase
}

// Ensure DeployRunner implements Pipeline
var _ Pipeline = (*DeployRunner)(nil)

// NewDeployRunner creates a new deploy pipeline
func NewDeployRunner(deps Dependencies, options *Options) (*DeployRunner, error) {
	base, err := newRunnerBase(deps, options)
	if err != nil {
		return nil, err
	}
	if deps.Builder == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("builder and publisher are required for deploys")
	}
	return &DeployRunner{RunnerBase: base}, nil
}

func (r *DeployRunner) Run(ctx context.Context) *models.PipelineOutcome {
	o := r.begin(models.RECORD_KIND_DEPLOYMENT)
	group := o.Group
	fmt.Fprintf(r.out, "🚀 Blue-green deployment of %s (run %s)\n", group, o.RunID)

	lease, ok := r.acquire(ctx, o)
	if !ok {
		return o
	}
	defer r.release(ctx, lease)

	active, err := r.Deps.Registry.ActiveColor(ctx, group)
	if err != nil {
		r.report(o, models.FailedStage(STAGE_REGISTRY, err, "could not read the active color of "+group, "check the registry before deploying"))
		return r.fail(o, err)
	}
	o.PreviousLive = active
	o.Target = active.Other()
	fmt.Fprintf(r.out, "📋 %s is live on %s, the new build goes to %s\n", group, active, o.Target)

	src := r.sourceInfo()
	if r.Deps.Layout.IsProduction(group) {
		if res := r.preflight(ctx, o, src); !res.Success {
			return r.failRecorded(ctx, o, res.Err)
		}
	}

	// Idle -> Confirmed
	if !r.gate(ctx, fmt.Sprintf("Deploy to the %s environment of %s?", o.Target, group)) {
		return r.abort(o)
	}
	r.transition(o, models.STATE_CONFIRMED)

	if src != nil {
		r.Deps.Tracker.Start(ctx, src.Commit, fmt.Sprintf("%s-%s", group, o.Target), "blue-green deploy "+o.RunID)
		defer func() {
			r.Deps.Tracker.Finish(context.WithoutCancel(ctx), o.Succeeded(), string(o.State), r.Deps.Layout.PublicURL(group))
		}()
	}

	// Confirmed -> Tested
	if r.Options.SkipTests {
		fmt.Fprintln(r.out, "⚠️  Tests skipped")
	} else if res := r.testStage(ctx, o); !res.Success {
		if !r.gate(ctx, "Tests failed. Do you want to proceed anyway?") {
			return r.abort(o)
		}
		fmt.Fprintln(r.out, "⚠️  Proceeding with failing tests at operator request")
	}
	r.transition(o, models.STATE_TESTED)

	// Tested -> Built
	if res := r.buildStage(ctx, o); !res.Success {
		return r.failRecorded(ctx, o, res.Err)
	}
	r.transition(o, models.STATE_BUILT)

	// Built -> Deployed
	if res := r.publishStage(ctx, o); !res.Success {
		return r.failRecorded(ctx, o, res.Err)
	}
	r.transition(o, models.STATE_DEPLOYED)

	// Deployed -> Verified
	if r.Options.SkipVerification {
		fmt.Fprintln(r.out, "⚠️  Verification skipped")
	} else if res := r.verifyStage(ctx, o, STAGE_VERIFY, r.Deps.Layout.IdleURL(group, o.Target)); !res.Success {
		if !r.gate(ctx, "Verification failed. Do you want to proceed with the switch anyway?") {
			return r.abort(o)
		}
		fmt.Fprintln(r.out, "⚠️  Proceeding with failing verification at operator request")
	}
	r.transition(o, models.STATE_VERIFIED)

	// Verified -> SwitchConfirmed
	// Without an operator only --auto-switch may move live traffic
	switch {
	case r.Options.AutoSwitch:
	case r.Options.NonInteractive:
		fmt.Fprintf(r.out, "ℹ️  Deployed to %s but it is not receiving traffic; pass --auto-switch to switch without a prompt\n", o.Target)
		return r.abort(o)
	case !r.gate(ctx, fmt.Sprintf("Switch live traffic of %s from %s to %s?", group, o.PreviousLive, o.Target)):
		fmt.Fprintf(r.out, "ℹ️  Deployed to %s but it is not receiving traffic\n", o.Target)
		return r.abort(o)
	}
	r.transition(o, models.STATE_SWITCH_CONFIRMED)

	// SwitchConfirmed -> Switched
	if res := r.switchTo(ctx, o, o.Target); !res.Success {
		return r.failRecorded(ctx, o, res.Err)
	}
	r.transition(o, models.STATE_SWITCHED)

	// Switched -> ActiveVerified
	var accepted error
	if r.Options.SkipVerification {
		fmt.Fprintln(r.out, "⚠️  Active verification skipped")
	} else if res := r.verifyStage(ctx, o, STAGE_ACTIVE_VERIFY, r.Deps.Layout.PublicURL(group)); !res.Success {
		if r.gate(ctx, fmt.Sprintf("Active verification failed. Do you want to rollback to the %s environment?", o.PreviousLive)) {
			return r.rollbackAfterFailure(ctx, o, res.Err)
		}
		accepted = fmt.Errorf("post-switch verification failed (accepted by operator): %w", res.Err)
	}
	r.transition(o, models.STATE_ACTIVE_VERIFIED)

	// ActiveVerified -> Recorded
	if err := r.record(ctx, r.deploymentRecord(o, true, accepted)); err != nil {
		r.report(o, models.FailedStage(STAGE_RECORD, err, "traffic switched but the deployment log was not written", "append the record manually so rollback can find it"))
		return r.fail(o, err)
	}
	r.transition(o, models.STATE_RECORDED)
	fmt.Fprintf(r.out, "🎉 %s is live on %s at %s\n", group, o.Target, r.Deps.Layout.PublicURL(group))
	return o
}

func (r *DeployRunner) sourceInfo() *builder.SourceInfo {
	src, err := r.Deps.Source(r.workDir())
	if err != nil {
		logger.WithError(err).Warn("Source control metadata unavailable")
		return nil
	}
	return src
}

func (r *DeployRunner) workDir() string {
	if r.Options.WorkDir == "" {
		return "."
	}
	return r.Options.WorkDir
}

// preflight guards production-like groups: clean tree, then policies
func (r *DeployRunner) preflight(ctx context.Context, o *models.PipelineOutcome, src *builder.SourceInfo) models.StageResult {
	return r.stage(ctx, o, STAGE_PREFLIGHT, func(ctx context.Context) models.StageResult {
		if src == nil && !r.Options.Force {
			return models.FailedStage(STAGE_PREFLIGHT, errors.New("source tree state unknown"),
				"could not read the git state of "+r.workDir(),
				"deploy production from a git checkout, or pass --force",
			)
		}
		if src != nil && src.Dirty && !r.Options.Force {
			return models.FailedStage(STAGE_PREFLIGHT, errors.New("working tree has uncommitted changes"),
				"refusing to deploy a dirty tree to "+o.Group,
				"commit or stash your changes, or pass --force",
			)
		}

		if r.Deps.Policy == nil || len(r.Deps.Config.Policy.Policies) == 0 {
			return models.SucceededStage(STAGE_PREFLIGHT, "source tree clean, no policies configured")
		}
		plan := policy.Plan{
			Group:            o.Group,
			Color:            string(o.Target),
			SkipTests:        r.Options.SkipTests,
			SkipVerification: r.Options.SkipVerification,
			AutoSwitch:       r.Options.AutoSwitch,
			Force:            r.Options.Force,
			Time:             r.now(),
		}
		if src != nil {
			plan.Commit, plan.Branch, plan.Dirty = src.Commit, src.Branch, src.Dirty
		}
		if version, err := builder.ReadManifestVersion(filepath.Join(r.workDir(), r.Deps.Config.Build.Manifest)); err == nil {
			plan.Version = version
		}

		result, err := r.Deps.Policy.Evaluate(ctx, plan, r.Deps.Config.Policy)
		if err != nil {
			return models.FailedStage(STAGE_PREFLIGHT, err, "policy evaluation failed", "check the policy directory and rego files")
		}
		overrides := policy.Overrides(r.Options.PolicyOverrides)
		r.Deps.Policy.ApplyOverrides(result, overrides)
		for _, line := range policy.NewReporter().GenerateReport(result).Lines() {
			fmt.Fprintln(r.out, line)
		}
		enforcement := r.Deps.Policy.Enforce(result, overrides)
		if enforcement.ShouldBlock {
			return models.FailedStage(STAGE_PREFLIGHT, errors.New("blocked by deployment policy"),
				enforcement.Summary,
				"fix the violations or pass --override-policy <id> for an approved exception",
			)
		}
		if enforcement.ShouldWarn {
			fmt.Fprintf(r.out, "⚠️  %s\n", enforcement.Summary)
		}
		return models.SucceededStage(STAGE_PREFLIGHT, enforcement.Summary)
	})
}

func (r *DeployRunner) testStage(ctx context.Context, o *models.PipelineOutcome) models.StageResult {
	return r.stage(ctx, o, STAGE_TESTS, func(ctx context.Context) models.StageResult {
		res, err := r.Deps.Builder.Test(ctx, r.workDir(), r.Deps.Config.Build.TestCommands)
		if err != nil {
			details := "test suite failed"
			if res != nil {
				details = tail(res.Stderr+res.Stdout, STDERR_TAIL_LINES)
			}
			return models.FailedStage(STAGE_TESTS, err, details, "fix the failing tests, or confirm to ship a hotfix anyway")
		}
		return models.SucceededStage(STAGE_TESTS, fmt.Sprintf("%d test commands passed", len(r.Deps.Config.Build.TestCommands)))
	})
}

func (r *DeployRunner) buildStage(ctx context.Context, o *models.PipelineOutcome) models.StageResult {
	return r.stage(ctx, o, STAGE_BUILD, func(ctx context.Context) models.StageResult {
		build, err := r.Deps.Builder.Build(ctx, builder.Options{
			Group:     o.Group,
			WorkDir:   r.workDir(),
			Command:   r.Deps.Config.BuildCommand(o.Group),
			OutputDir: r.Deps.Config.Build.OutputDir,
			Manifest:  r.Deps.Config.Build.Manifest,
		})
		o.Build = build
		if err == nil && (build == nil || !build.Success) {
			err = errors.New("build did not report success")
		}
		if err != nil {
			details := "build failed"
			if build != nil && build.Stderr != "" {
				details = tail(build.Stderr, STDERR_TAIL_LINES)
			}
			return models.FailedStage(STAGE_BUILD, err, details, "fix the build locally; build failures are never retried")
		}
		return models.SucceededStage(STAGE_BUILD, fmt.Sprintf("version %s at %s", build.Version, github.ShortSHA(build.Commit)))
	})
}

// publishStage pushes the artifact to the idle color, never the live one
func (r *DeployRunner) publishStage(ctx context.Context, o *models.PipelineOutcome) models.StageResult {
	return r.stage(ctx, o, STAGE_PUBLISH, func(ctx context.Context) models.StageResult {
		active, err := r.Deps.Registry.ActiveColor(ctx, o.Group)
		if err != nil {
			return models.FailedStage(STAGE_PUBLISH, err, "could not re-read the active color", "check the registry before retrying")
		}
		if active == o.Target {
			return models.FailedStage(STAGE_PUBLISH, fmt.Errorf("%s became active during the run", o.Target),
				"refusing to publish to the live color", "inspect the registry; another actor switched traffic")
		}

		bucket := r.Deps.Layout.Bucket(o.Group, o.Target)
		if r.Deps.Layout.IsProduction(o.Group) {
			r.backup(ctx, bucket)
		}
		sync, err := r.Deps.Publisher.Publish(ctx, o.Build.ArtifactPath, bucket)
		if err != nil {
			return models.FailedStage(STAGE_PUBLISH, err, "sync to "+bucket+" failed", "check bucket permissions and rerun; the live color is untouched")
		}
		return models.SucceededStage(STAGE_PUBLISH, fmt.Sprintf("%s: %d uploaded, %d unchanged, %d deleted",
			bucket, sync.Uploaded, sync.Skipped, sync.Deleted))
	})
}

// backup copies the idle bucket aside before it is overwritten, best-effort
func (r *DeployRunner) backup(ctx context.Context, bucket string) {
	prefix := r.now().UTC().Format(BACKUP_TIME_LAYOUT) + "/"
	n, err := r.Deps.Publisher.Backup(ctx, bucket, bucket+BACKUP_SUFFIX, prefix)
	if err != nil {
		logger.WithError(err).WithField("bucket", bucket).Warn("Backup failed")
		fmt.Fprintf(r.out, "⚠️  Backup of %s failed: %v\n", bucket, err)
		return
	}
	fmt.Fprintf(r.out, "💾 Backed up %d objects to %s%s/%s\n", n, bucket, BACKUP_SUFFIX, prefix)
}

// rollbackAfterFailure returns traffic to the previously live color and fails the deploy
func (r *DeployRunner) rollbackAfterFailure(ctx context.Context, o *models.PipelineOutcome, cause error) *models.PipelineOutcome {
	ro := r.begin(models.RECORD_KIND_ROLLBACK)
	var source *models.DeploymentRecord
	if prev, err := r.Deps.Log.FindLastSuccessfulDeployment(ctx, func(d *models.DeploymentRecord) bool {
		return d.Environment == o.Group && d.DeployedTo == o.PreviousLive
	}); err == nil {
		source = prev
	}

	rerr := r.revert(ctx, ro, o.Target, o.PreviousLive, source)
	o.Stages = append(o.Stages, ro.Stages...)

	err := fmt.Errorf("post-switch verification failed: %w", cause)
	if rerr != nil {
		err = errors.Join(err, fmt.Errorf("rollback to %s failed: %w", o.PreviousLive, rerr))
	} else {
		err = fmt.Errorf("%w; rolled back to %s", err, o.PreviousLive)
	}
	return r.failRecorded(ctx, o, err)
}

func (r *DeployRunner) deploymentRecord(o *models.PipelineOutcome, success bool, err error) *models.DeploymentRecord {
	rec := &models.DeploymentRecord{
		ID:          o.RunID,
		Timestamp:   r.now(),
		Environment: o.Group,
		DeployedTo:  o.Target,
		Success:     success,
		Error:       errString(err),
	}
	if o.Build != nil {
		rec.Version = o.Build.Version
		rec.Commit = o.Build.Commit
	}
	return rec
}

// failRecorded fails the run and writes a success=false record
func (r *DeployRunner) failRecorded(ctx context.Context, o *models.PipelineOutcome, err error) *models.PipelineOutcome {
	if err == nil {
		err = errors.New("deployment failed")
	}
	_ = r.record(ctx, r.deploymentRecord(o, false, err))
	return r.fail(o, err)
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
