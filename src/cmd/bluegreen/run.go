package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gh-nvat/bluegreen/src/internal/runner"
	"github.com/gh-nvat/bluegreen/src/pkg/builder"
	"github.com/gh-nvat/bluegreen/src/pkg/config"
	"github.com/gh-nvat/bluegreen/src/pkg/confirm"
	"github.com/gh-nvat/bluegreen/src/pkg/dashboard"
	"github.com/gh-nvat/bluegreen/src/pkg/deploylog"
	"github.com/gh-nvat/bluegreen/src/pkg/github"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/monitor"
	"github.com/gh-nvat/bluegreen/src/pkg/policy"
	"github.com/gh-nvat/bluegreen/src/pkg/registry"
	"github.com/gh-nvat/bluegreen/src/pkg/storage"
	"github.com/gh-nvat/bluegreen/src/pkg/template"
	"github.com/gh-nvat/bluegreen/src/pkg/traffic"
	"github.com/gh-nvat/bluegreen/src/pkg/verify"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "main")

// app holds what every command shares once the environment is resolved
type app struct {
	cfg      *config.Config
	settings *config.Settings
	layout   registry.Layout
	aws      aws.Config
	hasAWS   bool
	closers  []func()
}

// initialize does the steps every command starts with:
// 1. Read settings from the environment
// 2. Load and validate the pipeline file
// 3. Check the settings of the configured backends
func initialize(g *globalOptions) (*app, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := loader.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := settings.RequireBackends(cfg); err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		settings: settings,
		layout:   cfg.Layout(settings.AWSRegion),
	}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// ensureAWS loads the SDK configuration once, failing fast on missing credentials
func (a *app) ensureAWS(ctx context.Context) error {
	if a.hasAWS {
		return nil
	}
	if err := a.settings.RequireAWS(); err != nil {
		return err
	}
	cfg, err := a.settings.LoadAWSConfig(ctx)
	if err != nil {
		return err
	}
	a.aws, a.hasAWS = cfg, true
	return nil
}

func (a *app) openRegistry(ctx context.Context) (registry.Registry, error) {
	switch a.cfg.Registry.Backend {
	case config.REGISTRY_BACKEND_REDIS:
		client, err := registry.DialRedis(ctx, a.settings.RedisAddr, a.settings.RedisPassword, a.cfg.Registry.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return registry.NewRedisRegistry(client, a.layout), nil
	case config.REGISTRY_BACKEND_MEMORY:
		seed := make(map[string]models.Color, len(a.cfg.Groups))
		for name := range a.cfg.Groups {
			seed[name] = models.COLOR_BLUE
		}
		logger.Warn("Using the in-memory registry, active colors are not persisted")
		return registry.NewMemoryRegistry(seed), nil
	default:
		if err := a.ensureAWS(ctx); err != nil {
			return nil, err
		}
		return registry.NewSSMRegistry(ssm.NewFromConfig(a.aws), a.layout), nil
	}
}

func (a *app) openStore(ctx context.Context) (deploylog.Store, error) {
	switch a.cfg.Log.Backend {
	case config.LOG_BACKEND_S3:
		if err := a.ensureAWS(ctx); err != nil {
			return nil, err
		}
		return deploylog.NewS3Store(s3.NewFromConfig(a.aws), a.cfg.Log.Bucket, a.cfg.Log.Prefix), nil
	case config.LOG_BACKEND_POSTGRES:
		pool, err := deploylog.OpenPool(ctx, a.settings.DeployLogDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		return deploylog.NewPostgresStore(pool), nil
	default:
		return deploylog.NewFileStore(a.cfg.Log.Dir), nil
	}
}

// distributions prefers the id pinned in the group config over the registry parameter
func (a *app) distributions() traffic.DistributionResolver {
	pinned := map[string]string{}
	for name, g := range a.cfg.Groups {
		if g.DistributionID != "" {
			pinned[name] = g.DistributionID
		}
	}
	static := traffic.StaticDistributions(pinned)
	lookup := registry.NewSSMRegistry(ssm.NewFromConfig(a.aws), a.layout)
	return func(ctx context.Context, group string) (string, error) {
		if _, ok := pinned[group]; ok {
			return static(ctx, group)
		}
		return lookup.DistributionID(ctx, group)
	}
}

func (a *app) gateway(reg registry.Registry, group string) (traffic.Gateway, error) {
	if a.cfg.Traffic.Backend == config.TRAFFIC_BACKEND_ROUTE53 {
		zone := a.cfg.Groups[group].HostedZoneID
		if zone == "" {
			return nil, fmt.Errorf("group %s has no hostedZoneId for the route53 traffic backend", group)
		}
		return traffic.NewRoute53Gateway(route53.NewFromConfig(a.aws), reg, a.layout, zone), nil
	}
	return traffic.NewLambdaGateway(lambda.NewFromConfig(a.aws), cloudfront.NewFromConfig(a.aws), reg, a.cfg.App, a.distributions()), nil
}

func (a *app) tracker() *github.Tracker {
	if !a.cfg.GitHub.Enabled {
		return nil
	}
	token := a.settings.Token()
	if token == "" {
		fmt.Println("⚠️  GitHub tracking is enabled but neither GH_TOKEN nor GITHUB_TOKEN is set")
		return nil
	}
	client, err := github.NewClient(token)
	if err != nil {
		logger.WithError(err).Warn("GitHub tracking disabled")
		return nil
	}
	return github.NewTracker(client, a.cfg.GitHub.Repo)
}

func newConfirmer(nonInteractive bool) (confirm.Confirmer, error) {
	if nonInteractive {
		return &confirm.Static{Answer: true}, nil
	}
	return confirm.NewTerminalPrompt()
}

// dependencies wires every backend a deploy or rollback of group touches
func (a *app) dependencies(ctx context.Context, group string, nonInteractive bool) (runner.Dependencies, error) {
	if err := a.ensureAWS(ctx); err != nil {
		return runner.Dependencies{}, err
	}
	if _, ok := a.cfg.Groups[group]; !ok {
		logger.WithField("group", group).Info("Group not listed in config, treating it as non-production")
	}

	confirmer, err := newConfirmer(nonInteractive)
	if err != nil {
		return runner.Dependencies{}, err
	}
	reg, err := a.openRegistry(ctx)
	if err != nil {
		return runner.Dependencies{}, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return runner.Dependencies{}, err
	}
	gateway, err := a.gateway(reg, group)
	if err != nil {
		return runner.Dependencies{}, err
	}
	evaluator := policy.NewEvaluator()
	if len(a.cfg.Policy.Policies) > 0 {
		if err := evaluator.Validate(a.cfg.Policy); err != nil {
			return runner.Dependencies{}, fmt.Errorf("invalid policy config: %w", err)
		}
	}

	return runner.Dependencies{
		Config:        a.cfg,
		Layout:        a.layout,
		Registry:      reg,
		Gateway:       gateway,
		Builder:       builder.NewBuilder(nil),
		Publisher:     storage.NewS3Publisher(s3.NewFromConfig(a.aws)),
		Verifier:      verify.NewHTTPVerifier(nil),
		Log:           store,
		Confirmer:     confirmer,
		Policy:        evaluator,
		CDN:           cloudfront.NewFromConfig(a.aws),
		Distributions: a.distributions(),
		Tracker:       a.tracker(),
	}, nil
}

// finish writes the run summary and maps the outcome onto the exit status.
// Aborted runs exit non-zero like failed ones.
func finish(g *globalOptions, o *models.PipelineOutcome) error {
	if path, err := runner.WriteSummary(template.NewRenderer(), o, g.outputDir); err != nil {
		logger.WithError(err).Warn("Failed to write run summary")
	} else {
		fmt.Printf("📝 Summary written to %s\n", path)
	}

	switch {
	case o.Succeeded():
		return nil
	case o.State == models.STATE_ABORTED:
		return fmt.Errorf("%s of %s cancelled: %w", o.Kind, o.Group, runner.ErrAborted)
	default:
		return fmt.Errorf("%s of %s failed: %w", o.Kind, o.Group, o.Err)
	}
}

func runDeploy(ctx context.Context, g *globalOptions, opts *deployOptions, group string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := initialize(g)
	if err != nil {
		return err
	}
	defer a.close()

	deps, err := a.dependencies(ctx, group, opts.nonInteractive)
	if err != nil {
		return err
	}
	p, err := runner.NewDeployRunner(deps, &runner.Options{
		Group:            group,
		WorkDir:          opts.workDir,
		Force:            opts.force,
		SkipVerification: opts.skipVerification,
		SkipTests:        opts.skipTests,
		AutoSwitch:       opts.autoSwitch,
		NonInteractive:   opts.nonInteractive,
		PolicyOverrides:  opts.overrides,
	})
	if err != nil {
		return err
	}
	return finish(g, p.Run(ctx))
}

func runRollback(ctx context.Context, g *globalOptions, opts *rollbackOptions, group string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var target models.Color
	if opts.to != "" {
		c, err := models.ParseColor(opts.to)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		target = c
	}

	a, err := initialize(g)
	if err != nil {
		return err
	}
	defer a.close()

	deps, err := a.dependencies(ctx, group, opts.nonInteractive)
	if err != nil {
		return err
	}
	p, err := runner.NewRollbackRunner(deps, &runner.Options{
		Group:            group,
		Force:            opts.force,
		SkipVerification: opts.skipVerification,
		TargetColor:      target,
	})
	if err != nil {
		return err
	}

	o := p.Run(ctx)
	if errors.Is(o.Err, runner.ErrNoopRollback) {
		fmt.Printf("ℹ️  %s already serves %s\n", o.Target, o.Group)
	}
	return finish(g, o)
}

func runVerify(ctx context.Context, g *globalOptions, opts *verifyOptions, baseURL string) error {
	a, err := initialize(g)
	if err != nil {
		return err
	}
	defer a.close()

	v := verify.NewHTTPVerifier(nil)
	fmt.Printf("🔍 Verifying %s\n", baseURL)
	result := v.Verify(ctx, baseURL, a.cfg.Verify.Checklist)
	for _, c := range result.Checks {
		mark := "✅"
		if !c.Passed {
			mark = "❌"
		}
		fmt.Printf("  %s %s (%.0fms) %s\n", mark, c.Name, c.DurationMs, c.Detail)
	}

	burst := opts.burst
	if burst == 0 {
		burst = a.cfg.Verify.Burst
	}
	if burst > 0 {
		path := opts.burstPath
		if path == "" {
			path = a.cfg.Verify.BurstPath
		}
		b := v.Burst(ctx, baseURL, path, burst)
		fmt.Printf("⚡ %d requests to %s: %d errors, min %.0fms, avg %.0fms, max %.0fms\n",
			b.Requests, b.Path, b.Errors, b.MinResponseMs, b.AvgResponseMs, b.MaxResponseMs)
	}

	if !result.Passed {
		return fmt.Errorf("verification failed: %d of %d checks failed", len(result.Failures()), len(result.Checks))
	}
	fmt.Println("🎉 All checks passed")
	return nil
}

// notifier always logs alerts and adds mail when EMAIL_* is configured.
// The second return is the mail notifier alone, nil when disabled.
func (a *app) notifier(ctx context.Context) (monitor.Notifier, monitor.Notifier) {
	notifiers := monitor.MultiNotifier{&monitor.LogNotifier{}}
	if !a.settings.EmailEnabled() {
		return notifiers, nil
	}
	if a.settings.EmailSecretID != "" {
		err := a.ensureAWS(ctx)
		if err == nil {
			err = a.settings.ResolveEmailPassword(ctx, secretsmanager.NewFromConfig(a.aws))
		}
		if err != nil {
			fmt.Printf("⚠️  Email alerts disabled: %v\n", err)
			return notifiers, nil
		}
	}
	email, err := monitor.NewEmailNotifier(a.settings.EmailConfig(), nil)
	if err != nil {
		fmt.Printf("⚠️  Email alerts disabled: %v\n", err)
		return notifiers, nil
	}
	return append(notifiers, email), email
}

func runMonitor(ctx context.Context, g *globalOptions, opts *monitorOptions, baseURL string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := initialize(g)
	if err != nil {
		return err
	}
	defer a.close()

	mopts := a.cfg.MonitorOptions(baseURL)
	if opts.durationMinutes > 0 {
		mopts.Duration = time.Duration(opts.durationMinutes) * time.Minute
	}
	if opts.intervalSeconds > 0 {
		mopts.Interval = time.Duration(opts.intervalSeconds) * time.Second
	}
	if opts.errorThreshold > 0 {
		mopts.ErrorThresholdPct = opts.errorThreshold
	}
	if opts.maxResponseMs > 0 {
		mopts.MaxResponseMs = opts.maxResponseMs
	}
	reportDir := opts.reportDir
	if reportDir == "" {
		reportDir = a.cfg.Monitor.ReportDir
	}

	notifier, email := a.notifier(ctx)
	metrics := monitor.NewMetrics()
	m := monitor.NewMonitor(nil, notifier, metrics)

	fmt.Printf("📈 Monitoring %s for %s every %s (Ctrl-C stops early)\n", baseURL, mopts.Duration, mopts.Interval)
	report, err := m.Run(ctx, mopts)
	if err != nil {
		return err
	}

	renderer := template.NewRenderer()
	path, err := monitor.WriteReport(reportDir, report, renderer)
	if err != nil {
		return err
	}
	doc := monitor.Document(report)
	monitor.PrintSummary(doc)
	fmt.Printf("📝 Report written to %s\n", path)

	if opts.metricsFile != "" {
		if err := metrics.WriteTextfile(opts.metricsFile); err != nil {
			logger.WithError(err).Warn("Failed to write metrics textfile")
		}
	}

	if email != nil {
		body, err := renderer.RenderNamed(template.MONITORING_REPORT_TEMPLATE, doc)
		if err == nil {
			err = email.Notify(context.WithoutCancel(ctx), "Monitoring Report - "+baseURL, body)
		}
		if err != nil {
			logger.WithError(err).Warn("Failed to mail the monitoring report")
		}
	}
	return nil
}

func runHistory(ctx context.Context, g *globalOptions, opts *historyOptions, group string) error {
	var kind models.RecordKind
	switch models.RecordKind(opts.kind) {
	case "":
	case models.RECORD_KIND_DEPLOYMENT, models.RECORD_KIND_ROLLBACK:
		kind = models.RecordKind(opts.kind)
	default:
		return fmt.Errorf("invalid --type %q (deployment or rollback)", opts.kind)
	}

	a, err := initialize(g)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	entries, err := store.List(ctx, models.ListFilter{Group: group, Kind: kind, Limit: opts.limit})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No records found")
		return nil
	}

	for _, e := range entries {
		ts := e.Timestamp().UTC().Format(time.RFC3339)
		switch {
		case e.Deployment != nil:
			d := e.Deployment
			fmt.Printf("%s %s deployment %-12s → %-5s %s (%s)%s\n",
				mark(d.Success), ts, d.Environment, d.DeployedTo, d.Version, github.ShortSHA(d.Commit), note(d.Error))
		case e.Rollback != nil:
			r := e.Rollback
			fmt.Printf("%s %s rollback   %-12s %s → %s %s%s\n",
				mark(r.Success), ts, r.Environment, r.RolledBackFrom, r.RolledBackTo, r.Version, note(r.Error))
		}
	}
	return nil
}

func mark(success bool) string {
	if success {
		return "✅"
	}
	return "❌"
}

func note(msg string) string {
	if msg == "" {
		return ""
	}
	return " - " + msg
}

func runDashboard(ctx context.Context, g *globalOptions, port int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := initialize(g)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("📊 Dashboard listening on :%d\n", port)
	return dashboard.NewServer(store, a.cfg.Monitor.ReportDir).ListenAndServe(ctx, port)
}

func runMigrate(ctx context.Context, g *globalOptions) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	if settings.DeployLogDSN == "" {
		return fmt.Errorf("%w: DEPLOY_LOG_DSN", config.ErrMissingCredentials)
	}
	pool, err := deploylog.OpenPool(ctx, settings.DeployLogDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := deploylog.Migrate(ctx, pool); err != nil {
		return err
	}
	fmt.Println("✅ Deployment log schema is up to date")
	return nil
}
