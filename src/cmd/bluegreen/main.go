package main

import (
	"fmt"
	"os"

	"github.com/gh-nvat/bluegreen/src/pkg/dashboard"
	"github.com/gh-nvat/bluegreen/src/pkg/trace"
	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	trace      bool
	outputDir  string
}

type deployOptions struct {
	workDir          string
	skipTests        bool
	skipVerification bool
	autoSwitch       bool
	force            bool
	nonInteractive   bool
	overrides        []string
}

type rollbackOptions struct {
	to               string
	skipVerification bool
	force            bool
	nonInteractive   bool
}

type verifyOptions struct {
	burst     int
	burstPath string
}

type monitorOptions struct {
	durationMinutes int
	intervalSeconds int
	errorThreshold  float64
	maxResponseMs   float64
	reportDir       string
	metricsFile     string
}

type historyOptions struct {
	kind  string
	limit int
}

func main() {
	cmd, shutdown := newRootCmd()
	err := cmd.Execute()
	shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

// newRootCmd returns the command tree and a shutdown that flushes tracing.
// cobra skips post-run hooks when RunE fails, so the caller runs shutdown after Execute.
func newRootCmd() (*cobra.Command, func()) {
	g := &globalOptions{}
	var shutdownTracer func()

	cmd := &cobra.Command{
		Use:   "bluegreen",
		Short: "Blue-green deployment and rollback for the storefront",
		Long: `bluegreen builds the storefront, publishes it to the idle color of an environment group,
verifies it, switches live traffic and records every deployment and rollback.`,
		Version:       fmt.Sprintf("%s (built: %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(g.logLevel, g.logFormat); err != nil {
				return err
			}
			shutdown, err := trace.InitTracer("bluegreen", g.trace, g.outputDir)
			if err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}
			shutdownTracer = shutdown
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Pipeline config file (default ./bluegreen.yaml when present)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log format: text or json")
	cmd.PersistentFlags().BoolVar(&g.trace, "trace", false, "Write a performance report of every stage")
	cmd.PersistentFlags().StringVar(&g.outputDir, "output-dir", "./output", "Directory for run summaries and performance reports")

	cmd.AddCommand(
		newDeployCmd(g),
		newRollbackCmd(g),
		newVerifyCmd(g),
		newMonitorCmd(g),
		newHistoryCmd(g),
		newDashboardCmd(g),
		newMigrateCmd(g),
	)
	return cmd, func() {
		if shutdownTracer != nil {
			shutdownTracer()
		}
	}
}

func newDeployCmd(g *globalOptions) *cobra.Command {
	opts := &deployOptions{}
	cmd := &cobra.Command{
		Use:   "deploy <group>",
		Short: "Deploy the current checkout to the idle color of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), g, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.workDir, "work-dir", ".", "Source checkout to build")
	cmd.Flags().BoolVar(&opts.skipTests, "skip-tests", false, "Skip the test step")
	cmd.Flags().BoolVar(&opts.skipVerification, "skip-verification", false, "Skip smoke checks of the idle and the live environment")
	cmd.Flags().BoolVar(&opts.autoSwitch, "auto-switch", false, "Switch traffic without asking once verification passed")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Deploy a dirty tree and re-issue switches")
	cmd.Flags().BoolVar(&opts.nonInteractive, "non-interactive", false, "Answer yes to every prompt; the traffic switch still needs --auto-switch")
	cmd.Flags().StringSliceVar(&opts.overrides, "override-policy", nil, "Policy ids to override for this run")
	return cmd
}

func newRollbackCmd(g *globalOptions) *cobra.Command {
	opts := &rollbackOptions{}
	cmd := &cobra.Command{
		Use:   "rollback <group>",
		Short: "Switch a group back to its previous color",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(cmd.Context(), g, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.to, "to", "", "Roll back to this color instead of reading history (blue or green)")
	cmd.Flags().BoolVar(&opts.skipVerification, "skip-verification", false, "Skip smoke checks after the switch")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Skip confirmation and allow re-switching to the active color")
	cmd.Flags().BoolVar(&opts.nonInteractive, "non-interactive", false, "Answer yes to every prompt")
	return cmd
}

func newVerifyCmd(g *globalOptions) *cobra.Command {
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify <base-url>",
		Short: "Run the smoke checklist against a base URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), g, opts, args[0])
		},
	}
	cmd.Flags().IntVar(&opts.burst, "burst", 0, "Also fire N concurrent requests at --burst-path")
	cmd.Flags().StringVar(&opts.burstPath, "burst-path", "", "Path requested by --burst (default from config)")
	return cmd
}

func newMonitorCmd(g *globalOptions) *cobra.Command {
	opts := &monitorOptions{}
	cmd := &cobra.Command{
		Use:   "monitor <base-url>",
		Short: "Check a live environment on a schedule and write a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context(), g, opts, args[0])
		},
	}
	cmd.Flags().IntVar(&opts.durationMinutes, "duration", 0, "Minutes to monitor (default from config, 60)")
	cmd.Flags().IntVar(&opts.intervalSeconds, "interval", 0, "Seconds between cycles (default from config, 30)")
	cmd.Flags().Float64Var(&opts.errorThreshold, "error-threshold", 0, "Error rate percent that raises an alert (default 5)")
	cmd.Flags().Float64Var(&opts.maxResponseMs, "max-response-time", 0, "Response time in ms that raises an alert (default 1000)")
	cmd.Flags().StringVar(&opts.reportDir, "report-dir", "", "Directory for monitoring reports (default from config)")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format here")
	return cmd
}

func newHistoryCmd(g *globalOptions) *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history [group]",
		Short: "List deployment and rollback records, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			group := ""
			if len(args) == 1 {
				group = args[0]
			}
			return runHistory(cmd.Context(), g, opts, group)
		},
	}
	cmd.Flags().StringVar(&opts.kind, "type", "", "Only deployment or rollback records")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "Maximum records to show (0 for all)")
	return cmd
}

func newDashboardCmd(g *globalOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve deployment history and monitoring reports as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd.Context(), g, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", dashboard.DEFAULT_PORT, "Port to listen on")
	return cmd
}

func newMigrateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the deployment log schema to DEPLOY_LOG_DSN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), g)
		},
	}
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	switch format {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q (text or json)", format)
	}
	log.SetOutput(os.Stderr)
	return nil
}
