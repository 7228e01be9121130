package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/builder"
	"github.com/gh-nvat/bluegreen/src/pkg/deploylog"
	"github.com/gh-nvat/bluegreen/src/pkg/monitor"
	"github.com/gh-nvat/bluegreen/src/pkg/registry"
	"github.com/gh-nvat/bluegreen/src/pkg/traffic"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var logger = log.WithField("package", "config")

const (
	DEFAULT_CONFIG_FILE = "bluegreen.yaml"
	DEFAULT_APP         = "printapp"
	DEFAULT_DOMAIN      = "printapp.example.com"
	DEFAULT_LEASE_TTL   = 30 * time.Minute
)

// ConfigLoader defines the interface for loading configuration files
type ConfigLoader interface {
	// Load reads the pipeline file and fills defaults
	Load(path string) (*Config, error)
	// Validate checks the loaded configuration
	Validate(cfg *Config) error
}

// Loader handles loading configuration files
type Loader struct{}

// Ensure Loader implements ConfigLoader
var _ ConfigLoader = (*Loader)(nil)

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// Default returns a configuration that runs with no file present
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the pipeline file. A missing file at the default path yields the defaults.
func (l *Loader) Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DEFAULT_CONFIG_FILE
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			logger.WithField("path", path).Debug("No pipeline file, using defaults")
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App == "" {
		c.App = DEFAULT_APP
	}
	if c.Domain == "" {
		c.Domain = DEFAULT_DOMAIN
	}
	if c.Groups == nil {
		c.Groups = map[string]GroupConfig{}
	}
	if _, ok := c.Groups["production"]; !ok {
		c.Groups["production"] = GroupConfig{ProductionLike: true}
	}

	b := &c.Build
	if b.ProductionCommand == "" {
		b.ProductionCommand = builder.DEFAULT_PRODUCTION_BUILD
	}
	if b.StagingCommand == "" {
		b.StagingCommand = builder.DEFAULT_STAGING_BUILD
	}
	if b.OutputDir == "" {
		b.OutputDir = builder.DEFAULT_OUTPUT_DIR
	}
	if b.Manifest == "" {
		b.Manifest = builder.DEFAULT_MANIFEST
	}
	if b.TestCommands == nil {
		b.TestCommands = builder.DefaultTestCommands
	}

	c.Verify.Checklist = c.Verify.Checklist.WithDefaults()
	if c.Verify.BurstPath == "" {
		c.Verify.BurstPath = "/"
	}

	m := &c.Monitor
	if m.Endpoints == nil {
		m.Endpoints = monitor.DefaultEndpoints
	}
	if m.DurationMinutes == 0 {
		m.DurationMinutes = monitor.DEFAULT_DURATION_MINUTES
	}
	if m.IntervalSeconds == 0 {
		m.IntervalSeconds = monitor.DEFAULT_INTERVAL_SECONDS
	}
	if m.ErrorThreshold == 0 {
		m.ErrorThreshold = monitor.DEFAULT_ERROR_THRESHOLD
	}
	if m.MaxResponseMs == 0 {
		m.MaxResponseMs = monitor.DEFAULT_MAX_RESPONSE_MS
	}
	if m.ReportDir == "" {
		m.ReportDir = monitor.DEFAULT_REPORT_DIR
	}

	if c.Propagation.MaxAttempts == 0 {
		c.Propagation.MaxAttempts = traffic.DEFAULT_PROPAGATION_ATTEMPTS
	}
	if c.Propagation.Interval == 0 {
		c.Propagation.Interval = traffic.DEFAULT_PROPAGATION_INTERVAL
	}

	if c.Registry.Backend == "" {
		c.Registry.Backend = REGISTRY_BACKEND_SSM
	}
	if c.Registry.LeaseTTL == 0 {
		c.Registry.LeaseTTL = DEFAULT_LEASE_TTL
	}
	if c.Log.Backend == "" {
		c.Log.Backend = LOG_BACKEND_FILE
	}
	if c.Log.Dir == "" {
		c.Log.Dir = deploylog.DEFAULT_LOG_DIR
	}
	if c.Log.Prefix == "" {
		c.Log.Prefix = deploylog.DEFAULT_LOG_DIR + "/"
	}
	if c.Traffic.Backend == "" {
		c.Traffic.Backend = TRAFFIC_BACKEND_LAMBDA
	}
	if c.Policy.Dir == "" {
		c.Policy.Dir = "policies"
	}
}

// Validate validates the pipeline configuration
func (l *Loader) Validate(cfg *Config) error {
	if strings.ContainsAny(cfg.App, "/: ") {
		return fmt.Errorf("app %q must not contain '/', ':' or spaces", cfg.App)
	}
	for name := range cfg.Groups {
		if name == "" || strings.ContainsAny(name, "/: ") {
			return fmt.Errorf("group %q is not a valid name", name)
		}
	}

	switch cfg.Registry.Backend {
	case REGISTRY_BACKEND_SSM, REGISTRY_BACKEND_REDIS, REGISTRY_BACKEND_MEMORY:
	default:
		return fmt.Errorf("registry: unsupported backend %s", cfg.Registry.Backend)
	}
	if cfg.Registry.LeaseTTL < time.Minute {
		return fmt.Errorf("registry: leaseTTL %s is shorter than one minute", cfg.Registry.LeaseTTL)
	}

	switch cfg.Log.Backend {
	case LOG_BACKEND_FILE, LOG_BACKEND_POSTGRES:
	case LOG_BACKEND_S3:
		if cfg.Log.Bucket == "" {
			return fmt.Errorf("log: bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("log: unsupported backend %s", cfg.Log.Backend)
	}

	switch cfg.Traffic.Backend {
	case TRAFFIC_BACKEND_LAMBDA:
	case TRAFFIC_BACKEND_ROUTE53:
		for name, g := range cfg.Groups {
			if g.HostedZoneID == "" {
				return fmt.Errorf("group %s: hostedZoneId is required for the route53 backend", name)
			}
		}
	default:
		return fmt.Errorf("traffic: unsupported backend %s", cfg.Traffic.Backend)
	}

	if cfg.Propagation.MaxAttempts < 1 {
		return fmt.Errorf("propagation: maxAttempts must be at least 1")
	}
	if cfg.Monitor.IntervalSeconds < 1 || cfg.Monitor.DurationMinutes*60 < cfg.Monitor.IntervalSeconds {
		return fmt.Errorf("monitor: duration must cover at least one interval")
	}

	for id, policy := range cfg.Policy.Policies {
		if policy.Name == "" {
			return fmt.Errorf("policy %s: name is required", id)
		}
		if policy.Type != "opa" {
			return fmt.Errorf("policy %s: unsupported type %s (only 'opa' is supported)", id, policy.Type)
		}
		if policy.FilePath == "" {
			return fmt.Errorf("policy %s: filePath is required", id)
		}

		// Validate enforcement dates are in order if set
		if policy.Enforcement.InEffectAfter != nil && policy.Enforcement.IsWarningAfter != nil {
			if policy.Enforcement.IsWarningAfter.Before(*policy.Enforcement.InEffectAfter) {
				return fmt.Errorf("policy %s: isWarningAfter cannot be before inEffectAfter", id)
			}
		}
		if policy.Enforcement.IsWarningAfter != nil && policy.Enforcement.IsBlockingAfter != nil {
			if policy.Enforcement.IsBlockingAfter.Before(*policy.Enforcement.IsWarningAfter) {
				return fmt.Errorf("policy %s: isBlockingAfter cannot be before isWarningAfter", id)
			}
		}
	}

	if cfg.GitHub.Enabled && strings.Count(cfg.GitHub.Repo, "/") != 1 {
		return fmt.Errorf("github: repo must be owner/name, got %q", cfg.GitHub.Repo)
	}
	return nil
}

// ProductionGroups lists groups flagged productionLike
func (c *Config) ProductionGroups() []string {
	var groups []string
	for name, g := range c.Groups {
		if g.ProductionLike {
			groups = append(groups, name)
		}
	}
	return groups
}

// Layout derives resource names for this configuration
func (c *Config) Layout(region string) registry.Layout {
	if c.Region != "" {
		region = c.Region
	}
	return registry.NewLayout(c.App, region, c.Domain, c.ProductionGroups())
}

// BuildCommand picks the build command for a group
func (c *Config) BuildCommand(group string) string {
	if c.Groups[group].ProductionLike {
		return c.Build.ProductionCommand
	}
	return c.Build.StagingCommand
}

// MonitorOptions turns the monitor section into loop options
func (c *Config) MonitorOptions(baseURL string) monitor.Options {
	return monitor.Options{
		BaseURL:           baseURL,
		Endpoints:         c.Monitor.Endpoints,
		Duration:          time.Duration(c.Monitor.DurationMinutes) * time.Minute,
		Interval:          time.Duration(c.Monitor.IntervalSeconds) * time.Second,
		ErrorThresholdPct: c.Monitor.ErrorThreshold,
		MaxResponseMs:     c.Monitor.MaxResponseMs,
	}
}
