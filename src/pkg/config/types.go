package config

import (
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/verify"
)

const (
	REGISTRY_BACKEND_SSM    = "ssm"
	REGISTRY_BACKEND_REDIS  = "redis"
	REGISTRY_BACKEND_MEMORY = "memory"

	LOG_BACKEND_FILE     = "file"
	LOG_BACKEND_S3       = "s3"
	LOG_BACKEND_POSTGRES = "postgres"

	TRAFFIC_BACKEND_LAMBDA  = "lambda"
	TRAFFIC_BACKEND_ROUTE53 = "route53"
)

// Config is the pipeline file (bluegreen.yaml)
type Config struct {
	App         string                 `yaml:"app"`
	Region      string                 `yaml:"region"`
	Domain      string                 `yaml:"domain"`
	Groups      map[string]GroupConfig `yaml:"groups"`
	Build       BuildConfig            `yaml:"build"`
	Verify      VerifyConfig           `yaml:"verify"`
	Monitor     MonitorConfig          `yaml:"monitor"`
	Propagation PropagationConfig      `yaml:"propagation"`
	Registry    RegistryConfig         `yaml:"registry"`
	Log         LogConfig              `yaml:"log"`
	Traffic     TrafficConfig          `yaml:"traffic"`
	Policy      PolicyConfig           `yaml:"policy"`
	GitHub      GitHubConfig           `yaml:"github"`
}

// GroupConfig holds per-group overrides
type GroupConfig struct {
	ProductionLike bool   `yaml:"productionLike"`
	DistributionID string `yaml:"distributionId"`
	HostedZoneID   string `yaml:"hostedZoneId"`
}

type BuildConfig struct {
	ProductionCommand string   `yaml:"productionCommand"`
	StagingCommand    string   `yaml:"stagingCommand"`
	OutputDir         string   `yaml:"outputDir"`
	Manifest          string   `yaml:"manifest"`
	TestCommands      []string `yaml:"testCommands"`
}

type VerifyConfig struct {
	verify.Checklist `yaml:",inline"`
	Burst            int    `yaml:"burst"`
	BurstPath        string `yaml:"burstPath"`
}

type MonitorConfig struct {
	Endpoints       []models.EndpointTarget `yaml:"endpoints"`
	DurationMinutes int                     `yaml:"durationMinutes"`
	IntervalSeconds int                     `yaml:"intervalSeconds"`
	ErrorThreshold  float64                 `yaml:"errorThreshold"`
	MaxResponseMs   float64                 `yaml:"maxResponseMs"`
	ReportDir       string                  `yaml:"reportDir"`
}

type PropagationConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Interval    time.Duration `yaml:"interval"`
}

type RegistryConfig struct {
	Backend  string        `yaml:"backend"`
	LeaseTTL time.Duration `yaml:"leaseTTL"`
	RedisDB  int           `yaml:"redisDB"`
}

type LogConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

type TrafficConfig struct {
	Backend string `yaml:"backend"`
}

// PolicyConfig lists the preflight policies evaluated before production deploys
type PolicyConfig struct {
	Dir      string                `yaml:"dir"`
	Policies map[string]PolicyRule `yaml:"policies"`
}

// PolicyRule represents a single policy configuration
type PolicyRule struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Type        string            `yaml:"type"` // "opa" only for now
	FilePath    string            `yaml:"filePath"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
}

// EnforcementConfig defines when and how a policy should be enforced
type EnforcementConfig struct {
	InEffectAfter   *time.Time `yaml:"inEffectAfter,omitempty"`
	IsWarningAfter  *time.Time `yaml:"isWarningAfter,omitempty"`
	IsBlockingAfter *time.Time `yaml:"isBlockingAfter,omitempty"`
}

type GitHubConfig struct {
	Enabled bool   `yaml:"enabled"`
	Repo    string `yaml:"repo"` // owner/name
}

// EvaluationResult represents the result of policy evaluation
type EvaluationResult struct {
	TotalPolicies   int
	PassedPolicies  int
	FailedPolicies  int
	ErroredPolicies int
	PolicyResults   []PolicyResult
}

// PolicyResult represents the result of a single policy evaluation
type PolicyResult struct {
	PolicyID   string
	PolicyName string
	Status     string // "PASS", "FAIL", "ERROR"
	Violations []string
	Error      string
	Level      string // "RECOMMEND", "WARNING", "BLOCK", "DISABLED"
	Overridden bool
}

// EnforcementResult represents the enforcement decision
type EnforcementResult struct {
	ShouldBlock bool
	ShouldWarn  bool
	Summary     string
}
