package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bluegreen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := NewLoader().Load("")
	require.NoError(t, err)
	assert.Equal(t, DEFAULT_APP, cfg.App)
	assert.Equal(t, 30, cfg.Propagation.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Propagation.Interval)
	assert.Equal(t, REGISTRY_BACKEND_SSM, cfg.Registry.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Registry.LeaseTTL)
	assert.True(t, cfg.Groups["production"].ProductionLike)
	assert.Equal(t, "/", cfg.Verify.RootPath)
	assert.Len(t, cfg.Monitor.Endpoints, 5)
	assert.NoError(t, NewLoader().Validate(cfg))
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
app: shopapp
domain: shop.example.com
groups:
  staging: {}
  canary:
    productionLike: true
    distributionId: E123
propagation:
  maxAttempts: 10
  interval: 5s
registry:
  backend: redis
  leaseTTL: 45m
verify:
  criticalPages: [/cart]
  burst: 20
monitor:
  durationMinutes: 5
  intervalSeconds: 10
policy:
  policies:
    clean-tree:
      name: Clean tree
      type: opa
      filePath: clean_tree.rego
      enforcement:
        inEffectAfter: 2024-01-01T00:00:00Z
        isBlockingAfter: 2024-02-01T00:00:00Z
`)
	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	require.NoError(t, NewLoader().Validate(cfg))

	assert.Equal(t, "shopapp", cfg.App)
	assert.Equal(t, 10, cfg.Propagation.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Propagation.Interval)
	assert.Equal(t, 45*time.Minute, cfg.Registry.LeaseTTL)
	assert.Equal(t, []string{"/cart"}, cfg.Verify.CriticalPages)
	assert.Equal(t, 20, cfg.Verify.Burst)
	assert.NotEmpty(t, cfg.Verify.APIEndpoints, "unset checklist fields keep defaults")
	assert.Equal(t, "E123", cfg.Groups["canary"].DistributionID)
	assert.ElementsMatch(t, []string{"canary", "production"}, cfg.ProductionGroups())
	assert.Equal(t, "npm run build:prod", cfg.BuildCommand("canary"))
	assert.Equal(t, "npm run build:staging", cfg.BuildCommand("staging"))

	opts := cfg.MonitorOptions("https://shop.example.com")
	assert.Equal(t, 30, opts.Cycles())

	layout := cfg.Layout("us-east-1")
	assert.Equal(t, "https://staging.shop.example.com", layout.PublicURL("staging"))
	assert.Equal(t, "https://shop.example.com", layout.PublicURL("canary"))
}

func TestValidate(t *testing.T) {
	past := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	earlier := past.Add(-24 * time.Hour)

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad registry", func(c *Config) { c.Registry.Backend = "etcd" }, "unsupported backend"},
		{"short lease", func(c *Config) { c.Registry.LeaseTTL = time.Second }, "leaseTTL"},
		{"s3 log without bucket", func(c *Config) { c.Log.Backend = LOG_BACKEND_S3 }, "bucket is required"},
		{"route53 without zone", func(c *Config) { c.Traffic.Backend = TRAFFIC_BACKEND_ROUTE53 }, "hostedZoneId"},
		{"bad group name", func(c *Config) { c.Groups["a/b"] = GroupConfig{} }, "not a valid name"},
		{"monitor shorter than interval", func(c *Config) { c.Monitor.DurationMinutes = 0; c.Monitor.IntervalSeconds = 30 }, "monitor"},
		{"github repo", func(c *Config) { c.GitHub = GitHubConfig{Enabled: true, Repo: "nope"} }, "owner/name"},
		{"policy type", func(c *Config) {
			c.Policy.Policies = map[string]PolicyRule{"p": {Name: "p", Type: "cel", FilePath: "p.rego"}}
		}, "only 'opa'"},
		{"policy dates out of order", func(c *Config) {
			c.Policy.Policies = map[string]PolicyRule{"p": {Name: "p", Type: "opa", FilePath: "p.rego",
				Enforcement: EnforcementConfig{IsWarningAfter: &past, IsBlockingAfter: &earlier}}}
		}, "isBlockingAfter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := NewLoader().Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_PROFILE", "deploy")
	t.Setenv("EMAIL_SERVICE", "gmail")
	t.Setenv("EMAIL_USER", "ops@example.com")
	t.Setenv("EMAIL_TO", "a@example.com,b@example.com")
	t.Setenv("GITHUB_TOKEN", "ghp_fallback")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.NoError(t, s.RequireAWS())
	assert.True(t, s.EmailEnabled())
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, s.EmailConfig().To)
	assert.Equal(t, "ghp_fallback", s.Token())

	s.GHToken = "ghp_primary"
	assert.Equal(t, "ghp_primary", s.Token())
}

func TestRequireAWS(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		ok       bool
	}{
		{"keys", Settings{AWSRegion: "us-east-1", AWSAccessKeyID: "AK", AWSSecretAccessKey: "SK"}, true},
		{"profile", Settings{AWSRegion: "us-east-1", AWSProfile: "p"}, true},
		{"no region", Settings{AWSProfile: "p"}, false},
		{"half keys", Settings{AWSRegion: "us-east-1", AWSAccessKeyID: "AK"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.RequireAWS()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrMissingCredentials)
			}
		})
	}
}

func TestRequireBackends(t *testing.T) {
	cfg := Default()
	cfg.Log.Backend = LOG_BACKEND_POSTGRES
	assert.ErrorIs(t, (&Settings{}).RequireBackends(cfg), ErrMissingCredentials)
	assert.NoError(t, (&Settings{DeployLogDSN: "postgres://x"}).RequireBackends(cfg))
}

type mockSecrets struct {
	getSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
}

func (m *mockSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return m.getSecretValueFunc(ctx, params)
}

func TestResolveEmailPassword(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		err     error
		want    string
		wantErr error
	}{
		{name: "plain string", secret: "hunter2", want: "hunter2"},
		{name: "json document", secret: `{"password":"s3cret"}`, want: "s3cret"},
		{name: "not found", err: &smithy.GenericAPIError{Code: "ResourceNotFoundException"}, wantErr: ErrMissingCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Settings{EmailSecretID: "alerts/smtp", EmailPassword: "env"}
			client := &mockSecrets{getSecretValueFunc: func(_ context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
				assert.Equal(t, "alerts/smtp", aws.ToString(params.SecretId))
				if tt.err != nil {
					return nil, tt.err
				}
				return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(tt.secret)}, nil
			}}
			err := s.ResolveEmailPassword(context.Background(), client)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.EmailPassword)
		})
	}

	// no secret id leaves the env password alone
	s := &Settings{EmailPassword: "env"}
	require.NoError(t, s.ResolveEmailPassword(context.Background(), nil))
	assert.Equal(t, "env", s.EmailPassword)
}
