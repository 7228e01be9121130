package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/gh-nvat/bluegreen/src/pkg/monitor"
	"github.com/kelseyhightower/envconfig"
)

// ErrMissingCredentials aborts a run before any stage when required credentials are absent
var ErrMissingCredentials = errors.New("missing required credentials")

// Settings are read from the process environment
type Settings struct {
	AWSRegion          string   `envconfig:"AWS_REGION"`
	AWSAccessKeyID     string   `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string   `envconfig:"AWS_SECRET_ACCESS_KEY"`
	AWSProfile         string   `envconfig:"AWS_PROFILE"`
	EmailService       string   `envconfig:"EMAIL_SERVICE"`
	EmailUser          string   `envconfig:"EMAIL_USER"`
	EmailPassword      string   `envconfig:"EMAIL_PASSWORD"`
	EmailTo            []string `envconfig:"EMAIL_TO"`
	EmailSecretID      string   `envconfig:"EMAIL_SECRET_ID"`
	RedisAddr          string   `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword      string   `envconfig:"REDIS_PASSWORD"`
	DeployLogDSN       string   `envconfig:"DEPLOY_LOG_DSN"`
	GHToken            string   `envconfig:"GH_TOKEN"`
	GitHubToken        string   `envconfig:"GITHUB_TOKEN"`
}

// LoadSettings reads Settings from the environment
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &s, nil
}

// RequireAWS fails with ErrMissingCredentials unless a region and either static keys or a profile are set
func (s *Settings) RequireAWS() error {
	var missing []string
	if s.AWSRegion == "" {
		missing = append(missing, "AWS_REGION")
	}
	hasKeys := s.AWSAccessKeyID != "" && s.AWSSecretAccessKey != ""
	if !hasKeys && s.AWSProfile == "" {
		missing = append(missing, "AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY or AWS_PROFILE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// RequireBackends checks the settings each configured backend needs
func (s *Settings) RequireBackends(cfg *Config) error {
	if cfg.Log.Backend == LOG_BACKEND_POSTGRES && s.DeployLogDSN == "" {
		return fmt.Errorf("%w: DEPLOY_LOG_DSN for the postgres log backend", ErrMissingCredentials)
	}
	if cfg.Registry.Backend == REGISTRY_BACKEND_REDIS && s.RedisAddr == "" {
		return fmt.Errorf("%w: REDIS_ADDR for the redis registry backend", ErrMissingCredentials)
	}
	return nil
}

// Token returns GH_TOKEN, falling back to GITHUB_TOKEN
func (s *Settings) Token() string {
	if s.GHToken != "" {
		return s.GHToken
	}
	return s.GitHubToken
}

// EmailEnabled reports whether alert mail is configured
func (s *Settings) EmailEnabled() bool {
	return s.EmailService != "" && s.EmailUser != "" && len(s.EmailTo) > 0
}

func (s *Settings) EmailConfig() monitor.EmailConfig {
	return monitor.EmailConfig{
		Service:  s.EmailService,
		User:     s.EmailUser,
		Password: s.EmailPassword,
		To:       s.EmailTo,
	}
}

// LoadAWSConfig resolves the SDK configuration for these settings
func (s *Settings) LoadAWSConfig(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s.AWSRegion)}
	if s.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(s.AWSProfile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveEmailPassword replaces EmailPassword with the secret named by EMAIL_SECRET_ID.
// The secret is either a bare string or JSON with a "password" key.
func (s *Settings) ResolveEmailPassword(ctx context.Context, client SecretsManagerAPI) error {
	if s.EmailSecretID == "" {
		return nil
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(s.EmailSecretID)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceNotFoundException" {
			return fmt.Errorf("%w: secret %s not found", ErrMissingCredentials, s.EmailSecretID)
		}
		return fmt.Errorf("failed to read secret %s: %w", s.EmailSecretID, err)
	}
	value := aws.ToString(out.SecretString)
	var doc struct {
		Password string `json:"password"`
	}
	if json.Unmarshal([]byte(value), &doc) == nil && doc.Password != "" {
		value = doc.Password
	}
	s.EmailPassword = value
	logger.WithField("secret", s.EmailSecretID).Debug("Email password loaded from Secrets Manager")
	return nil
}
