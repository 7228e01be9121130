package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/google/uuid"
)

// SSMAPI is the subset of the SSM client used by the registry
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
}

// SSMRegistry stores the active color in an SSM parameter per group
type SSMRegistry struct {
	client SSMAPI
	layout Layout
	now    func() time.Time
}

// Ensure SSMRegistry implements Registry
var _ Registry = (*SSMRegistry)(nil)

// NewSSMRegistry creates a new SSM-backed registry
func NewSSMRegistry(client SSMAPI, layout Layout) *SSMRegistry {
	return &SSMRegistry{client: client, layout: layout, now: time.Now}
}

func (s *SSMRegistry) ActiveColor(ctx context.Context, group string) (models.Color, error) {
	name := s.layout.ActiveKey(group)
	value, err := s.getParameter(ctx, name)
	if err != nil {
		if isAPIError(err, "ParameterNotFound") {
			return "", fmt.Errorf("%w: parameter %s is not set", ErrRegistryUnavailable, name)
		}
		return "", fmt.Errorf("%w: failed to read %s: %v", ErrRegistryUnavailable, name, err)
	}

	color, err := models.ParseColor(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("%w: parameter %s: %v", ErrRegistryUnavailable, name, err)
	}
	logger.WithField("group", group).WithField("color", color).Debug("Read active color")
	return color, nil
}

func (s *SSMRegistry) SetActiveColor(ctx context.Context, group string, color models.Color) error {
	if !color.Valid() {
		return fmt.Errorf("refusing to store invalid color %q", color)
	}
	name := s.layout.ActiveKey(group)
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(string(color)),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", ErrRegistryUnavailable, name, err)
	}
	logger.WithField("group", group).WithField("color", color).Info("Updated active color")
	return nil
}

func (s *SSMRegistry) AcquireLease(ctx context.Context, group, owner string, ttl time.Duration) (*Lease, error) {
	now := s.now()
	lease := &Lease{Group: group, Owner: owner, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	name := s.layout.LeaseKey(group)

	err := s.putLease(ctx, name, lease, false)
	if err == nil {
		return lease, nil
	}
	if !isAPIError(err, "ParameterAlreadyExists") {
		return nil, fmt.Errorf("%w: failed to write lease %s: %v", ErrRegistryUnavailable, name, err)
	}

	held, err := s.readLease(ctx, name)
	if err != nil {
		return nil, err
	}
	if held != nil && !held.Expired(now) {
		return nil, fmt.Errorf("%w: held by %s until %s", ErrLeaseHeld, held.Owner, held.ExpiresAt.Format(time.RFC3339))
	}

	logger.WithField("group", group).Warn("Taking over expired lease")
	if err := s.putLease(ctx, name, lease, true); err != nil {
		return nil, fmt.Errorf("%w: failed to take over lease %s: %v", ErrRegistryUnavailable, name, err)
	}
	return lease, nil
}

func (s *SSMRegistry) ReleaseLease(ctx context.Context, lease *Lease) error {
	name := s.layout.LeaseKey(lease.Group)
	held, err := s.readLease(ctx, name)
	if err != nil {
		return err
	}
	if held == nil || held.Token != lease.Token {
		logger.WithField("group", lease.Group).Warn("Lease no longer owned, skipping release")
		return nil
	}
	if _, err := s.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(name)}); err != nil {
		if isAPIError(err, "ParameterNotFound") {
			return nil
		}
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

// DistributionID reads the CDN distribution id stored next to the active color
func (s *SSMRegistry) DistributionID(ctx context.Context, group string) (string, error) {
	name := s.layout.DistributionKey(group)
	value, err := s.getParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to read distribution id %s: %w", name, err)
	}
	return strings.TrimSpace(value), nil
}

func (s *SSMRegistry) getParameter(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(name)})
	if err != nil {
		return "", err
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *out.Parameter.Value, nil
}

func (s *SSMRegistry) putLease(ctx context.Context, name string, lease *Lease, overwrite bool) error {
	body, err := json.Marshal(lease)
	if err != nil {
		return err
	}
	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(string(body)),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(overwrite),
	})
	return err
}

func (s *SSMRegistry) readLease(ctx context.Context, name string) (*Lease, error) {
	value, err := s.getParameter(ctx, name)
	if err != nil {
		if isAPIError(err, "ParameterNotFound") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to read lease %s: %v", ErrRegistryUnavailable, name, err)
	}
	var lease Lease
	if err := json.Unmarshal([]byte(value), &lease); err != nil {
		// unreadable leases are treated as expired
		logger.WithField("name", name).WithError(err).Warn("Ignoring malformed lease")
		return nil, nil
	}
	return &lease, nil
}

func isAPIError(err error, code string) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == code
	}
	return false
}
