package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "registry")

var (
	// ErrRegistryUnavailable covers an unreachable store and an unset key
	ErrRegistryUnavailable = errors.New("environment registry unavailable")
	// ErrLeaseHeld means another run currently owns the group
	ErrLeaseHeld = errors.New("group is locked by another run")
)

// Registry holds the single source of truth for which color serves traffic
type Registry interface {
	// ActiveColor returns the color currently serving the group
	ActiveColor(ctx context.Context, group string) (models.Color, error)
	// SetActiveColor atomically replaces the active color of the group
	SetActiveColor(ctx context.Context, group string, color models.Color) error
	// AcquireLease takes the per-group run lock
	AcquireLease(ctx context.Context, group, owner string, ttl time.Duration) (*Lease, error)
	// ReleaseLease drops a lease taken by AcquireLease
	ReleaseLease(ctx context.Context, lease *Lease) error
}

// Lease is a time-bounded exclusive claim on a group
type Lease struct {
	Group     string    `json:"group"`
	Owner     string    `json:"owner"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// InactiveColor returns the complement of the active color
func InactiveColor(ctx context.Context, r Registry, group string) (models.Color, error) {
	active, err := r.ActiveColor(ctx, group)
	if err != nil {
		return "", err
	}
	return active.Other(), nil
}

// Environments resolves both colors of a group with their active flag
func Environments(ctx context.Context, r Registry, group string, layout Layout) ([]models.Environment, error) {
	active, err := r.ActiveColor(ctx, group)
	if err != nil {
		return nil, err
	}
	envs := make([]models.Environment, 0, 2)
	for _, c := range []models.Color{models.COLOR_BLUE, models.COLOR_GREEN} {
		envs = append(envs, models.Environment{
			Group:         group,
			Color:         c,
			StorageTarget: layout.Bucket(group, c),
			URL:           layout.IdleURL(group, c),
			IsActive:      c == active,
		})
	}
	return envs, nil
}

// Layout derives resource names for a group and color
type Layout struct {
	App              string
	Region           string
	Domain           string
	ProductionGroups []string
}

// NewLayout creates a new Layout
func NewLayout(app, region, domain string, productionGroups []string) Layout {
	return Layout{App: app, Region: region, Domain: domain, ProductionGroups: productionGroups}
}

func (l Layout) ActiveKey(group string) string {
	return fmt.Sprintf("/%s/%s/active-environment", group, l.App)
}

func (l Layout) LeaseKey(group string) string {
	return fmt.Sprintf("/%s/%s/deploy-lease", group, l.App)
}

func (l Layout) DistributionKey(group string) string {
	return fmt.Sprintf("/%s/%s/cloudfront-distribution-id", group, l.App)
}

func (l Layout) Bucket(group string, color models.Color) string {
	return fmt.Sprintf("%s-%s-%s-bucket", group, color, l.App)
}

// IdleURL is the direct website endpoint of a color, bypassing the CDN
func (l Layout) IdleURL(group string, color models.Color) string {
	return fmt.Sprintf("http://%s.s3-website-%s.amazonaws.com", l.Bucket(group, color), l.Region)
}

// PublicURL is the domain that the traffic switch points at a color
func (l Layout) PublicURL(group string) string {
	if l.IsProduction(group) {
		return "https://" + l.Domain
	}
	return fmt.Sprintf("https://%s.%s", group, l.Domain)
}

func (l Layout) IsProduction(group string) bool {
	for _, g := range l.ProductionGroups {
		if g == group {
			return true
		}
	}
	return false
}
