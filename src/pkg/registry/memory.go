package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/google/uuid"
)

// MemoryRegistry keeps state in process, used for dry runs and tests
type MemoryRegistry struct {
	mu     sync.Mutex
	active map[string]models.Color
	leases map[string]*Lease
	now    func() time.Time

	// Unavailable simulates an unreachable backing store
	Unavailable bool
}

// Ensure MemoryRegistry implements Registry
var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates a new in-memory registry seeded with active colors
func NewMemoryRegistry(seed map[string]models.Color) *MemoryRegistry {
	active := make(map[string]models.Color, len(seed))
	for g, c := range seed {
		active[g] = c
	}
	return &MemoryRegistry{
		active: active,
		leases: make(map[string]*Lease),
		now:    time.Now,
	}
}

func (m *MemoryRegistry) ActiveColor(ctx context.Context, group string) (models.Color, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unavailable {
		return "", fmt.Errorf("%w: memory store offline", ErrRegistryUnavailable)
	}
	c, ok := m.active[group]
	if !ok {
		return "", fmt.Errorf("%w: no active color set for group %s", ErrRegistryUnavailable, group)
	}
	return c, nil
}

func (m *MemoryRegistry) SetActiveColor(ctx context.Context, group string, color models.Color) error {
	if !color.Valid() {
		return fmt.Errorf("refusing to store invalid color %q", color)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unavailable {
		return fmt.Errorf("%w: memory store offline", ErrRegistryUnavailable)
	}
	m.active[group] = color
	return nil
}

func (m *MemoryRegistry) AcquireLease(ctx context.Context, group, owner string, ttl time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if held, ok := m.leases[group]; ok && !held.Expired(now) {
		return nil, fmt.Errorf("%w: held by %s until %s", ErrLeaseHeld, held.Owner, held.ExpiresAt.Format(time.RFC3339))
	}
	lease := &Lease{Group: group, Owner: owner, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	m.leases[group] = lease
	return lease, nil
}

func (m *MemoryRegistry) ReleaseLease(ctx context.Context, lease *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[lease.Group]; ok && held.Token == lease.Token {
		delete(m.leases, lease.Group)
	}
	return nil
}
