package traffic

import (
	"context"
	"fmt"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/poll"
	"github.com/gh-nvat/bluegreen/src/pkg/registry"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "traffic")

const (
	DEFAULT_PROPAGATION_ATTEMPTS = 30
	DEFAULT_PROPAGATION_INTERVAL = 30 * time.Second
)

// Gateway flips public routing between colors and waits for the edge to catch up
type Gateway interface {
	// SwitchTo points public traffic of the group at color and records it in the registry
	SwitchTo(ctx context.Context, group string, color models.Color) error
	// PropagationTarget names what WaitUntilPropagated should poll for the group
	PropagationTarget(ctx context.Context, group string) (string, error)
	// WaitUntilPropagated polls until the change is live; a poll.TimeoutError means unknown state
	WaitUntilPropagated(ctx context.Context, target string, maxAttempts int, interval time.Duration) error
}

// StatusSource reads the rollout status of a routing change
type StatusSource interface {
	Status(ctx context.Context, id string) (string, error)
	Settled(status string) bool
}

// propagation is shared by every Gateway implementation
type propagation struct {
	source StatusSource
	sleep  poll.Sleeper
}

func (p *propagation) wait(ctx context.Context, target string, maxAttempts int, interval time.Duration) error {
	if target == "" {
		return fmt.Errorf("no propagation target to poll")
	}
	policy := poll.RetryPolicy[string]{
		MaxAttempts: maxAttempts,
		Interval:    interval,
		IsDone:      p.source.Settled,
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = poll.ContextSleep
	}
	attempt := 0
	_, err := poll.PollUntilWithSleeper(ctx, policy, func(ctx context.Context) (string, error) {
		attempt++
		status, err := p.source.Status(ctx, target)
		if err == nil && !p.source.Settled(status) {
			fmt.Printf("⏳ Propagation status: %s (attempt %d/%d), waiting %s...\n", status, attempt, maxAttempts, interval)
		}
		return status, err
	}, sleep)
	if err != nil {
		return err
	}
	logger.WithField("target", target).WithField("attempts", attempt).Info("Change propagated")
	return nil
}

// recordActive writes the new color after the routing change was accepted
func recordActive(ctx context.Context, reg registry.Registry, group string, color models.Color) error {
	if err := reg.SetActiveColor(ctx, group, color); err != nil {
		return fmt.Errorf("routing switched to %s but registry update failed: %w", color, err)
	}
	return nil
}
