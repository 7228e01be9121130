package poll

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "poll")

// RetryPolicy bounds a polling loop
type RetryPolicy[T any] struct {
	MaxAttempts int
	Interval    time.Duration
	// IsDone decides whether the observed status is terminal
	IsDone func(status T) bool
}

// TimeoutError is returned when MaxAttempts polls never reached a terminal status.
// The observed system is in an unknown state, not a failed one.
type TimeoutError struct {
	Attempts   int
	LastStatus string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("status did not settle after %d attempts (last status: %s)", e.Attempts, e.LastStatus)
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PollUntil calls fetch until policy.IsDone accepts the status, sleeping policy.Interval
// between attempts. Fetch errors are logged and count as an attempt.
func PollUntil[T any](ctx context.Context, policy RetryPolicy[T], fetch func(ctx context.Context) (T, error)) (T, error) {
	return PollUntilWithSleeper(ctx, policy, fetch, ContextSleep)
}

// PollUntilWithSleeper is PollUntil with an injectable sleep
func PollUntilWithSleeper[T any](ctx context.Context, policy RetryPolicy[T], fetch func(ctx context.Context) (T, error), sleep Sleeper) (T, error) {
	var last T
	if policy.IsDone == nil {
		return last, fmt.Errorf("retry policy has no IsDone predicate")
	}
	if policy.MaxAttempts < 1 {
		return last, fmt.Errorf("retry policy needs at least one attempt, got %d", policy.MaxAttempts)
	}

	lastStatus := "none"
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		status, err := fetch(ctx)
		if err != nil {
			lastStatus = "error: " + err.Error()
			logger.WithField("attempt", attempt).WithError(err).Warn("Poll attempt failed")
		} else {
			last = status
			lastStatus = fmt.Sprint(status)
			logger.WithField("attempt", attempt).WithField("status", lastStatus).Debug("Polled status")
			if policy.IsDone(status) {
				return status, nil
			}
		}

		if attempt == policy.MaxAttempts {
			break
		}
		if err := sleep(ctx, policy.Interval); err != nil {
			return last, fmt.Errorf("polling interrupted: %w", err)
		}
	}

	return last, &TimeoutError{Attempts: policy.MaxAttempts, LastStatus: lastStatus}
}
