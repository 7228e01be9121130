package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollUntil(t *testing.T) {
	tests := []struct {
		name          string
		statuses      []string
		maxAttempts   int
		wantCalls     int
		wantTimeout   bool
		wantLastValue string
	}{
		{
			name:        "never settles",
			statuses:    []string{"InProgress", "InProgress", "InProgress", "InProgress"},
			maxAttempts: 3,
			wantCalls:   3,
			wantTimeout: true,
		},
		{
			name:          "settles on first poll",
			statuses:      []string{"Deployed"},
			maxAttempts:   3,
			wantCalls:     1,
			wantLastValue: "Deployed",
		},
		{
			name:          "settles on last allowed poll",
			statuses:      []string{"InProgress", "InProgress", "Deployed"},
			maxAttempts:   3,
			wantCalls:     3,
			wantLastValue: "Deployed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			policy := RetryPolicy[string]{
				MaxAttempts: tt.maxAttempts,
				Interval:    0,
				IsDone:      func(s string) bool { return s == "Deployed" },
			}
			got, err := PollUntil(context.Background(), policy, func(ctx context.Context) (string, error) {
				s := tt.statuses[calls]
				calls++
				return s, nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantTimeout {
				var te *TimeoutError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tt.maxAttempts, te.Attempts)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLastValue, got)
		})
	}
}

func TestPollUntilFetchErrorsCountAsAttempts(t *testing.T) {
	calls := 0
	policy := RetryPolicy[string]{MaxAttempts: 2, IsDone: func(s string) bool { return s == "ok" }}
	_, err := PollUntil(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("throttled")
	})

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, calls)
	assert.Contains(t, te.LastStatus, "throttled")
}

func TestPollUntilSleepsBetweenAttemptsOnly(t *testing.T) {
	var slept []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	policy := RetryPolicy[int]{MaxAttempts: 4, Interval: 30 * time.Second, IsDone: func(int) bool { return false }}

	_, err := PollUntilWithSleeper(context.Background(), policy, func(ctx context.Context) (int, error) { return 0, nil }, sleeper)

	require.Error(t, err)
	assert.Len(t, slept, 3)
	for _, d := range slept {
		assert.Equal(t, 30*time.Second, d)
	}
}

func TestPollUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy[int]{MaxAttempts: 5, Interval: time.Hour, IsDone: func(int) bool { return false }}

	_, err := PollUntil(ctx, policy, func(ctx context.Context) (int, error) { return 0, nil })

	require.ErrorIs(t, err, context.Canceled)
	var te *TimeoutError
	assert.False(t, errors.As(err, &te))
}

func TestPollUntilRejectsInvalidPolicy(t *testing.T) {
	_, err := PollUntil(context.Background(), RetryPolicy[int]{MaxAttempts: 0, IsDone: func(int) bool { return true }},
		func(ctx context.Context) (int, error) { return 0, nil })
	assert.Error(t, err)

	_, err = PollUntil(context.Background(), RetryPolicy[int]{MaxAttempts: 1},
		func(ctx context.Context) (int, error) { return 0, nil })
	assert.Error(t, err)
}
