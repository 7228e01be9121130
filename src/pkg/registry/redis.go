package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRegistry stores the active color in redis, one key per group
type RedisRegistry struct {
	client redis.UniversalClient
	layout Layout
	now    func() time.Time
}

// Ensure RedisRegistry implements Registry
var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry creates a new redis-backed registry
func NewRedisRegistry(client redis.UniversalClient, layout Layout) *RedisRegistry {
	return &RedisRegistry{client: client, layout: layout, now: time.Now}
}

// DialRedis connects and pings, failing fast when the store is unreachable
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: failed to ping redis at %s: %v", ErrRegistryUnavailable, addr, err)
	}
	return client, nil
}

func (r *RedisRegistry) key(group, suffix string) string {
	return fmt.Sprintf("%s:%s:%s", r.layout.App, group, suffix)
}

func (r *RedisRegistry) ActiveColor(ctx context.Context, group string) (models.Color, error) {
	key := r.key(group, "active-environment")
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: key %s is not set", ErrRegistryUnavailable, key)
	}
	if err != nil {
		return "", fmt.Errorf("%w: failed to read %s: %v", ErrRegistryUnavailable, key, err)
	}
	color, err := models.ParseColor(value)
	if err != nil {
		return "", fmt.Errorf("%w: key %s: %v", ErrRegistryUnavailable, key, err)
	}
	return color, nil
}

func (r *RedisRegistry) SetActiveColor(ctx context.Context, group string, color models.Color) error {
	if !color.Valid() {
		return fmt.Errorf("refusing to store invalid color %q", color)
	}
	key := r.key(group, "active-environment")
	if err := r.client.Set(ctx, key, string(color), 0).Err(); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", ErrRegistryUnavailable, key, err)
	}
	logger.WithField("group", group).WithField("color", color).Info("Updated active color")
	return nil
}

func (r *RedisRegistry) AcquireLease(ctx context.Context, group, owner string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{Group: group, Owner: owner, Token: uuid.NewString(), ExpiresAt: r.now().Add(ttl)}
	body, err := json.Marshal(lease)
	if err != nil {
		return nil, err
	}
	key := r.key(group, "deploy-lease")
	ok, err := r.client.SetNX(ctx, key, body, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to write lease %s: %v", ErrRegistryUnavailable, key, err)
	}
	if !ok {
		holder := "another run"
		if raw, err := r.client.Get(ctx, key).Result(); err == nil {
			var held Lease
			if json.Unmarshal([]byte(raw), &held) == nil {
				holder = held.Owner
			}
		}
		return nil, fmt.Errorf("%w: held by %s", ErrLeaseHeld, holder)
	}
	return lease, nil
}

func (r *RedisRegistry) ReleaseLease(ctx context.Context, lease *Lease) error {
	body, err := json.Marshal(lease)
	if err != nil {
		return err
	}
	key := r.key(lease.Group, "deploy-lease")
	if err := releaseScript.Run(ctx, r.client, []string{key}, string(body)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}
	return nil
}
