// Package lease guards a credential so that only one supervisor instance holds its
// voice presence at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/voice-supervisor/internal/errs"
	"github.com/redis/go-redis/v9"
)

// Lease is a renewable single-owner claim on a key.
type Lease interface {
	// Acquire returns false when another owner holds the key.
	Acquire(ctx context.Context, key string) (bool, error)
	// Refresh extends the claim; errs.ErrLeaseLost when it is no longer ours.
	Refresh(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// Local is the single-process lease: the in-memory registry already guarantees
// exclusivity, so every call succeeds.
type Local struct{}

func (Local) Acquire(context.Context, string) (bool, error) { return true, nil }
func (Local) Refresh(context.Context, string) error         { return nil }
func (Local) Release(context.Context, string) error         { return nil }

const keyPrefix = "voice:lease:"

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis implements Lease with SET NX PX and owner-checked scripts.
type Redis struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

// NewRedis creates a lease owned by owner; claims expire after ttl unless refreshed.
func NewRedis(client *redis.Client, owner string, ttl time.Duration) *Redis {
	return &Redis{client: client, owner: owner, ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, key string) (bool, error) {
	k := keyPrefix + key
	ok, err := r.client.SetNX(ctx, k, r.owner, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		return true, nil
	}
	cur, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return r.Acquire(ctx, key)
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if cur != r.owner {
		return false, nil
	}
	return true, r.Refresh(ctx, key)
}

func (r *Redis) Refresh(ctx context.Context, key string) error {
	n, err := refreshScript.Run(ctx, r.client, []string{keyPrefix + key}, r.owner, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lease: %w", err)
	}
	if n == 0 {
		return errs.ErrLeaseLost
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, r.client, []string{keyPrefix + key}, r.owner).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
