// Package lockx is a single-holder Redis lease. The worker uses it so only
// one replica scans the outbox at a time.
package lockx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Both scripts act only while the caller still owns the key.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

var ErrLost = errors.New("lease lost")

// Lease is a held lock. Token distinguishes this holder from a later one that
// acquired the key after expiry.
type Lease struct {
	client redis.Scripter
	key    string
	token  string
	ttl    time.Duration
}

type Locker struct {
	client interface {
		redis.Scripter
		SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	}
}

func New(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// TryAcquire returns (nil, nil) when someone else holds key.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis client not initialized")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be > 0")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, err
	}
	return &Lease{client: l.client, key: key, token: token, ttl: ttl}, nil
}

func (le *Lease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, le.client, []string{le.key}, le.token, le.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (le *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Err()
}

// Run executes fn while holding key, extending the lease every ttl/3. fn's
// context is cancelled if the lease is lost. ran is false when another holder
// owns the key.
func (l *Locker) Run(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (ran bool, err error) {
	lease, err := l.TryAcquire(ctx, key, ttl)
	if err != nil || lease == nil {
		return false, err
	}
	defer func() { _ = lease.Release(context.WithoutCancel(ctx)) }()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		tick := time.NewTicker(ttl / 3)
		defer tick.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-tick.C:
				// Transient errors are retried on the next tick.
				if err := lease.Extend(runCtx); errors.Is(err, ErrLost) {
					cancel(err)
					return
				}
			}
		}
	}()

	if err := fn(runCtx); err != nil {
		if cause := context.Cause(runCtx); errors.Is(cause, ErrLost) {
			return true, cause
		}
		return true, err
	}
	return true, nil
}
