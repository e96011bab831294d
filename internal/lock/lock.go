// Package lock implements the distributed mutual-exclusion primitive used
// to serialize per-entity upload work across consumers and processes. It
// is backed by the same Redis instance as the queue adapter.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrAcquireTimeout is returned by Acquire when max_wait elapses without
// success.
var ErrAcquireTimeout = errors.New("lock: acquire timed out")

// releaseScript performs an atomic compare-and-delete: it deletes the key
// only if its current value still equals the caller's token, so a holder
// never deletes a lock it does not own (e.g. one that expired and was
// re-acquired by someone else).
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`

// refreshScript performs an atomic compare-and-expire: it extends the TTL
// only if the stored value still equals the caller's token.
const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("EXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`

// Locker hands out distributed locks backed by a shared Redis client; one
// Locker serves every entity key, which is passed to each Acquire call. A
// Locker is not itself a held lock: call Acquire to obtain a Guard for the
// critical section.
type Locker struct {
	client      redis.UniversalClient
	release     *redis.Script
	refresh     *redis.Script
	lockTimeout time.Duration
}

// New constructs a Locker. lockTimeout is the TTL applied to every
// acquisition and to every Refresh call.
func New(client redis.UniversalClient, lockTimeout time.Duration) *Locker {
	return &Locker{
		client:      client,
		release:     redis.NewScript(releaseScript),
		refresh:     redis.NewScript(refreshScript),
		lockTimeout: lockTimeout,
	}
}

// Guard represents a held lock. Release must be called exactly once, on
// the same goroutine that called Acquire, on every exit path of the
// critical section — typically via `defer guard.Release(ctx)`. There is no
// destructor-based or finalizer-based release: a scoped guard returned by
// Acquire is the only way this lock is ever released, by design (see
// spec's "scoped lock release" redesign note).
type Guard struct {
	locker *Locker
	key    string
	token  string
}

// Acquire repeatedly attempts SET key token NX EX ttl, sleeping
// retryInterval between attempts, until it succeeds or maxWait elapses. It
// returns ErrAcquireTimeout (not a broker error) when maxWait elapses with
// no success, so callers can distinguish "lock contended" from "broker
// unreachable".
func (l *Locker) Acquire(ctx context.Context, entityKey string, retryInterval, maxWait time.Duration) (*Guard, error) {
	key := "upload_lock:" + entityKey
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("lock: generate token: %w", err)
	}

	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lockTimeout).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: setnx %s: %w", key, err)
		}
		if ok {
			return &Guard{locker: l, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrAcquireTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release performs the compare-and-delete. It returns true if this guard's
// token still matched the stored value (i.e. deletion actually occurred),
// false if the lock had already expired or been stolen by another holder.
func (g *Guard) Release(ctx context.Context) (bool, error) {
	res, err := g.locker.release.Run(ctx, g.locker.client, []string{g.key}, g.token).Int64()
	if err != nil {
		return false, fmt.Errorf("lock: release %s: %w", g.key, err)
	}
	return res == 1, nil
}

// Refresh extends the lock's TTL back to lockTimeout, provided this
// guard's token still matches the stored value.
func (g *Guard) Refresh(ctx context.Context) (bool, error) {
	res, err := g.locker.refresh.Run(ctx, g.locker.client, []string{g.key}, g.token, int64(g.locker.lockTimeout.Seconds())).Int64()
	if err != nil {
		return false, fmt.Errorf("lock: refresh %s: %w", g.key, err)
	}
	return res == 1, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
