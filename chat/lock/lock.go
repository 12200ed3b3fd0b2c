// Package lock implements the distributed thread lock that serializes
// outbound completion-engine calls per conversation thread.
//
// The lock is an ephemeral Redis key holding an opaque holder token.
// Release and extend are compare-and-delete / compare-and-expire Lua
// scripts so an expired lock that has since been re-acquired by another
// holder can never be removed or prolonged by the original holder.
package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed worker can hold a thread.
	// It doubles as the staleness-detection polling unit.
	DefaultTTL = 300 * time.Second

	lockKeyPrefix = "chat:lock:"
	runKeyPrefix  = "chat:run:"
)

// releaseScript deletes the lock key only when its current value equals
// the caller's holder token, and drops the active-run marker with it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[2])
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript renews the TTL only for the current holder. The run
// marker, when present, is kept on the same clock as the lock.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[2], ARGV[2])
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// clearRunScript deletes the run marker only when it still records the
// caller's run id. A superseded job must never wipe the marker its
// successor has since written.
var clearRunScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ThreadLocker provides exclusive, expiring, ownership-checked mutual
// exclusion keyed by conversation thread id.
//
// Every method reports transport errors to the caller instead of
// mapping them to a lock state: a store error means "cannot determine",
// never "unlocked".
type ThreadLocker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func New(rdb redis.UniversalClient, ttl time.Duration) *ThreadLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ThreadLocker{rdb: rdb, ttl: ttl}
}

// TTLDuration returns the configured lock TTL.
func (l *ThreadLocker) TTLDuration() time.Duration {
	return l.ttl
}

func lockKey(threadID string) string {
	return lockKeyPrefix + threadID
}

func runKey(threadID string) string {
	return runKeyPrefix + threadID
}

// Acquire atomically sets the lock key only if absent. It returns
// whether the acquisition succeeded.
func (l *ThreadLocker) Acquire(ctx context.Context, threadID, holderToken string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKey(threadID), holderToken, l.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release atomically deletes the lock only if it is still held by
// holderToken. Returns whether the delete happened.
func (l *ThreadLocker) Release(ctx context.Context, threadID, holderToken string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{lockKey(threadID), runKey(threadID)}, holderToken).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Extend renews the lock TTL only for the current holder.
func (l *ThreadLocker) Extend(ctx context.Context, threadID, holderToken string) (bool, error) {
	n, err := extendScript.Run(ctx, l.rdb,
		[]string{lockKey(threadID), runKey(threadID)},
		holderToken, l.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsLocked reports whether a non-expired lock exists for the thread.
func (l *ThreadLocker) IsLocked(ctx context.Context, threadID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, lockKey(threadID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TTL returns the remaining lifetime of the lock. go-redis maps the
// Redis sentinels to raw negative durations: -2 when no lock exists,
// -1 when the key has no expiry. Callers should only test the sign.
func (l *ThreadLocker) TTL(ctx context.Context, threadID string) (time.Duration, error) {
	return l.rdb.TTL(ctx, lockKey(threadID)).Result()
}

// SetActiveRun records the in-flight remote run id for a locked thread
// so a successor job can discover and cancel it. The marker carries the
// same TTL as the lock.
func (l *ThreadLocker) SetActiveRun(ctx context.Context, threadID, runID string) error {
	return l.rdb.Set(ctx, runKey(threadID), runID, l.ttl).Err()
}

// ActiveRun returns the recorded run id, or "" when none is set.
func (l *ThreadLocker) ActiveRun(ctx context.Context, threadID string) (string, error) {
	runID, err := l.rdb.Get(ctx, runKey(threadID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return runID, nil
}

// ClearActiveRun atomically removes the run marker only while it still
// holds runID. It returns whether the delete happened; a false result
// means a takeover already replaced the marker and it must be left
// alone.
func (l *ThreadLocker) ClearActiveRun(ctx context.Context, threadID, runID string) (bool, error) {
	n, err := clearRunScript.Run(ctx, l.rdb, []string{runKey(threadID)}, runID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ForceClear unconditionally deletes both the lock and the active-run
// marker. It bypasses holder-token checking and must only be reachable
// by trusted callers (the takeover path and the admin facade). Calling
// it on an unlocked thread is a no-op.
func (l *ThreadLocker) ForceClear(ctx context.Context, threadID string) error {
	return l.rdb.Del(ctx, lockKey(threadID), runKey(threadID)).Err()
}

// AcquireWithRetry is the bounded fast-fail acquire: a handful of
// short-interval attempts. It returns false without error when every
// attempt found the thread locked.
func (l *ThreadLocker) AcquireWithRetry(ctx context.Context, threadID, holderToken string, attempts int, interval time.Duration) (bool, error) {
	if attempts <= 0 {
		attempts = 5
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	for i := 0; i < attempts; i++ {
		ok, err := l.Acquire(ctx, threadID, holderToken)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
	return false, nil
}

// WaitAcquire is the long-poll fallback: it keeps trying, with a
// growing poll interval, until the ceiling or the context expires. The
// worker prefers the takeover protocol over this path.
func (l *ThreadLocker) WaitAcquire(ctx context.Context, threadID, holderToken string, ceiling time.Duration) (bool, error) {
	if ceiling <= 0 {
		ceiling = 3 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	interval := 200 * time.Millisecond
	for {
		ok, err := l.Acquire(ctx, threadID, holderToken)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return false, nil
			}
			return false, ctx.Err()
		case <-time.After(interval):
		}

		interval += interval / 2
		if interval > 2*time.Second {
			interval = 2 * time.Second
		}
	}
}
