package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrLockFailed = errors.New("failed to acquire distributed lock")

// DistributedLock is a redis SetNX lock with an owner token. The token is
// checked on release so an expired holder cannot delete someone else's
// lock.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock attempts a non-blocking acquire. SetNX succeeds for exactly one
// caller; the expiration guards against a crashed holder leaving the lock
// stuck.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock acquires with retries, honoring ctx cancellation between attempts.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock. The check-then-delete runs as a Lua script so
// it is atomic against a concurrent expiry-and-reacquire.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// Manager hands out per-student allocation locks. Locking per student keeps
// different students fully concurrent while serializing the balance
// read-then-write for any one student's obligations.
type Manager struct {
	client *redis.Client
}

func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

func (m *Manager) AcquireStudentLock(ctx context.Context, tenantID, studentID int64) (func(), error) {
	key := fmt.Sprintf("ledger:lock:student:%d:%d", tenantID, studentID)
	value := fmt.Sprintf("%d", time.Now().UnixNano())
	l := NewDistributedLock(m.client, key, value, 30*time.Second)
	if err := l.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, err
	}
	return func() {
		// Release must run even when the request context was cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Unlock(releaseCtx)
	}, nil
}
