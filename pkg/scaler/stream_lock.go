package scaler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"streamscaler/pkg/logger"
)

const (
	streamLockPrefix   = "streamscaler:lock:"
	lockTTL            = 30 * time.Second
	lockAcquireTimeout = 5 * time.Second
	lockExtendInterval = 10 * time.Second
)

// unlockScript deletes the lock only when we still own it.
const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// renewScript extends the TTL only when we still own the lock.
const renewScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("expire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

// StreamLock serializes invocations per stream so the cooldown
// check-then-act sequence is never raced by the paired alarm firing at the
// same moment. With a nil Redis client the lock degrades to always-granted
// single-instance mode.
type StreamLock struct {
	client    *redis.Client
	lockKey   string
	lockValue string

	mu         sync.Mutex
	isHeld     bool
	acquiredAt time.Time
	stopRenew  chan struct{}
	renewDone  bool
}

// NewStreamLock creates a lock scoped to one stream.
func NewStreamLock(client *redis.Client, stream string) *StreamLock {
	return &StreamLock{
		client:    client,
		lockKey:   streamLockPrefix + stream,
		lockValue: uuid.NewString(),
	}
}

// TryLock attempts to acquire the lock without blocking on contention.
func (l *StreamLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		logger.Warn("redis client is nil, skipping stream lock (running in single-instance mode)")
		l.mu.Lock()
		l.isHeld = true
		l.mu.Unlock()
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.lockKey, l.lockValue, lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.lockKey, err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "lock %s already held by another invocation", l.lockKey)
		return false, nil
	}

	l.mu.Lock()
	l.isHeld = true
	l.acquiredAt = time.Now()
	l.stopRenew = make(chan struct{})
	l.renewDone = false
	l.mu.Unlock()

	go l.renew(ctx)

	logger.DebugCtx(ctx, "lock %s acquired", l.lockKey)
	return true, nil
}

// Unlock releases the lock if held. Only our own lock value is deleted, so
// a lock that expired and was re-acquired elsewhere is left alone.
func (l *StreamLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.isHeld {
		l.mu.Unlock()
		return nil
	}
	if l.client == nil {
		l.isHeld = false
		l.mu.Unlock()
		return nil
	}
	if !l.renewDone {
		l.renewDone = true
		close(l.stopRenew)
	}
	l.mu.Unlock()

	result, err := l.client.Eval(ctx, unlockScript, []string{l.lockKey}, l.lockValue).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.lockKey, err)
	}

	l.mu.Lock()
	l.isHeld = false
	l.mu.Unlock()

	if result.(int64) != 1 {
		logger.WarnCtx(ctx, "lock %s was already expired or taken over", l.lockKey)
	}
	return nil
}

// IsHeld reports whether this instance currently believes it holds the lock.
func (l *StreamLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isHeld
}

// renew keeps the TTL ahead of long resharding walks. Losing the renewal
// marks the lock as not held so the caller's verdicts stop trusting it.
func (l *StreamLock) renew(ctx context.Context) {
	ticker := time.NewTicker(lockExtendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopRenew:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := l.client.Eval(ctx, renewScript,
				[]string{l.lockKey},
				l.lockValue,
				int(lockTTL.Seconds())).Result()
			if err != nil {
				logger.WarnCtx(ctx, "failed to renew lock %s: %v", l.lockKey, err)
				l.markLost()
				return
			}
			if result.(int64) == 0 {
				logger.WarnCtx(ctx, "lock %s renewal failed, lock lost", l.lockKey)
				l.markLost()
				return
			}
			logger.DebugCtx(ctx, "lock %s renewed", l.lockKey)
		}
	}
}

func (l *StreamLock) markLost() {
	l.mu.Lock()
	l.isHeld = false
	l.mu.Unlock()
}
