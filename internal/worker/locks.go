package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"leadflow-platform/pkg/utils"
)

// MemoryLocker is the in-process LeadLocker for tests and single-node runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}
	return release, true, nil
}

// RedisLocker serializes leads across worker processes. The TTL bounds how
// long a crashed worker can block a lead.
type RedisLocker struct {
	Rdb    *redis.Client
	Prefix string
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "leadflow:lock"
	}
	lockKey := prefix + ":" + key
	token := uuid.NewString()

	ok, err := utils.AcquireLock(ctx, l.Rdb, lockKey, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		// Best effort; TTL is the backstop.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseLock(ctx, l.Rdb, lockKey, token)
	}
	return release, true, nil
}
