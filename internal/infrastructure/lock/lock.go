// Package lock serializes engine lanes of the same branch, across processes
// through Redis or within one process through LocalLocker.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"costengine/internal/domain/run"
	"costengine/pkg/logger"
)

// RedisLocker obtains lane locks from Redis. Obtain waits for a held lock
// until ctx is done; a held lock is refreshed every half TTL so long lanes
// keep it.
type RedisLocker struct {
	client  *redislock.Client
	backoff time.Duration
}

var _ run.LaneLocker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker over an existing redis client.
func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb), backoff: 200 * time.Millisecond}
}

// Connect dials Redis and verifies it with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (run.Lock, error) {
	lk, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.backoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("lane %s is busy: %w", key, err)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	held := &redisLock{lock: lk, stop: make(chan struct{}), done: make(chan struct{})}
	go held.keepAlive(context.WithoutCancel(ctx), ttl)
	return held, nil
}

type redisLock struct {
	lock *redislock.Lock
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (h *redisLock) keepAlive(ctx context.Context, ttl time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if err := h.lock.Refresh(ctx, ttl, nil); err != nil {
				logger.Warn(ctx, "refresh lane lock", "key", h.lock.Key(), "error", err)
				return
			}
		}
	}
}

func (h *redisLock) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		close(h.stop)
		<-h.done
		err = h.lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// Expired while refreshing failed; nothing left to release.
			err = nil
		}
	})
	return err
}

// LocalLocker serializes lanes within one process.
type LocalLocker struct {
	mu    sync.Mutex
	lanes map[string]chan struct{}
}

var _ run.LaneLocker = (*LocalLocker)(nil)

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{lanes: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.lanes[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.lanes[key] = ch
	}
	return ch
}

// Obtain ignores ttl: a local holder cannot die without the process.
func (l *LocalLocker) Obtain(ctx context.Context, key string, _ time.Duration) (run.Lock, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return &localLock{ch: ch}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("obtain lock %s: %w", key, ctx.Err())
	}
}

type localLock struct {
	once sync.Once
	ch   chan struct{}
}

func (h *localLock) Release(context.Context) error {
	h.once.Do(func() { <-h.ch })
	return nil
}
