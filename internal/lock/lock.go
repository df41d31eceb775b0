// Package lock serialises workflow operations that touch the same record.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/config"
)

// ErrNotObtained is returned when a lock stays contended past the retry budget.
var ErrNotObtained = errors.New("lock not obtained")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive leases per key.
type Locker interface {
	Obtain(ctx context.Context, key string) (Lease, error)
}

// Module provides the Locker to Fx.
var Module = fx.Provide(New)

// New returns a redis-backed Locker when a redis client is available and an
// in-process one otherwise.
func New(cfg config.Config, client *goredis.Client, logger *zap.Logger) Locker {
	wf := cfg.Workflow
	if client == nil {
		if logger != nil {
			logger.Info("using in-process workflow locks")
		}
		return NewLocal(wf.LockRetryDelay * time.Duration(wf.LockRetries+1))
	}
	return NewRedis(client, wf.LockTTL, wf.LockRetries, wf.LockRetryDelay, logger)
}

// Key builds a lock key for a single row.
func Key(table string, id int64) string {
	return fmt.Sprintf("%s:%d", table, id)
}

type redisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	delay   time.Duration
	logger  *zap.Logger
}

// NewRedis builds a Locker on top of redislock.
func NewRedis(client redislock.RedisClient, ttl time.Duration, retries int, delay time.Duration, logger *zap.Logger) Locker {
	return &redisLocker{
		client:  redislock.New(client),
		ttl:     ttl,
		retries: retries,
		delay:   delay,
		logger:  logger,
	}
}

func (l *redisLocker) Obtain(ctx context.Context, key string) (Lease, error) {
	lk, err := l.client.Obtain(ctx, "hvacops:lock:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.delay), l.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return &redisLease{lock: lk, key: key, logger: l.logger}, nil
}

type redisLease struct {
	lock   *redislock.Lock
	key    string
	logger *zap.Logger
}

func (l *redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		if l.logger != nil {
			l.logger.Warn("workflow lock expired before release", zap.String("key", l.key))
		}
		return nil
	}
	return err
}

type localLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
	wait  time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns an in-process Locker. Obtain waits at most wait for a
// contended key; wait <= 0 waits until the context ends.
func NewLocal(wait time.Duration) Locker {
	return &localLocker{slots: make(map[string]*slot), wait: wait}
}

func (l *localLocker) Obtain(ctx context.Context, key string) (Lease, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case s.ch <- struct{}{}:
		return &localLease{locker: l, key: key, slot: s}, nil
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	case <-timeout:
		l.unref(key, s)
		return nil, fmt.Errorf("%s: %w", key, ErrNotObtained)
	}
}

func (l *localLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

type localLease struct {
	locker *localLocker
	key    string
	slot   *slot
	once   sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		<-l.slot.ch
		l.locker.unref(l.key, l.slot)
	})
	return nil
}
