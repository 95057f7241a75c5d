package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RunGuard prevents overlapping runs of the same job. Acquire returns
// shared.ErrAlreadyRunning when another run holds the name.
type RunGuard interface {
	Acquire(ctx context.Context, name string) (release func(), err error)
}

// LocalRunGuard guards runs within one process
type LocalRunGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalRunGuard creates an empty guard
func NewLocalRunGuard() *LocalRunGuard {
	return &LocalRunGuard{held: make(map[string]struct{})}
}

// Acquire implements RunGuard
func (g *LocalRunGuard) Acquire(_ context.Context, name string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[name]; ok {
		return nil, shared.ErrAlreadyRunning
	}
	g.held[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, name)
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether name is currently held
func (g *LocalRunGuard) Held(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[name]
	return ok
}

// RedisRunGuard guards runs across instances with a Redis lock that is
// refreshed while the run is active.
type RedisRunGuard struct {
	locker *redislock.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// RedisRunGuardOption configures a RedisRunGuard
type RedisRunGuardOption func(*RedisRunGuard)

// WithLockPrefix sets the Redis key prefix of job locks
func WithLockPrefix(prefix string) RedisRunGuardOption {
	return func(g *RedisRunGuard) {
		g.prefix = prefix
	}
}

// WithGuardLogger sets the logger
func WithGuardLogger(logger *zap.Logger) RedisRunGuardOption {
	return func(g *RedisRunGuard) {
		g.logger = logger
	}
}

// NewRedisRunGuard creates a guard over the given client. ttl bounds how long
// a crashed holder blocks other instances.
func NewRedisRunGuard(client redis.UniversalClient, ttl time.Duration, opts ...RedisRunGuardOption) *RedisRunGuard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	g := &RedisRunGuard{
		locker: redislock.New(client),
		ttl:    ttl,
		prefix: "backoffice:joblock:",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire implements RunGuard
func (g *RedisRunGuard) Acquire(ctx context.Context, name string) (func(), error) {
	lock, err := g.locker.Obtain(ctx, g.prefix+name, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, shared.ErrAlreadyRunning
	}
	if err != nil {
		return nil, fmt.Errorf("obtain job lock %s: %w", name, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go g.refreshLoop(lock, name, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				g.logger.Warn("Failed to release job lock", zap.String("job", name), zap.Error(err))
			}
		})
	}, nil
}

func (g *RedisRunGuard) refreshLoop(lock *redislock.Lock, name string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := lock.Refresh(ctx, g.ttl, nil)
			cancel()
			if err != nil {
				g.logger.Warn("Failed to refresh job lock", zap.String("job", name), zap.Error(err))
			}
		}
	}
}

// ChainedRunGuard acquires every guard in order and releases them in reverse
type ChainedRunGuard []RunGuard

// Acquire implements RunGuard
func (c ChainedRunGuard) Acquire(ctx context.Context, name string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, g := range c {
		release, err := g.Acquire(ctx, name)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
