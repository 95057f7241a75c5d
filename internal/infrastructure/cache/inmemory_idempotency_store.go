package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/backoffice/internal/domain/shared"
)

const defaultIdempotencySweepInterval = 5 * time.Minute

// InMemoryIdempotencyStore remembers applied fact ids in process memory.
// It only deduplicates within one instance; the durable ledger covers the rest.
type InMemoryIdempotencyStore struct {
	mu        sync.Mutex
	expiry    map[string]time.Time
	now       func() time.Time
	interval  time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// InMemoryIdempotencyOption configures the store
type InMemoryIdempotencyOption func(*InMemoryIdempotencyStore)

// WithSweepInterval sets how often expired ids are dropped
func WithSweepInterval(d time.Duration) InMemoryIdempotencyOption {
	return func(s *InMemoryIdempotencyStore) {
		if d > 0 {
			s.interval = d
		}
	}
}

// withIdempotencyClock replaces the time source
func withIdempotencyClock(now func() time.Time) InMemoryIdempotencyOption {
	return func(s *InMemoryIdempotencyStore) {
		s.now = now
	}
}

// NewInMemoryIdempotencyStore creates the store and starts its sweeper
func NewInMemoryIdempotencyStore(opts ...InMemoryIdempotencyOption) *InMemoryIdempotencyStore {
	s := &InMemoryIdempotencyStore{
		expiry:   make(map[string]time.Time),
		now:      time.Now,
		interval: defaultIdempotencySweepInterval,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

// MarkProcessed records the id for ttl. It returns false when the id is already recorded.
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.expiry[id]; ok && now.Before(exp) {
		return false, nil
	}
	s.expiry[id] = now.Add(ttl)
	return true, nil
}

// IsProcessed reports whether the id is recorded and not expired
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.expiry[id]
	return ok && s.now().Before(exp), nil
}

// Forget drops an id so a failed apply can be retried
func (s *InMemoryIdempotencyStore) Forget(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.expiry, id)
	s.mu.Unlock()
	return nil
}

// Close stops the sweeper. Safe to call multiple times.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryIdempotencyStore) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryIdempotencyStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, exp := range s.expiry {
		if !now.Before(exp) {
			delete(s.expiry, id)
		}
	}
}

// Size returns the number of recorded ids, expired ones included until the next sweep
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expiry)
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
