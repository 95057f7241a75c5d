package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

const (
	defaultCleanupInterval = 30 * time.Second
	defaultL1MaxEntries    = 10000
)

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

func (e cacheEntry) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// segment is one namespace; simplelru keeps recency order and enforces the cap.
type segment = simplelru.LRU[string, cacheEntry]

// MemoryStore is the process-local L1 tier. Each namespace is an LRU with per-entry expiry.
type MemoryStore struct {
	mu              sync.Mutex
	segments        map[Namespace]*segment
	maxEntries      int
	cleanupInterval time.Duration
	now             func() time.Time
	logger          *zap.Logger

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// MemoryStoreOption is a functional option for configuring the store
type MemoryStoreOption func(*MemoryStore)

// WithMaxEntries caps the number of entries kept per namespace
func WithMaxEntries(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithCleanupInterval sets how often expired entries are swept
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithMemoryLogger sets the logger for the store
func WithMemoryLogger(logger *zap.Logger) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// withClock replaces the time source
func withClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates the store and starts its background sweeper
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		segments:        make(map[Namespace]*segment),
		maxEntries:      defaultL1MaxEntries,
		cleanupInterval: defaultCleanupInterval,
		now:             time.Now,
		logger:          zap.NewNop(),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) segment(ns Namespace) *segment {
	seg, ok := s.segments[ns]
	if !ok {
		// size is always positive, so NewLRU cannot fail
		seg, _ = simplelru.NewLRU[string, cacheEntry](s.maxEntries, nil)
		s.segments[ns] = seg
	}
	return seg
}

// Get returns the live value for the key and marks it most recently used
func (s *MemoryStore) Get(ns Namespace, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[ns]
	if !ok {
		return nil, false
	}
	entry, ok := seg.Get(key)
	if !ok {
		return nil, false
	}
	if entry.isExpired(s.now()) {
		seg.Remove(key)
		return nil, false
	}
	return entry.value, true
}

// Set stores the value. When the namespace is full the least recently used entry is dropped.
func (s *MemoryStore) Set(ns Namespace, key string, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segment(ns).Add(key, cacheEntry{value: value, expiresAt: s.now().Add(ttl)})
}

func (s *MemoryStore) Delete(ns Namespace, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[ns]
	return ok && seg.Remove(key)
}

// DeleteNamespace drops every entry of the namespace
func (s *MemoryStore) DeleteNamespace(ns Namespace) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[ns]
	if !ok {
		return 0
	}
	delete(s.segments, ns)
	return seg.Len()
}

// DeleteWhere drops the entries of the namespace whose key matches
func (s *MemoryStore) DeleteWhere(ns Namespace, match func(key string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[ns]
	if !ok {
		return 0
	}
	n := 0
	for _, key := range seg.Keys() {
		if match(key) && seg.Remove(key) {
			n++
		}
	}
	return n
}

// TrimLRU evicts least recently used entries down to keep when the namespace holds more than max
func (s *MemoryStore) TrimLRU(ns Namespace, max, keep int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[ns]
	if !ok || seg.Len() <= max {
		return 0
	}
	n := 0
	for seg.Len() > keep {
		seg.RemoveOldest()
		n++
	}
	return n
}

// Len counts the namespace's entries, expired ones included
func (s *MemoryStore) Len(ns Namespace) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg, ok := s.segments[ns]; ok {
		return seg.Len()
	}
	return 0
}

func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, seg := range s.segments {
		n += seg.Len()
	}
	return n
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = make(map[Namespace]*segment)
}

// Close stops the sweeper. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				s.logger.Debug("Swept expired L1 cache entries", zap.Int("count", n))
			}
		}
	}
}

// sweep removes expired entries without touching recency
func (s *MemoryStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, seg := range s.segments {
		for _, key := range seg.Keys() {
			if entry, ok := seg.Peek(key); ok && entry.isExpired(now) {
				seg.Remove(key)
				n++
			}
		}
	}
	return n
}
