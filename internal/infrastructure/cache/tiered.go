package cache

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRealtimeMaxKeys  = 1000
	defaultRealtimeKeepKeys = 500
)

// Tier names reported to observers
const (
	TierL1     = "l1"
	TierL2     = "l2"
	TierLoader = "loader"
)

// RemoteTier is the shared tier behind the process-local one
type RemoteTier interface {
	// Get returns nil bytes on a miss. The duration is the time the entry has left,
	// or zero when the tier does not know it.
	Get(ctx context.Context, ns Namespace, key string) ([]byte, time.Duration, error)
	Set(ctx context.Context, ns Namespace, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, ns Namespace, key string) error
	// DeleteBranch removes the entries keyed by the branch and those spanning all branches
	DeleteBranch(ctx context.Context, ns Namespace, branchID int64) (int, error)
	DeleteNamespace(ctx context.Context, ns Namespace) (int, error)
	TrimLRU(ctx context.Context, ns Namespace, max, keep int) (int, error)
}

// Broadcaster fans L1 evictions out to other instances
type Broadcaster interface {
	Publish(ctx context.Context, msg InvalidationMessage) error
	Subscribe(ctx context.Context, callback func(msg InvalidationMessage)) error
	Close() error
}

// Observer receives one call per lookup, naming the tier that answered
type Observer interface {
	CacheLookup(ctx context.Context, ns Namespace, tier string, hit bool)
}

// Emptier lets a cached type declare itself empty so it is never stored
type Emptier interface {
	IsEmpty() bool
}

// Stats is a snapshot of cache counters
type Stats struct {
	L1Hits    int64   `json:"l1_hits"`
	L1Misses  int64   `json:"l1_misses"`
	L2Hits    int64   `json:"l2_hits"`
	L2Misses  int64   `json:"l2_misses"`
	Loads     int64   `json:"loads"`
	HitRatio  float64 `json:"hit_ratio"`
	L1Entries int     `json:"l1_entries"`
}

// TieredCache is a read-through cache with a process-local LRU in front of an optional
// shared Redis tier. Loader results that are nil or empty are returned but never stored.
type TieredCache struct {
	l1           *MemoryStore
	l2           RemoteTier
	invalidator  Broadcaster
	ttls         TTLTable
	realtimeMax  int
	realtimeKeep int
	instanceID   string
	observer     Observer
	logger       *zap.Logger

	group       singleflight.Group
	genMu       sync.Mutex
	generations map[genKey]uint64

	l1Hits   int64
	l1Misses int64
	l2Hits   int64
	l2Misses int64
	loads    int64
}

// TieredCacheOption is a functional option for configuring the cache
type TieredCacheOption func(*TieredCache)

// WithL1 sets the process-local tier
func WithL1(store *MemoryStore) TieredCacheOption {
	return func(c *TieredCache) {
		c.l1 = store
	}
}

// WithL2 sets the shared tier
func WithL2(store RemoteTier) TieredCacheOption {
	return func(c *TieredCache) {
		c.l2 = store
	}
}

// WithBroadcaster sets the cross-instance invalidation channel
func WithBroadcaster(b Broadcaster) TieredCacheOption {
	return func(c *TieredCache) {
		c.invalidator = b
	}
}

// WithTTLs sets the namespace TTL table
func WithTTLs(t TTLTable) TieredCacheOption {
	return func(c *TieredCache) {
		c.ttls = t
	}
}

// WithRealtimeLimits sets the realtime trim threshold and the number of keys kept
func WithRealtimeLimits(max, keep int) TieredCacheOption {
	return func(c *TieredCache) {
		if max > 0 && keep >= 0 && keep <= max {
			c.realtimeMax = max
			c.realtimeKeep = keep
		}
	}
}

// WithObserver sets the lookup observer
func WithObserver(o Observer) TieredCacheOption {
	return func(c *TieredCache) {
		c.observer = o
	}
}

// WithTieredLogger sets the logger for the cache
func WithTieredLogger(logger *zap.Logger) TieredCacheOption {
	return func(c *TieredCache) {
		c.logger = logger
	}
}

// NewTieredCache creates a cache. Without WithL1 and WithL2 every Fetch calls the loader.
func NewTieredCache(opts ...TieredCacheOption) *TieredCache {
	c := &TieredCache{
		ttls:         NewTTLTable(nil),
		realtimeMax:  defaultRealtimeMaxKeys,
		realtimeKeep: defaultRealtimeKeepKeys,
		instanceID:   uuid.NewString(),
		logger:       zap.NewNop(),
		generations:  make(map[genKey]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the cached value of ns/key, calling load on a miss. Concurrent misses
// for the same key share one load.
func Fetch[T any](ctx context.Context, c *TieredCache, ns Namespace, key string, load func(context.Context) (T, error)) (T, error) {
	if c.l1 != nil {
		if v, ok := c.l1.Get(ns, key); ok {
			if t, ok := v.(T); ok {
				atomic.AddInt64(&c.l1Hits, 1)
				c.observe(ctx, ns, TierL1, true)
				return t, nil
			}
		}
		atomic.AddInt64(&c.l1Misses, 1)
	}

	if c.l2 != nil {
		if t, remaining, ok := fetchRemote[T](ctx, c, ns, key); ok {
			atomic.AddInt64(&c.l2Hits, 1)
			c.observe(ctx, ns, TierL2, true)
			if c.l1 != nil {
				// the copy must not outlive the shared entry
				ttl := c.ttls.TTL(ns)
				if remaining > 0 && remaining < ttl {
					ttl = remaining
				}
				c.l1.Set(ns, key, t, ttl)
			}
			return t, nil
		}
		atomic.AddInt64(&c.l2Misses, 1)
	}

	c.observe(ctx, ns, TierLoader, false)
	gk := genKey{ns: ns, branch: branchOf(key)}
	gen := c.generation(gk)
	v, err, _ := c.group.Do(string(ns)+"|"+key, func() (any, error) {
		atomic.AddInt64(&c.loads, 1)
		t, err := load(ctx)
		if err != nil {
			return t, err
		}
		if !isEmpty(t) {
			c.store(ctx, gk, key, gen, t)
		}
		return t, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

func fetchRemote[T any](ctx context.Context, c *TieredCache, ns Namespace, key string) (T, time.Duration, bool) {
	var t T
	data, remaining, err := c.l2.Get(ctx, ns, key)
	if err != nil {
		c.logger.Warn("L2 cache read failed, falling back to loader",
			zap.String("namespace", string(ns)),
			zap.String("key", key),
			zap.Error(err))
		return t, 0, false
	}
	if data == nil {
		return t, 0, false
	}
	if err := json.Unmarshal(data, &t); err != nil {
		c.logger.Warn("Discarding undecodable L2 cache entry",
			zap.String("namespace", string(ns)),
			zap.String("key", key),
			zap.Error(err))
		return t, 0, false
	}
	return t, remaining, true
}

// store writes a loaded value unless an eviction of its scope happened after gen was
// read. Evictions bump the generation before deleting, so L1 is checked and written
// under genMu, and an L2 write that raced an eviction is removed again.
func (c *TieredCache) store(ctx context.Context, gk genKey, key string, gen uint64, value any) {
	ns := gk.ns
	ttl := c.ttls.TTL(ns)

	c.genMu.Lock()
	if c.generationLocked(gk) != gen {
		c.genMu.Unlock()
		return
	}
	if c.l1 != nil {
		c.l1.Set(ns, key, value, ttl)
	}
	c.genMu.Unlock()

	if c.l2 == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Failed to encode cache value", zap.String("namespace", string(ns)), zap.Error(err))
		return
	}
	if err := c.l2.Set(ctx, ns, key, data, ttl); err != nil {
		c.logger.Warn("Failed to populate L2 cache",
			zap.String("namespace", string(ns)),
			zap.String("key", key),
			zap.Error(err))
		return
	}
	if c.generation(gk) != gen {
		if err := c.l2.Delete(ctx, ns, key); err != nil {
			c.logger.Warn("Failed to drop L2 entry written during eviction",
				zap.String("namespace", string(ns)),
				zap.String("key", key),
				zap.Error(err))
		}
	}
}

func (c *TieredCache) observe(ctx context.Context, ns Namespace, tier string, hit bool) {
	if c.observer != nil {
		c.observer.CacheLookup(ctx, ns, tier, hit)
	}
}

// genKey scopes a generation counter to one branch segment of a namespace. An empty
// branch is the namespace-wide counter.
type genKey struct {
	ns     Namespace
	branch string
}

func (c *TieredCache) generation(gk genKey) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.generationLocked(gk)
}

// generationLocked sums the namespace-wide and branch counters; both only grow
func (c *TieredCache) generationLocked(gk genKey) uint64 {
	return c.generations[genKey{ns: gk.ns}] + c.generations[gk]
}

// bump invalidates loads that started before an eviction
func (c *TieredCache) bump(keys ...genKey) {
	c.genMu.Lock()
	for _, gk := range keys {
		c.generations[gk]++
	}
	c.genMu.Unlock()
}

func branchGenKeys(ns Namespace, branchID int64) []genKey {
	return []genKey{
		{ns: ns, branch: BranchToken(branchID)},
		{ns: ns, branch: AllBranchesToken},
	}
}

// Evict drops every entry of the namespace
func (c *TieredCache) Evict(ctx context.Context, ns Namespace) error {
	c.bump(genKey{ns: ns})
	if c.l1 != nil {
		c.l1.DeleteNamespace(ns)
	}
	c.broadcast(ctx, InvalidationMessage{Action: ActionEvictNamespace, Namespace: ns})
	if c.l2 != nil {
		if _, err := c.l2.DeleteNamespace(ctx, ns); err != nil {
			return err
		}
	}
	return nil
}

// EvictKey drops one entry
func (c *TieredCache) EvictKey(ctx context.Context, ns Namespace, key string) error {
	c.bump(genKey{ns: ns, branch: branchOf(key)})
	if c.l1 != nil {
		c.l1.Delete(ns, key)
	}
	c.broadcast(ctx, InvalidationMessage{Action: ActionEvictKey, Namespace: ns, Key: key})
	if c.l2 != nil {
		return c.l2.Delete(ctx, ns, key)
	}
	return nil
}

// EvictBranch drops the entries of the namespace keyed by the branch, and those spanning
// all branches since they include it.
func (c *TieredCache) EvictBranch(ctx context.Context, ns Namespace, branchID int64) error {
	c.evictBranchL1(ns, branchID)
	c.broadcast(ctx, InvalidationMessage{Action: ActionEvictBranch, Namespace: ns, BranchID: branchID})
	return c.evictBranchL2(ctx, ns, branchID)
}

// EvictBranchData drops the branch's entries from every sales namespace with a single
// peer broadcast. It keeps going after a failure and returns the last error.
func (c *TieredCache) EvictBranchData(ctx context.Context, branchID int64) error {
	for _, ns := range SalesNamespaces() {
		c.evictBranchL1(ns, branchID)
	}
	c.broadcast(ctx, InvalidationMessage{Action: ActionEvictBranchData, BranchID: branchID})

	var lastErr error
	for _, ns := range SalesNamespaces() {
		if err := c.evictBranchL2(ctx, ns, branchID); err != nil {
			c.logger.Warn("Failed to evict branch entries",
				zap.String("namespace", string(ns)),
				zap.Int64("branch_id", branchID),
				zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

func (c *TieredCache) evictBranchL1(ns Namespace, branchID int64) {
	c.bump(branchGenKeys(ns, branchID)...)
	if c.l1 != nil {
		c.l1.DeleteWhere(ns, func(key string) bool { return matchesBranch(key, branchID) })
	}
}

func (c *TieredCache) evictBranchL2(ctx context.Context, ns Namespace, branchID int64) error {
	if c.l2 == nil {
		return nil
	}
	_, err := c.l2.DeleteBranch(ctx, ns, branchID)
	return err
}

// TrimRealtime evicts least recently used realtime entries down to the keep limit
// once the namespace exceeds the max limit. It returns the number of evicted entries.
func (c *TieredCache) TrimRealtime(ctx context.Context) (int, error) {
	n := 0
	if c.l1 != nil {
		n += c.l1.TrimLRU(NamespaceRealtimeSales, c.realtimeMax, c.realtimeKeep)
	}
	if c.l2 != nil {
		evicted, err := c.l2.TrimLRU(ctx, NamespaceRealtimeSales, c.realtimeMax, c.realtimeKeep)
		n += evicted
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *TieredCache) broadcast(ctx context.Context, msg InvalidationMessage) {
	if c.invalidator == nil {
		return
	}
	msg.Origin = c.instanceID
	if err := c.invalidator.Publish(ctx, msg); err != nil {
		c.logger.Warn("Failed to publish cache invalidation",
			zap.String("action", string(msg.Action)),
			zap.String("namespace", string(msg.Namespace)),
			zap.Error(err))
	}
}

// StartInvalidationSubscription applies evictions published by other instances to L1.
// It blocks until ctx is cancelled.
func (c *TieredCache) StartInvalidationSubscription(ctx context.Context) error {
	if c.invalidator == nil {
		return nil
	}
	return c.invalidator.Subscribe(ctx, c.handleInvalidation)
}

func (c *TieredCache) handleInvalidation(msg InvalidationMessage) {
	if msg.Origin == c.instanceID || c.l1 == nil {
		return
	}
	switch msg.Action {
	case ActionEvictKey:
		c.bump(genKey{ns: msg.Namespace, branch: branchOf(msg.Key)})
		c.l1.Delete(msg.Namespace, msg.Key)
	case ActionEvictNamespace:
		c.bump(genKey{ns: msg.Namespace})
		c.l1.DeleteNamespace(msg.Namespace)
	case ActionEvictBranch:
		c.evictBranchL1(msg.Namespace, msg.BranchID)
	case ActionEvictBranchData:
		for _, ns := range SalesNamespaces() {
			c.evictBranchL1(ns, msg.BranchID)
		}
	default:
		c.logger.Debug("Ignoring unknown invalidation action", zap.String("action", string(msg.Action)))
		return
	}
	c.logger.Debug("Applied peer cache invalidation",
		zap.String("action", string(msg.Action)),
		zap.String("namespace", string(msg.Namespace)))
}

// Stats returns a snapshot of the cache counters
func (c *TieredCache) Stats() Stats {
	s := Stats{
		L1Hits:   atomic.LoadInt64(&c.l1Hits),
		L1Misses: atomic.LoadInt64(&c.l1Misses),
		L2Hits:   atomic.LoadInt64(&c.l2Hits),
		L2Misses: atomic.LoadInt64(&c.l2Misses),
		Loads:    atomic.LoadInt64(&c.loads),
	}
	hits := s.L1Hits + s.L2Hits
	if total := hits + s.Loads; total > 0 {
		s.HitRatio = float64(hits) / float64(total)
	}
	if c.l1 != nil {
		s.L1Entries = c.l1.Count()
	}
	return s
}

// Close stops the invalidation subscription and the L1 sweeper. The Redis client is
// owned by the caller.
func (c *TieredCache) Close() error {
	var lastErr error
	if c.invalidator != nil {
		if err := c.invalidator.Close(); err != nil {
			lastErr = err
		}
	}
	if c.l1 != nil {
		if err := c.l1.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
	case reflect.Slice, reflect.Map:
		if rv.Len() == 0 {
			return true
		}
	}
	if e, ok := v.(Emptier); ok {
		return e.IsEmpty()
	}
	return false
}
