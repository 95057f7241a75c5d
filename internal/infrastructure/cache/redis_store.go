package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultScanBatchSize = 100
	defaultKeyPrefix     = "stats:"
	branchIndexSegment   = "idx:"
)

// deleteIndexedScript deletes every member of the given index sets, then the sets.
// It runs atomically, so a concurrent Set lands either before it or fully after.
var deleteIndexedScript = redis.NewScript(`
local n = 0
for _, idx in ipairs(KEYS) do
	for _, key in ipairs(redis.call('SMEMBERS', idx)) do
		n = n + redis.call('DEL', key)
	end
	redis.call('DEL', idx)
end
return n
`)

// RedisStore is the shared L2 tier. Values are stored as JSON under prefix + namespace + ":" + key.
// Each branch segment of a namespace has a SET of its keys, so branch evictions never scan.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

// RedisStoreOption is a functional option for configuring the store
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix sets the prefix prepended to every key
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithRedisLogger sets the logger for the store
func WithRedisLogger(logger *zap.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore creates a store on a shared client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) redisKey(ns Namespace, key string) string {
	return s.keyPrefix + string(ns) + ":" + key
}

func (s *RedisStore) namespacePrefix(ns Namespace) string {
	return s.keyPrefix + string(ns) + ":"
}

func (s *RedisStore) branchIndexKey(ns Namespace, branch string) string {
	return s.keyPrefix + branchIndexSegment + string(ns) + ":" + branch
}

// Get returns the stored bytes and the time they have left, or nil on a miss.
// The duration is zero for keys without an expiry.
func (s *RedisStore) Get(ctx context.Context, ns Namespace, key string) ([]byte, time.Duration, error) {
	rk := s.redisKey(ns, key)
	var (
		get  *redis.StringCmd
		pttl *redis.DurationCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, rk)
		pttl = pipe.PTTL(ctx, rk)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("failed to get %s/%s from redis: %w", ns, key, err)
	}
	data, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get %s/%s from redis: %w", ns, key, err)
	}
	remaining := pttl.Val()
	if remaining < 0 {
		remaining = 0
	}
	return data, remaining, nil
}

// Set stores the bytes with the given TTL and records the key in its branch index.
// The index lives as long as its newest member.
func (s *RedisStore) Set(ctx context.Context, ns Namespace, key string, data []byte, ttl time.Duration) error {
	rk := s.redisKey(ns, key)
	branch := branchOf(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rk, data, ttl)
		if branch != "" {
			idx := s.branchIndexKey(ns, branch)
			pipe.SAdd(ctx, idx, rk)
			if ttl > 0 {
				pipe.PExpire(ctx, idx, ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set %s/%s in redis: %w", ns, key, err)
	}
	return nil
}

// DeleteBranch removes the keys indexed under the branch and under all branches
func (s *RedisStore) DeleteBranch(ctx context.Context, ns Namespace, branchID int64) (int, error) {
	indexes := []string{s.branchIndexKey(ns, BranchToken(branchID))}
	if branchID != 0 {
		indexes = append(indexes, s.branchIndexKey(ns, AllBranchesToken))
	}
	n, err := deleteIndexedScript.Run(ctx, s.client, indexes).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to delete branch %d from %s: %w", branchID, ns, err)
	}
	return n, nil
}

// Delete removes one key
func (s *RedisStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := s.client.Del(ctx, s.redisKey(ns, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s/%s from redis: %w", ns, key, err)
	}
	return nil
}

// Keys lists the keys of the namespace, without prefix, using SCAN
func (s *RedisStore) Keys(ctx context.Context, ns Namespace) ([]string, error) {
	prefix := s.namespacePrefix(ns)
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", defaultScanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan namespace %s: %w", ns, err)
		}
		for _, k := range keys {
			out = append(out, k[len(prefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// DeleteWhere removes the keys of the namespace accepted by match. A nil match removes all.
func (s *RedisStore) DeleteWhere(ctx context.Context, ns Namespace, match func(key string) bool) (int, error) {
	keys, err := s.Keys(ctx, ns)
	if err != nil {
		return 0, err
	}
	doomed := make([]string, 0, len(keys))
	for _, k := range keys {
		if match == nil || match(k) {
			doomed = append(doomed, s.redisKey(ns, k))
		}
	}
	if err := s.del(ctx, doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// DeleteNamespace removes every key of the namespace along with its branch indexes
func (s *RedisStore) DeleteNamespace(ctx context.Context, ns Namespace) (int, error) {
	n, err := s.DeleteWhere(ctx, ns, nil)
	if err != nil {
		return n, err
	}
	var indexes []string
	iter := s.client.Scan(ctx, 0, s.branchIndexKey(ns, "*"), defaultScanBatchSize).Iterator()
	for iter.Next(ctx) {
		indexes = append(indexes, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("failed to scan branch indexes of %s: %w", ns, err)
	}
	return n, s.del(ctx, indexes)
}

func (s *RedisStore) del(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += defaultScanBatchSize {
		end := start + defaultScanBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := s.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}
	return nil
}

// TrimLRU evicts the least recently used keys of the namespace down to keep when it
// holds more than max. Recency comes from OBJECT IDLETIME, which reads reset.
func (s *RedisStore) TrimLRU(ctx context.Context, ns Namespace, max, keep int) (int, error) {
	keys, err := s.Keys(ctx, ns)
	if err != nil {
		return 0, err
	}
	if len(keys) <= max {
		return 0, nil
	}

	type idleKey struct {
		key  string
		idle time.Duration
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.DurationCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.ObjectIdleTime(ctx, s.redisKey(ns, k))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to read idle times for %s: %w", ns, err)
	}

	candidates := make([]idleKey, 0, len(keys))
	for i, cmd := range cmds {
		idle, err := cmd.Result()
		if err != nil {
			// expired between SCAN and OBJECT
			continue
		}
		candidates = append(candidates, idleKey{key: s.redisKey(ns, keys[i]), idle: idle})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].idle > candidates[j].idle })

	excess := len(candidates) - keep
	if excess <= 0 {
		return 0, nil
	}
	doomed := make([]string, excess)
	for i := 0; i < excess; i++ {
		doomed[i] = candidates[i].key
	}
	if err := s.del(ctx, doomed); err != nil {
		return 0, err
	}
	s.logger.Info("Trimmed L2 cache namespace",
		zap.String("namespace", string(ns)),
		zap.Int("evicted", excess),
		zap.Int("remaining", keep))
	return excess, nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
