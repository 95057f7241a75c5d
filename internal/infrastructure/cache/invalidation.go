package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultCloseTimeout  = 5 * time.Second
	defaultPubSubChannel = "stats:cache:invalidate"
)

// InvalidationAction names what a peer instance evicted
type InvalidationAction string

const (
	ActionEvictKey        InvalidationAction = "evict_key"
	ActionEvictNamespace  InvalidationAction = "evict_namespace"
	ActionEvictBranch     InvalidationAction = "evict_branch"
	ActionEvictBranchData InvalidationAction = "evict_branch_data"
)

// InvalidationMessage tells other instances to drop L1 entries
type InvalidationMessage struct {
	Action    InvalidationAction `json:"action"`
	Namespace Namespace          `json:"namespace"`
	Key       string             `json:"key,omitempty"`
	BranchID  int64              `json:"branch_id,omitempty"`
	Origin    string             `json:"origin"`
	Timestamp int64              `json:"timestamp"`
}

// Invalidator broadcasts L1 evictions over Redis Pub/Sub
type Invalidator struct {
	client    redis.UniversalClient
	channel   string
	logger    *zap.Logger
	cancelFn  context.CancelFunc
	doneCh    chan struct{}
	doneOnce  sync.Once
	mu        sync.Mutex
	isRunning bool
}

// InvalidatorOption is a functional option for configuring the invalidator
type InvalidatorOption func(*Invalidator)

// WithInvalidatorChannel sets the Pub/Sub channel name
func WithInvalidatorChannel(channel string) InvalidatorOption {
	return func(i *Invalidator) {
		if channel != "" {
			i.channel = channel
		}
	}
}

// WithInvalidatorLogger sets the logger for the invalidator
func WithInvalidatorLogger(logger *zap.Logger) InvalidatorOption {
	return func(i *Invalidator) {
		i.logger = logger
	}
}

// NewInvalidator creates an invalidator on a shared client. The caller owns the client.
func NewInvalidator(client redis.UniversalClient, opts ...InvalidatorOption) *Invalidator {
	i := &Invalidator{
		client:  client,
		channel: defaultPubSubChannel,
		logger:  zap.NewNop(),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Publish sends an invalidation to every subscriber
func (i *Invalidator) Publish(ctx context.Context, msg InvalidationMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixNano()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}
	if err := i.client.Publish(ctx, i.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation message: %w", err)
	}
	i.logger.Debug("Published cache invalidation",
		zap.String("action", string(msg.Action)),
		zap.String("namespace", string(msg.Namespace)),
		zap.String("channel", i.channel))
	return nil
}

// Subscribe blocks delivering messages to callback until ctx is cancelled or Close is called
func (i *Invalidator) Subscribe(ctx context.Context, callback func(msg InvalidationMessage)) error {
	i.mu.Lock()
	if i.isRunning {
		i.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	i.isRunning = true
	subCtx, cancel := context.WithCancel(ctx)
	i.cancelFn = cancel
	i.mu.Unlock()

	stop := func() {
		i.mu.Lock()
		i.isRunning = false
		i.mu.Unlock()
		i.markDone()
	}

	pubsub := i.client.Subscribe(subCtx, i.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		stop()
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	i.logger.Info("Subscribed to cache invalidation channel", zap.String("channel", i.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			i.logger.Info("Cache invalidation subscription stopped")
			stop()
			return subCtx.Err()
		case m, ok := <-ch:
			if !ok {
				i.logger.Warn("Cache invalidation channel closed")
				stop()
				return nil
			}
			var msg InvalidationMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				i.logger.Error("Failed to unmarshal invalidation message",
					zap.String("payload", m.Payload),
					zap.Error(err))
				continue
			}
			i.dispatch(callback, msg)
		}
	}
}

func (i *Invalidator) dispatch(callback func(InvalidationMessage), msg InvalidationMessage) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("Panic in cache invalidation callback", zap.Any("panic", r))
		}
	}()
	callback(msg)
}

func (i *Invalidator) markDone() {
	i.doneOnce.Do(func() {
		close(i.doneCh)
	})
}

// Close stops a running subscription
func (i *Invalidator) Close() error {
	i.mu.Lock()
	cancelFn := i.cancelFn
	i.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		select {
		case <-i.doneCh:
		case <-time.After(defaultCloseTimeout):
			i.logger.Warn("Timeout waiting for invalidation subscription to stop")
		}
	}
	return nil
}
