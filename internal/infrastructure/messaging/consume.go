package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	defaultRetryBackoff = 2 * time.Second
	maxRetryBackoff     = time.Minute
)

// MessageReader is the subset of *kafka.Reader the consumers need
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// errPoison marks a message that can never be applied
var errPoison = errors.New("poison message")

// messageLoop fetches one message at a time and commits it once handle accepts or
// rejects it. Transient failures are retried in place with exponential backoff, so
// no offset is committed past an unhandled message.
type messageLoop struct {
	reader  MessageReader
	handle  func(ctx context.Context, msg kafka.Message) error
	backoff time.Duration
	logger  *zap.Logger
}

func (l *messageLoop) run(ctx context.Context) error {
	l.logger.Info("Consumer started")
	defer l.logger.Info("Consumer stopped")

	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if !l.processWithRetry(ctx, msg) {
			return nil
		}

		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// uncommitted offsets are redelivered and deduplicated downstream
			l.logger.Warn("Failed to commit offset",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// processWithRetry handles msg until it is accepted or rejected. It returns false when
// ctx was cancelled first.
func (l *messageLoop) processWithRetry(ctx context.Context, msg kafka.Message) bool {
	delay := l.backoff
	if delay <= 0 {
		delay = defaultRetryBackoff
	}
	for attempt := 1; ; attempt++ {
		err := l.handle(ctx, msg)
		if err == nil {
			return true
		}
		if errors.Is(err, errPoison) {
			l.logger.Error("Dropping malformed message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.ByteString("key", msg.Key),
				zap.Error(err),
			)
			return true
		}

		l.logger.Warn("Failed to handle message, retrying",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxRetryBackoff {
			delay = maxRetryBackoff
		}
	}
}
