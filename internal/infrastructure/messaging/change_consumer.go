package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventDecoder decodes an enveloped domain event
type EventDecoder interface {
	Decode(data []byte) (shared.DomainEvent, error)
}

// SalesChangeConsumer reads enveloped sales events, such as SalesDataChanged raised by
// refunds and admin corrections, and publishes them on the in-process bus.
type SalesChangeConsumer struct {
	reader    MessageReader
	decoder   EventDecoder
	publisher shared.EventPublisher
	backoff   time.Duration
	logger    *zap.Logger
}

// ChangeConsumerOption configures a SalesChangeConsumer
type ChangeConsumerOption func(*SalesChangeConsumer)

// WithChangeRetryBackoff sets the initial delay between retries of a transient failure
func WithChangeRetryBackoff(d time.Duration) ChangeConsumerOption {
	return func(c *SalesChangeConsumer) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithChangeLogger sets the logger
func WithChangeLogger(logger *zap.Logger) ChangeConsumerOption {
	return func(c *SalesChangeConsumer) {
		c.logger = logger
	}
}

// NewSalesChangeConsumer creates a consumer over reader
func NewSalesChangeConsumer(reader MessageReader, decoder EventDecoder, publisher shared.EventPublisher, opts ...ChangeConsumerOption) *SalesChangeConsumer {
	c := &SalesChangeConsumer{
		reader:    reader,
		decoder:   decoder,
		publisher: publisher,
		backoff:   defaultRetryBackoff,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *SalesChangeConsumer) Run(ctx context.Context) error {
	loop := &messageLoop{
		reader:  c.reader,
		handle:  c.Handle,
		backoff: c.backoff,
		logger:  c.logger.With(zap.String("stream", "sales_changes")),
	}
	return loop.run(ctx)
}

// Handle decodes and publishes one message. Undecodable and invalid events are poison;
// handler failures are transient.
func (c *SalesChangeConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	event, err := c.decoder.Decode(msg.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	if v, ok := event.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", errPoison, err)
		}
	}

	if err := c.publisher.Publish(ctx, event); err != nil {
		if errors.Is(err, shared.ErrInvalidInput) {
			return fmt.Errorf("%w: %v", errPoison, err)
		}
		return err
	}
	c.logger.Debug("Sales change event published",
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.EventID().String()),
	)
	return nil
}

// Close closes the underlying reader
func (c *SalesChangeConsumer) Close() error {
	return c.reader.Close()
}
