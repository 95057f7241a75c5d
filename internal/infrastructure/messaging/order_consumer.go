// Package messaging consumes order-completed facts and sales change events from Kafka.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/erp/backoffice/internal/infrastructure/config"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultSessionTimeout  = 30 * time.Second
	defaultConsumerMaxSize = 10 << 20
)

// FactApplier applies one fact to the aggregates
type FactApplier interface {
	Apply(ctx context.Context, fact *sales.OrderCompleted) (bool, error)
}

// OrderCompletedMessage is the wire payload of an order-completed fact
type OrderCompletedMessage struct {
	OrderID       string           `json:"order_id" validate:"required,uuid"`
	BranchID      int64            `json:"branch_id" validate:"required,gt=0"`
	CompletedAt   time.Time        `json:"completed_at"`
	LineItems     []sales.LineItem `json:"line_items" validate:"dive"`
	Discount      decimal.Decimal  `json:"discount"`
	PaymentMethod string           `json:"payment_method"`
	Total         decimal.Decimal  `json:"total"`
}

// ToFact converts the payload into a domain fact
func (m *OrderCompletedMessage) ToFact() (*sales.OrderCompleted, error) {
	id, err := uuid.Parse(m.OrderID)
	if err != nil {
		return nil, fmt.Errorf("invalid order_id: %w", err)
	}
	return &sales.OrderCompleted{
		OrderID:       id,
		BranchID:      m.BranchID,
		CompletedAt:   m.CompletedAt,
		LineItems:     m.LineItems,
		Discount:      m.Discount,
		PaymentMethod: sales.ParsePaymentMethod(m.PaymentMethod),
		Total:         m.Total,
	}, nil
}

// OrderCompletedConsumer reads order-completed facts from Kafka and applies them.
// Offsets are committed only after a fact is applied, found to be a duplicate, or
// rejected as malformed; transient failures are retried in place so no later offset
// is committed past an unapplied fact.
type OrderCompletedConsumer struct {
	reader   MessageReader
	applier  FactApplier
	validate *validator.Validate
	backoff  time.Duration
	logger   *zap.Logger
}

// ConsumerOption configures an OrderCompletedConsumer
type ConsumerOption func(*OrderCompletedConsumer)

// WithRetryBackoff sets the initial delay between retries of a transient failure
func WithRetryBackoff(d time.Duration) ConsumerOption {
	return func(c *OrderCompletedConsumer) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *zap.Logger) ConsumerOption {
	return func(c *OrderCompletedConsumer) {
		c.logger = logger
	}
}

// NewKafkaReader builds a consumer-group reader from configuration
func NewKafkaReader(cfg config.KafkaConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka group id is required")
	}
	sessionTimeout := cfg.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = defaultSessionTimeout
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultConsumerMaxSize
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: sessionTimeout,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       maxBytes,
	}), nil
}

// NewOrderCompletedConsumer creates a consumer over reader
func NewOrderCompletedConsumer(reader MessageReader, applier FactApplier, opts ...ConsumerOption) *OrderCompletedConsumer {
	c := &OrderCompletedConsumer{
		reader:   reader,
		applier:  applier,
		validate: validator.New(),
		backoff:  defaultRetryBackoff,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *OrderCompletedConsumer) Run(ctx context.Context) error {
	loop := &messageLoop{
		reader:  c.reader,
		handle:  c.Handle,
		backoff: c.backoff,
		logger:  c.logger.With(zap.String("stream", "order_completed")),
	}
	return loop.run(ctx)
}

// Handle decodes and applies a single message. Malformed payloads and facts that
// fail domain validation are reported as poison.
func (c *OrderCompletedConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	var payload OrderCompletedMessage
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return fmt.Errorf("%w: decode: %v", errPoison, err)
	}
	if err := c.validate.Struct(&payload); err != nil {
		return fmt.Errorf("%w: validate: %v", errPoison, err)
	}
	fact, err := payload.ToFact()
	if err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}

	applied, err := c.applier.Apply(ctx, fact)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidInput) {
			return fmt.Errorf("%w: %v", errPoison, err)
		}
		return err
	}
	if !applied {
		c.logger.Debug("Duplicate order completed message",
			zap.String("order_id", fact.OrderID.String()),
			zap.Int64("offset", msg.Offset),
		)
	}
	return nil
}

// Close closes the underlying reader
func (c *OrderCompletedConsumer) Close() error {
	return c.reader.Close()
}
