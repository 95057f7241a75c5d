package event

import (
	"context"
	"time"

	"github.com/erp/backoffice/internal/domain/shared"
	"go.uber.org/zap"
)

// DedupHandler runs the wrapped handler at most once per event id within the
// window. A failed run releases the id so a redelivery can retry it.
type DedupHandler struct {
	next   shared.EventHandler
	store  shared.IdempotencyStore
	window time.Duration
	logger *zap.Logger
}

var _ shared.EventHandler = (*DedupHandler)(nil)

func NewDedupHandler(next shared.EventHandler, store shared.IdempotencyStore, window time.Duration, logger *zap.Logger) *DedupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DedupHandler{next: next, store: store, window: window, logger: logger}
}

func (h *DedupHandler) EventTypes() []string { return h.next.EventTypes() }

func (h *DedupHandler) Handle(ctx context.Context, ev shared.DomainEvent) error {
	key := "event:" + ev.EventType() + ":" + ev.EventID().String()

	claimed, err := h.store.MarkProcessed(ctx, key, h.window)
	switch {
	case err != nil:
		// a store outage must not drop the event
		h.logger.Warn("Dedup store unavailable", zap.String("key", key), zap.Error(err))
	case !claimed:
		h.logger.Debug("Duplicate event skipped", zap.String("key", key))
		return nil
	}

	if err := h.next.Handle(ctx, ev); err != nil {
		if claimed {
			if ferr := h.store.Forget(context.WithoutCancel(ctx), key); ferr != nil {
				h.logger.Warn("Failed to release event id", zap.String("key", key), zap.Error(ferr))
			}
		}
		return err
	}
	return nil
}
