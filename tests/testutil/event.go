package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/domain/shared"
)

// RecordingHandler is a shared.EventHandler that records what it receives
type RecordingHandler struct {
	mu         sync.Mutex
	eventTypes []string
	handled    []shared.DomainEvent
	failures   int
	err        error
}

// NewRecordingHandler subscribes to eventTypes, or to every type when empty
func NewRecordingHandler(eventTypes ...string) *RecordingHandler {
	return &RecordingHandler{eventTypes: eventTypes}
}

// EventTypes implements shared.EventHandler
func (h *RecordingHandler) EventTypes() []string {
	return h.eventTypes
}

// Handle implements shared.EventHandler. It fails while failures remain.
func (h *RecordingHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures > 0 {
		h.failures--
		return h.err
	}
	h.handled = append(h.handled, event)
	return nil
}

// FailNext makes the next n calls return err
func (h *RecordingHandler) FailNext(n int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = n
	h.err = err
}

// Handled returns a copy of the successfully handled events
func (h *RecordingHandler) Handled() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.handled...)
}

// HandledCount returns the number of successfully handled events
func (h *RecordingHandler) HandledCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

// NewChangedEvent builds a SalesDataChanged event for branchID over dates
func NewChangedEvent(branchID int64, reason string, dates ...time.Time) *sales.SalesDataChangedEvent {
	return sales.NewSalesDataChangedEvent(branchID, reason, dates...)
}
