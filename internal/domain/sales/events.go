package sales

import (
	"time"

	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/google/uuid"
)

const (
	EventTypeOrderCompleted   = "OrderCompleted"
	EventTypeSalesDataChanged = "SalesDataChanged"
)

// OrderCompletedEvent carries a completed order fact on the in-process bus
type OrderCompletedEvent struct {
	shared.EventHeader
	Fact OrderCompleted `json:"fact"`
}

// NewOrderCompletedEvent wraps a fact. The event id is the order id so
// redelivery of the same order produces the same event id.
func NewOrderCompletedEvent(fact OrderCompleted) *OrderCompletedEvent {
	return &OrderCompletedEvent{
		EventHeader: shared.NewEventHeader(EventTypeOrderCompleted, fact.OrderID),
		Fact:        fact,
	}
}

// SalesDataChangedEvent is raised by collaborators that modify sales data outside
// the aggregation path (refunds, admin corrections). Dates are optional; an empty
// list means every date of the branch.
type SalesDataChangedEvent struct {
	shared.EventHeader
	BranchID int64       `json:"branch_id"`
	Dates    []time.Time `json:"dates,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

// NewSalesDataChangedEvent creates the event
func NewSalesDataChangedEvent(branchID int64, reason string, dates ...time.Time) *SalesDataChangedEvent {
	return &SalesDataChangedEvent{
		EventHeader: shared.NewEventHeader(EventTypeSalesDataChanged, uuid.Nil),
		BranchID:    branchID,
		Dates:       dates,
		Reason:      reason,
	}
}

// Validate checks the fields a collaborator must supply
func (e *SalesDataChangedEvent) Validate() error {
	if e.ID == uuid.Nil {
		return shared.NewDomainError("INVALID_INPUT", "event id is required")
	}
	if e.BranchID <= 0 {
		return shared.NewDomainError("INVALID_INPUT", "branch_id must be positive")
	}
	return nil
}
