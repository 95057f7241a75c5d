package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is anything published on the event bus.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
}

// EventHeader is embedded by concrete events to satisfy DomainEvent.
type EventHeader struct {
	ID   uuid.UUID `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"occurred_at"`
}

// NewEventHeader stamps an event with the current time. A nil id gets a random one;
// pass a stable id when redelivery must produce the same event id.
func NewEventHeader(eventType string, id uuid.UUID) EventHeader {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return EventHeader{ID: id, Type: eventType, At: time.Now().UTC()}
}

func (h *EventHeader) EventID() uuid.UUID    { return h.ID }
func (h *EventHeader) EventType() string     { return h.Type }
func (h *EventHeader) OccurredAt() time.Time { return h.At }

// EventHandler reacts to the event types it lists.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}

type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventBus routes published events to subscribed handlers between Start and Stop.
type EventBus interface {
	EventPublisher
	// Subscribe with no types uses handler.EventTypes().
	Subscribe(handler EventHandler, eventTypes ...string)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
