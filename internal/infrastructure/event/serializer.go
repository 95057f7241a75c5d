package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/domain/shared"
)

// ErrUnknownEventType is returned when decoding a type that was never registered.
var ErrUnknownEventType = errors.New("unknown event type")

// Envelope is the Kafka message body for events published by collaborators.
type Envelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type decodeFunc func([]byte) (shared.DomainEvent, error)

// EventSerializer encodes events into envelopes and decodes them back to their
// registered Go types.
type EventSerializer struct {
	mu       sync.RWMutex
	decoders map[string]decodeFunc
}

func NewEventSerializer() *EventSerializer {
	return &EventSerializer{decoders: make(map[string]decodeFunc)}
}

// Register binds eventType to *T.
func Register[T any, PT interface {
	*T
	shared.DomainEvent
}](s *EventSerializer, eventType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoders[eventType] = func(data []byte) (shared.DomainEvent, error) {
		ev := PT(new(T))
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		return ev, nil
	}
}

// RegisterSalesEvents registers the events the sales collaborators publish.
func RegisterSalesEvents(s *EventSerializer) {
	Register[sales.OrderCompletedEvent](s, sales.EventTypeOrderCompleted)
	Register[sales.SalesDataChangedEvent](s, sales.EventTypeSalesDataChanged)
}

func (s *EventSerializer) Serialize(ev shared.DomainEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	return json.Marshal(Envelope{EventType: ev.EventType(), Payload: payload})
}

// Decode reads an Envelope and decodes its payload into the registered type.
func (s *EventSerializer) Decode(data []byte) (shared.DomainEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType == "" {
		return nil, errors.New("envelope has no event_type")
	}
	s.mu.RLock()
	decode, ok := s.decoders[env.EventType]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}
	return decode(env.Payload)
}
