package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSerializer_RoundTripsSalesDataChanged(t *testing.T) {
	s := NewEventSerializer()
	RegisterSalesEvents(s)

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	original := sales.NewSalesDataChangedEvent(7, "admin correction", day)

	data, err := s.Serialize(original)
	require.NoError(t, err)

	decoded, err := s.Decode(data)
	require.NoError(t, err)

	changed, ok := decoded.(*sales.SalesDataChangedEvent)
	require.True(t, ok)
	assert.Equal(t, original.EventID(), changed.EventID())
	assert.Equal(t, int64(7), changed.BranchID)
	require.Len(t, changed.Dates, 1)
	assert.True(t, day.Equal(changed.Dates[0]))
}

func TestEventSerializer_Decode(t *testing.T) {
	s := NewEventSerializer()
	RegisterSalesEvents(s)

	tests := []struct {
		name    string
		data    string
		unknown bool
	}{
		{name: "not json", data: "garbage"},
		{name: "no type", data: `{"payload":{}}`},
		{name: "unregistered type", data: `{"event_type":"StockAdjusted","payload":{}}`, unknown: true},
		{name: "payload of wrong shape", data: `{"event_type":"SalesDataChanged","payload":{"branch_id":"seven"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Decode([]byte(tt.data))
			require.Error(t, err)
			if tt.unknown {
				assert.ErrorIs(t, err, ErrUnknownEventType)
			}
		})
	}
}

func TestEventSerializer_Envelope(t *testing.T) {
	s := NewEventSerializer()
	RegisterSalesEvents(s)

	data, err := s.Serialize(sales.NewSalesDataChangedEvent(1, "refund"))
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, sales.EventTypeSalesDataChanged, env.EventType)
	assert.Contains(t, string(env.Payload), `"branch_id":1`)
}

func TestRegisterSalesEvents_OrderCompleted(t *testing.T) {
	s := NewEventSerializer()
	RegisterSalesEvents(s)

	fact := sales.OrderCompleted{OrderID: uuid.New(), BranchID: 4}
	data, err := s.Serialize(sales.NewOrderCompletedEvent(fact))
	require.NoError(t, err)

	decoded, err := s.Decode(data)
	require.NoError(t, err)
	completed, ok := decoded.(*sales.OrderCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, fact.OrderID, completed.EventID(), "event id follows the order id")
	assert.Equal(t, int64(4), completed.Fact.BranchID)
}
