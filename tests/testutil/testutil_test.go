package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactBuilder(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	fact := NewFact(7, at).
		Item(1, 10, 2, "4.50").
		Item(2, 10, 1, "3.00").
		Discount("1.00").
		PaidBy(sales.PaymentCard).
		Build()

	require.NoError(t, fact.Validate())
	assert.Equal(t, int64(7), fact.BranchID)
	assert.True(t, Dec("12.00").Equal(fact.Total))
	assert.True(t, Dec("11.00").Equal(fact.NetTotal()))
	assert.Equal(t, sales.PaymentCard, fact.PaymentMethod)
	assert.Len(t, fact.LineItems, 2)
	assert.Equal(t, "menu-1", fact.LineItems[0].MenuName)
}

func TestFactBuilder_BuildCopies(t *testing.T) {
	b := NewFact(1, time.Now()).Item(1, 1, 1, "1.00")
	first := b.Build()
	b.Item(2, 1, 1, "2.00")

	assert.Len(t, first.LineItems, 1)
	assert.Equal(t, first.OrderID, b.Build().OrderID)
	assert.NotEqual(t, NewFact(1, time.Now()).Build().OrderID, first.OrderID)
}

func TestNewTestUUID(t *testing.T) {
	assert.Equal(t, NewTestUUID("order-1"), NewTestUUID("order-1"))
	assert.NotEqual(t, NewTestUUID("order-1"), NewTestUUID("order-2"))
}

func TestRecordingHandler(t *testing.T) {
	h := NewRecordingHandler(sales.EventTypeSalesDataChanged)
	ev := NewChangedEvent(3, "refund")

	h.FailNext(1, errors.New("boom"))
	assert.Error(t, h.Handle(context.Background(), ev))
	assert.Zero(t, h.HandledCount())

	require.NoError(t, h.Handle(context.Background(), ev))
	assert.Equal(t, 1, h.HandledCount())
	assert.Equal(t, []string{sales.EventTypeSalesDataChanged}, h.EventTypes())
}

func TestRequireEventually(t *testing.T) {
	start := time.Now()
	RequireEventually(t, func() bool { return time.Since(start) > 20*time.Millisecond }, time.Second, 5*time.Millisecond)
}
