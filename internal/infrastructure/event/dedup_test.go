package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, id, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Forget(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockIdempotencyStore) Close() error { return m.Called().Error(0) }

func TestDedupHandler(t *testing.T) {
	ctx := context.Background()
	ev := changedEvent(3)
	key := "event:" + sales.EventTypeSalesDataChanged + ":" + ev.EventID().String()
	window := 7 * 24 * time.Hour

	tests := []struct {
		name       string
		claimed    bool
		storeErr   error
		handlerErr error
		wantRuns   int
		wantForget bool
	}{
		{name: "first delivery", claimed: true, wantRuns: 1},
		{name: "redelivery", claimed: false, wantRuns: 0},
		{name: "failure releases the id", claimed: true, handlerErr: errors.New("database is down"), wantRuns: 1, wantForget: true},
		{name: "store outage still handles", storeErr: errors.New("redis timeout"), handlerErr: errors.New("reconcile failed"), wantRuns: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockIdempotencyStore)
			store.On("MarkProcessed", ctx, key, window).Return(tt.claimed, tt.storeErr).Once()
			if tt.wantForget {
				store.On("Forget", mock.Anything, key).Return(nil).Once()
			}
			inner := newTestHandler(sales.EventTypeSalesDataChanged)
			inner.err = tt.handlerErr
			h := NewDedupHandler(inner, store, window, nil)

			err := h.Handle(ctx, ev)

			if tt.handlerErr != nil {
				assert.ErrorIs(t, err, tt.handlerErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantRuns, inner.count())
			assert.Equal(t, inner.EventTypes(), h.EventTypes())
			store.AssertExpectations(t)
			if !tt.wantForget {
				store.AssertNotCalled(t, "Forget", mock.Anything, mock.Anything)
			}
		})
	}
}
