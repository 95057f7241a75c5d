package statistics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockAggregateRepository is a mock implementation of sales.AggregateRepository.
// LockDay runs its callback against the mock itself and RecordApplied only records.
type MockAggregateRepository struct {
	mock.Mock

	lockMu   sync.Mutex
	locked   bool
	recorded []sales.OrderCompleted
}

func (m *MockAggregateRepository) LockDay(ctx context.Context, branchID int64, date time.Time, fn func(ctx context.Context, store sales.DayStore) error) error {
	return m.lockDay(ctx, m, fn)
}

func (m *MockAggregateRepository) lockDay(ctx context.Context, store sales.DayStore, fn func(ctx context.Context, store sales.DayStore) error) error {
	m.lockMu.Lock()
	m.locked = true
	m.lockMu.Unlock()
	defer func() {
		m.lockMu.Lock()
		m.locked = false
		m.lockMu.Unlock()
	}()
	return fn(ctx, store)
}

func (m *MockAggregateRepository) isLocked() bool {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	return m.locked
}

func (m *MockAggregateRepository) RecordApplied(_ context.Context, orders []sales.OrderCompleted, _ *time.Location) (int, error) {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	m.recorded = append(m.recorded, orders...)
	return len(orders), nil
}

func (m *MockAggregateRepository) recordedIDs() []uuid.UUID {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	ids := make([]uuid.UUID, len(m.recorded))
	for i, o := range m.recorded {
		ids[i] = o.OrderID
	}
	return ids
}

func (m *MockAggregateRepository) ApplyFact(ctx context.Context, fact *sales.OrderCompleted, loc *time.Location) (bool, error) {
	args := m.Called(ctx, fact, loc)
	return args.Bool(0), args.Error(1)
}

func (m *MockAggregateRepository) DailyByDate(ctx context.Context, filter sales.AggregateFilter) ([]sales.SalesAggregate, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.SalesAggregate), args.Error(1)
}

func (m *MockAggregateRepository) HourlyByHour(ctx context.Context, filter sales.AggregateFilter) ([]sales.SalesAggregate, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.SalesAggregate), args.Error(1)
}

func (m *MockAggregateRepository) MenuRanking(ctx context.Context, filter sales.AggregateFilter, limit int) ([]sales.MenuSalesAggregate, error) {
	args := m.Called(ctx, filter, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.MenuSalesAggregate), args.Error(1)
}

func (m *MockAggregateRepository) CategoryRanking(ctx context.Context, filter sales.AggregateFilter, limit int) ([]sales.CategorySalesAggregate, error) {
	args := m.Called(ctx, filter, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.CategorySalesAggregate), args.Error(1)
}

func (m *MockAggregateRepository) LoadDay(ctx context.Context, branchID int64, date time.Time) (*sales.DaySnapshot, error) {
	args := m.Called(ctx, branchID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sales.DaySnapshot), args.Error(1)
}

func (m *MockAggregateRepository) ApplyCorrection(ctx context.Context, c *sales.DayCorrection) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockAggregateRepository) BranchesWithAggregates(ctx context.Context, from, to time.Time) ([]int64, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

// MockOrderSource is a mock implementation of sales.OrderSource
type MockOrderSource struct {
	mock.Mock
}

func (m *MockOrderSource) CompletedOrders(ctx context.Context, branchID int64, from, to time.Time) ([]sales.OrderCompleted, error) {
	args := m.Called(ctx, branchID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.OrderCompleted), args.Error(1)
}

func (m *MockOrderSource) BranchesWithOrders(ctx context.Context, from, to time.Time) ([]int64, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

// MockBranchDirectory is a mock implementation of sales.BranchDirectory
type MockBranchDirectory struct {
	mock.Mock
}

func (m *MockBranchDirectory) ListBranches(ctx context.Context) ([]sales.Branch, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.Branch), args.Error(1)
}

// MockSupplyRequestCounter is a mock implementation of sales.SupplyRequestCounter
type MockSupplyRequestCounter struct {
	mock.Mock
}

func (m *MockSupplyRequestCounter) CountPending(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// fakeArchiveRepo keeps rows per target in key order
type fakeArchiveRepo struct {
	mu        sync.Mutex
	rows      map[sales.ArchiveTarget][]string
	failKeys  map[string]bool
	batches   map[sales.ArchiveTarget]int
	block     chan struct{}
	countErr  error
	lastRange map[sales.ArchiveTarget]sales.DateRange
}

func newFakeArchiveRepo() *fakeArchiveRepo {
	return &fakeArchiveRepo{
		rows:      make(map[sales.ArchiveTarget][]string),
		failKeys:  make(map[string]bool),
		batches:   make(map[sales.ArchiveTarget]int),
		lastRange: make(map[sales.ArchiveTarget]sales.DateRange),
	}
}

// seed adds n rows with zero-padded keys
func (f *fakeArchiveRepo) seed(target sales.ArchiveTarget, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.rows[target] = append(f.rows[target], keyFor(i))
	}
	sort.Strings(f.rows[target])
}

func keyFor(i int) string {
	return fmt.Sprintf("%06d", i)
}

func (f *fakeArchiveRepo) remaining(target sales.ArchiveTarget) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[target])
}

func (f *fakeArchiveRepo) Count(_ context.Context, target sales.ArchiveTarget, rng sales.DateRange) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.lastRange[target] = rng
	return int64(len(f.rows[target])), nil
}

func (f *fakeArchiveRepo) NextBatch(ctx context.Context, target sales.ArchiveTarget, _ sales.DateRange, after string, limit int) (*sales.ArchiveBatch, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := &sales.ArchiveBatch{Target: target}
	for _, k := range f.rows[target] {
		if k <= after {
			continue
		}
		batch.Keys = append(batch.Keys, k)
		batch.Rows = append(batch.Rows, map[string]any{"id": k})
		if len(batch.Keys) == limit {
			break
		}
	}
	if n := len(batch.Keys); n > 0 {
		batch.Cursor = batch.Keys[n-1]
	}
	return batch, nil
}

func (f *fakeArchiveRepo) DeleteBatch(_ context.Context, target sales.ArchiveTarget, keys []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches[target]++
	for _, k := range keys {
		if f.failKeys[k] {
			return 0, errors.New("delete failed")
		}
	}
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	kept := f.rows[target][:0]
	for _, k := range f.rows[target] {
		if !drop[k] {
			kept = append(kept, k)
		}
	}
	f.rows[target] = kept
	return int64(len(keys)), nil
}

// fakeColdStorage records uploaded objects
type fakeColdStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (s *fakeColdStorage) Put(_ context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = body
	return nil
}

func (s *fakeColdStorage) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	march1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	march2 = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
)

// orderA and orderB are the two orders of branch 1 on 2024-03-01
func orderA() sales.OrderCompleted {
	return sales.OrderCompleted{
		OrderID:       uuid.New(),
		BranchID:      1,
		CompletedAt:   march1.Add(11 * time.Hour),
		LineItems:     []sales.LineItem{{MenuID: 10, MenuName: "Latte", CategoryID: 100, CategoryName: "Coffee", Quantity: 1, LineTotal: dec("5000")}},
		Discount:      decimal.Zero,
		PaymentMethod: sales.PaymentCash,
		Total:         dec("5000"),
	}
}

func orderB() sales.OrderCompleted {
	return sales.OrderCompleted{
		OrderID:     uuid.New(),
		BranchID:    1,
		CompletedAt: march1.Add(14 * time.Hour),
		LineItems: []sales.LineItem{
			{MenuID: 10, MenuName: "Latte", CategoryID: 100, CategoryName: "Coffee", Quantity: 1, LineTotal: dec("2000")},
			{MenuID: 20, MenuName: "Scone", CategoryID: 200, CategoryName: "Bakery", Quantity: 1, LineTotal: dec("1000")},
		},
		Discount:      dec("500"),
		PaymentMethod: sales.PaymentCard,
		Total:         dec("3000"),
	}
}

func newTestCache(t *testing.T) *cache.TieredCache {
	t.Helper()
	c := cache.NewTieredCache(cache.WithL1(cache.NewMemoryStore()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}
