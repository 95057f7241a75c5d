// Package testutil provides fixtures shared by the statistics test suites: order
// fact builders, a sqlmock-backed GORM handle and polling assertions.
package testutil

import (
	"database/sql"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockDB wraps a GORM postgres handle backed by sqlmock
type MockDB struct {
	DB    *gorm.DB
	Mock  sqlmock.Sqlmock
	SqlDB *sql.DB
}

// NewMockDB creates a MockDB closed on test cleanup
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create sqlmock")

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err, "Failed to open GORM connection")

	t.Cleanup(func() { _ = mockDB.Close() })
	return &MockDB{DB: gormDB, Mock: mock, SqlDB: mockDB}
}

// ExpectationsWereMet verifies that all expectations were met
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	require.NoError(t, m.Mock.ExpectationsWereMet(), "Unmet database expectations")
}

// NewTestUUID derives a reproducible UUID from seed
func NewTestUUID(seed string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
}

// FactBuilder assembles OrderCompleted facts. Prices are decimal strings.
type FactBuilder struct {
	fact sales.OrderCompleted
}

// NewFact starts a paid cash order of branchID completed at completedAt
func NewFact(branchID int64, completedAt time.Time) *FactBuilder {
	return &FactBuilder{fact: sales.OrderCompleted{
		OrderID:       uuid.New(),
		BranchID:      branchID,
		CompletedAt:   completedAt,
		PaymentMethod: sales.PaymentCash,
		Discount:      decimal.Zero,
		Total:         decimal.Zero,
	}}
}

// ID fixes the order id
func (b *FactBuilder) ID(id uuid.UUID) *FactBuilder {
	b.fact.OrderID = id
	return b
}

// Item adds a line and grows the order total by qty*price
func (b *FactBuilder) Item(menuID, categoryID, qty int64, price string) *FactBuilder {
	unit := decimal.RequireFromString(price)
	line := unit.Mul(decimal.NewFromInt(qty))
	b.fact.LineItems = append(b.fact.LineItems, sales.LineItem{
		MenuID:       menuID,
		MenuName:     "menu-" + strconv.FormatInt(menuID, 10),
		CategoryID:   categoryID,
		CategoryName: "category-" + strconv.FormatInt(categoryID, 10),
		Quantity:     qty,
		UnitPrice:    unit,
		LineTotal:    line,
	})
	b.fact.Total = b.fact.Total.Add(line)
	return b
}

// Discount sets the order-level discount
func (b *FactBuilder) Discount(amount string) *FactBuilder {
	b.fact.Discount = decimal.RequireFromString(amount)
	return b
}

// PaidBy sets the payment method
func (b *FactBuilder) PaidBy(m sales.PaymentMethod) *FactBuilder {
	b.fact.PaymentMethod = m
	return b
}

// Build returns a copy of the fact
func (b *FactBuilder) Build() *sales.OrderCompleted {
	f := b.fact
	f.LineItems = append([]sales.LineItem(nil), b.fact.LineItems...)
	return &f
}

// Dec parses a decimal literal, panicking on malformed input
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// RequireEventually polls condition until it holds or timeout elapses
func RequireEventually(t *testing.T, condition func() bool, timeout, interval time.Duration, msgAndArgs ...any) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}
	require.Fail(t, "Condition not met within timeout", msgAndArgs...)
}

// AssertNever fails if condition becomes true within duration
func AssertNever(t *testing.T, condition func() bool, duration, interval time.Duration, msgAndArgs ...any) {
	t.Helper()

	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if condition() {
			require.Fail(t, "Condition unexpectedly became true", msgAndArgs...)
		}
		time.Sleep(interval)
	}
}
