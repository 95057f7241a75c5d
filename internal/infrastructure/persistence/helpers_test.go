package persistence

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/backoffice/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB opens an in-memory SQLite database with every statistics table migrated.
// A single connection keeps every statement on the same in-memory database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

// newMockDB creates a GORM postgres connection backed by sqlmock
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return gormDB, mock, mockDB
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testOrder struct {
	branchID    int64
	completedAt time.Time
	total       string
	discount    string
	method      string
	status      string
	payment     string
	items       []models.SalesOrderItemModel
}

func insertOrder(t *testing.T, db *gorm.DB, o testOrder) uuid.UUID {
	t.Helper()
	if o.status == "" {
		o.status = models.OrderStatusCompleted
	}
	if o.payment == "" {
		o.payment = models.PaymentStatusPaid
	}
	if o.discount == "" {
		o.discount = "0"
	}
	id := uuid.New()
	completed := o.completedAt.UTC()
	order := &models.SalesOrderModel{
		ID:             id,
		BranchID:       o.branchID,
		Status:         o.status,
		PaymentStatus:  o.payment,
		PaymentMethod:  o.method,
		TotalAmount:    dec(o.total),
		DiscountAmount: dec(o.discount),
		CompletedAt:    &completed,
		CreatedAt:      completed,
		UpdatedAt:      completed,
	}
	for i := range o.items {
		o.items[i].OrderID = id
	}
	order.Items = o.items
	require.NoError(t, db.Create(order).Error)
	return id
}
