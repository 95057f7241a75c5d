// Package integration runs the statistics engine against real PostgreSQL and Redis
// instances started with testcontainers.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/infrastructure/migration"
	"github.com/erp/backoffice/internal/infrastructure/persistence/models"
	"github.com/erp/backoffice/migrations"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	sharedContainer    testcontainers.Container
	sharedContainerMu  sync.Mutex
	sharedContainerDSN string
)

// TestDB is a migrated statistics database
type TestDB struct {
	DB    *gorm.DB
	SqlDB *sql.DB
	DSN   string
	t     *testing.T
}

func startPostgres(ctx context.Context, dbName string) (testcontainers.Container, string, error) {
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase(dbName),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, "", err
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	return container, dsn, nil
}

// NewSharedTestDB connects to a package-wide container, migrating it on first use.
// Tests sharing it call CleanTables before seeding.
func NewSharedTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	if sharedContainer == nil {
		container, dsn, err := startPostgres(context.Background(), "backoffice_test")
		require.NoError(t, err, "Failed to start PostgreSQL container")
		sharedContainer = container
		sharedContainerDSN = dsn

		_, sqlDB := connectToDatabase(t, dsn)
		runMigrations(t, sqlDB)
		_ = sqlDB.Close()
	}

	db, sqlDB := connectToDatabase(t, sharedContainerDSN)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return &TestDB{DB: db, SqlDB: sqlDB, DSN: sharedContainerDSN, t: t}
}

// CleanupSharedContainer terminates the shared container. Called from TestMain.
func CleanupSharedContainer() {
	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	if sharedContainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = sharedContainer.Terminate(ctx)
		sharedContainer = nil
		sharedContainerDSN = ""
	}
}

// CleanTables truncates every table except the migration bookkeeping
func (tdb *TestDB) CleanTables() {
	tdb.t.Helper()

	var tables []string
	err := tdb.DB.Raw(`
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		AND tablename != 'schema_migrations'
	`).Scan(&tables).Error
	require.NoError(tdb.t, err, "Failed to get table names")

	for _, table := range tables {
		require.NoError(tdb.t, tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error,
			"Failed to truncate %s", table)
	}
}

// InsertBranch adds a branch master row
func (tdb *TestDB) InsertBranch(id int64, name string, headquarters, active bool) {
	tdb.t.Helper()
	require.NoError(tdb.t, tdb.DB.Create(&models.BranchModel{
		ID:           id,
		Name:         name,
		Headquarters: headquarters,
		Active:       active,
	}).Error)
}

// InsertOrder writes fact as a completed and paid order with its lines
func (tdb *TestDB) InsertOrder(fact *sales.OrderCompleted) {
	tdb.t.Helper()

	completedAt := fact.CompletedAt.UTC()
	order := &models.SalesOrderModel{
		ID:             fact.OrderID,
		BranchID:       fact.BranchID,
		Status:         models.OrderStatusCompleted,
		PaymentStatus:  models.PaymentStatusPaid,
		PaymentMethod:  string(fact.PaymentMethod),
		TotalAmount:    fact.Total,
		DiscountAmount: fact.Discount,
		CompletedAt:    &completedAt,
		CreatedAt:      completedAt,
		UpdatedAt:      completedAt,
	}
	for _, li := range fact.LineItems {
		order.Items = append(order.Items, models.SalesOrderItemModel{
			OrderID:      fact.OrderID,
			MenuID:       li.MenuID,
			MenuName:     li.MenuName,
			CategoryID:   li.CategoryID,
			CategoryName: li.CategoryName,
			Quantity:     li.Quantity,
			UnitPrice:    li.UnitPrice,
			LineTotal:    li.LineTotal,
		})
	}
	require.NoError(tdb.t, tdb.DB.Create(order).Error)
}

// InsertSupplyRequest adds a supply request in status
func (tdb *TestDB) InsertSupplyRequest(id, branchID int64, status string) {
	tdb.t.Helper()
	require.NoError(tdb.t, tdb.DB.Create(&models.SupplyRequestModel{
		ID:        id,
		BranchID:  branchID,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}).Error)
}

// Count returns the number of rows in table
func (tdb *TestDB) Count(table string) int64 {
	tdb.t.Helper()
	var n int64
	require.NoError(tdb.t, tdb.DB.Table(table).Count(&n).Error)
	return n
}

func connectToDatabase(t *testing.T, dsn string) (*gorm.DB, *sql.DB) {
	t.Helper()

	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig)
	require.NoError(t, err, "Failed to connect to database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "Failed to get underlying SQL DB")
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, sqlDB
}

// runMigrations applies the embedded schema
func runMigrations(t *testing.T, sqlDB *sql.DB) {
	t.Helper()

	m, err := migration.NewEmbedded(sqlDB, migrations.FS, nil)
	require.NoError(t, err, "Failed to create migrator")
	require.NoError(t, m.Up(), "Failed to run migrations")
}
