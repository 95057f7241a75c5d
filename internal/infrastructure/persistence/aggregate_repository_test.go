package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	march1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	march2 = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
)

func cashOrder(branchID int64, at time.Time) *sales.OrderCompleted {
	return &sales.OrderCompleted{
		OrderID:       uuid.New(),
		BranchID:      branchID,
		CompletedAt:   at,
		PaymentMethod: sales.PaymentCash,
		Total:         dec("5000"),
		Discount:      dec("0"),
		LineItems: []sales.LineItem{
			{MenuID: 10, MenuName: "Americano", CategoryID: 1, CategoryName: "Coffee", Quantity: 2, UnitPrice: dec("2500"), LineTotal: dec("5000")},
		},
	}
}

func cardOrder(branchID int64, at time.Time) *sales.OrderCompleted {
	return &sales.OrderCompleted{
		OrderID:       uuid.New(),
		BranchID:      branchID,
		CompletedAt:   at,
		PaymentMethod: sales.PaymentCard,
		Total:         dec("3000"),
		Discount:      dec("500"),
		LineItems: []sales.LineItem{
			{MenuID: 20, MenuName: "Latte", CategoryID: 1, CategoryName: "Coffee", Quantity: 1, UnitPrice: dec("2000"), LineTotal: dec("2000")},
			{MenuID: 30, MenuName: "Bagel", CategoryID: 2, CategoryName: "Bakery", Quantity: 1, UnitPrice: dec("1000"), LineTotal: dec("1000")},
		},
	}
}

func TestGormAggregateRepository_ApplyFact(t *testing.T) {
	ctx := context.Background()

	t.Run("two orders produce the expected daily row", func(t *testing.T) {
		repo := NewGormAggregateRepository(setupTestDB(t))

		applied, err := repo.ApplyFact(ctx, cashOrder(1, march1.Add(10*time.Hour+15*time.Minute)), time.UTC)
		require.NoError(t, err)
		assert.True(t, applied)
		applied, err = repo.ApplyFact(ctx, cardOrder(1, march1.Add(14*time.Hour+30*time.Minute)), time.UTC)
		require.NoError(t, err)
		assert.True(t, applied)

		snap, err := repo.LoadDay(ctx, 1, march1)
		require.NoError(t, err)

		daily := snap.Daily
		assert.Equal(t, int64(2), daily.OrderCount)
		assert.True(t, daily.TotalSales.Equal(dec("8000")), daily.TotalSales.String())
		assert.True(t, daily.DiscountTotal.Equal(dec("500")))
		assert.True(t, daily.NetSales.Equal(dec("7500")))
		assert.True(t, daily.CashSales.Equal(dec("5000")))
		assert.True(t, daily.CardSales.Equal(dec("2500")))
		assert.True(t, daily.MobileSales.IsZero())
		assert.True(t, daily.AverageOrderValue.Equal(dec("4000")))

		require.Len(t, snap.Hourly, 2)
		assert.Equal(t, int64(1), snap.Hourly[10].OrderCount)
		assert.True(t, snap.Hourly[14].TotalSales.Equal(dec("3000")))
		assert.True(t, snap.Hourly[14].CardSales.IsZero())

		require.Len(t, snap.Menus, 3)
		assert.True(t, snap.Menus[20].Discount.Equal(dec("333.33")))
		assert.True(t, snap.Menus[30].Discount.Equal(dec("166.67")))
		assert.True(t, snap.Menus[10].NetSales.Equal(dec("5000")))
		assert.Equal(t, "Latte", snap.Menus[20].MenuName)

		require.Len(t, snap.Categories, 2)
		assert.Equal(t, int64(3), snap.Categories[1].QuantitySold)
		assert.True(t, snap.Categories[1].NetSales.Equal(dec("6666.67")))
		assert.True(t, snap.Categories[2].NetSales.Equal(dec("833.33")))
	})

	t.Run("midnight hour is stored as an hourly row", func(t *testing.T) {
		repo := NewGormAggregateRepository(setupTestDB(t))

		_, err := repo.ApplyFact(ctx, cashOrder(1, march1.Add(5*time.Minute)), time.UTC)
		require.NoError(t, err)

		snap, err := repo.LoadDay(ctx, 1, march1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Daily.OrderCount)
		require.Contains(t, snap.Hourly, 0)
		assert.Equal(t, int64(1), snap.Hourly[0].OrderCount)
	})

	t.Run("redelivered fact is rejected without touching rows", func(t *testing.T) {
		repo := NewGormAggregateRepository(setupTestDB(t))
		fact := cardOrder(1, march1.Add(9*time.Hour))

		applied, err := repo.ApplyFact(ctx, fact, time.UTC)
		require.NoError(t, err)
		require.True(t, applied)

		applied, err = repo.ApplyFact(ctx, fact, time.UTC)
		require.NoError(t, err)
		assert.False(t, applied)

		snap, err := repo.LoadDay(ctx, 1, march1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Daily.OrderCount)
		assert.True(t, snap.Daily.TotalSales.Equal(dec("3000")))
		assert.Equal(t, int64(1), snap.Menus[20].QuantitySold)
	})

	t.Run("business date follows the configured timezone", func(t *testing.T) {
		seoul, err := time.LoadLocation("Asia/Seoul")
		require.NoError(t, err)
		repo := NewGormAggregateRepository(setupTestDB(t))

		// 2024-02-29 16:30 UTC is 2024-03-01 01:30 in Seoul
		_, err = repo.ApplyFact(ctx, cashOrder(1, march1.Add(-7*time.Hour-30*time.Minute)), seoul)
		require.NoError(t, err)

		snap, err := repo.LoadDay(ctx, 1, march1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Daily.OrderCount)
		assert.Contains(t, snap.Hourly, 1)
	})

	t.Run("concurrent facts for the same key are all counted", func(t *testing.T) {
		repo := NewGormAggregateRepository(setupTestDB(t))

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.ApplyFact(ctx, cashOrder(1, march1.Add(12*time.Hour)), time.UTC)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		snap, err := repo.LoadDay(ctx, 1, march1)
		require.NoError(t, err)
		assert.Equal(t, int64(n), snap.Daily.OrderCount)
		assert.True(t, snap.Daily.TotalSales.Equal(dec("100000")))
		assert.True(t, snap.Daily.CashSales.Equal(dec("100000")))
		assert.Equal(t, int64(2*n), snap.Menus[10].QuantitySold)
	})
}

func TestGormAggregateRepository_ApplyFact_RollsBackOnFailure(t *testing.T) {
	t.Run("ledger insert failure", func(t *testing.T) {
		db, mock, sqlDB := newMockDB(t)
		defer sqlDB.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(dayLockKey(1, march1)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO "applied_order_facts"`).WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		applied, err := NewGormAggregateRepository(db).ApplyFact(context.Background(), cashOrder(1, march1), time.UTC)
		require.Error(t, err)
		assert.False(t, applied)
		assert.Contains(t, err.Error(), "ledger")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("daily upsert failure undoes the ledger entry", func(t *testing.T) {
		db, mock, sqlDB := newMockDB(t)
		defer sqlDB.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(dayLockKey(1, march1)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO "applied_order_facts"`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO "sales_aggregates"`).WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		applied, err := NewGormAggregateRepository(db).ApplyFact(context.Background(), cashOrder(1, march1), time.UTC)
		require.Error(t, err)
		assert.False(t, applied)
		assert.Contains(t, err.Error(), "upsert daily aggregate")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func seedTwoBranches(t *testing.T, repo *GormAggregateRepository) {
	t.Helper()
	ctx := context.Background()
	facts := []*sales.OrderCompleted{
		cashOrder(1, march1.Add(10*time.Hour)),
		cardOrder(1, march1.Add(14*time.Hour)),
		cashOrder(2, march1.Add(10*time.Hour)),
		cardOrder(1, march2.Add(11*time.Hour)),
	}
	for _, f := range facts {
		_, err := repo.ApplyFact(ctx, f, time.UTC)
		require.NoError(t, err)
	}
}

func TestGormAggregateRepository_Queries(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAggregateRepository(setupTestDB(t))
	seedTwoBranches(t, repo)
	to := march2.AddDate(0, 0, 1)

	t.Run("DailyByDate for one branch", func(t *testing.T) {
		rows, err := repo.DailyByDate(ctx, sales.ForBranch(1, march1, to))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.True(t, rows[0].Date.Equal(march1))
		assert.Equal(t, int64(1), rows[0].BranchID)
		assert.True(t, rows[0].TotalSales.Equal(dec("8000")))
		assert.True(t, rows[1].Date.Equal(march2))
		assert.True(t, rows[1].NetSales.Equal(dec("2500")))
	})

	t.Run("DailyByDate summed over all branches", func(t *testing.T) {
		rows, err := repo.DailyByDate(ctx, sales.ForBranch(sales.AllBranches, march1, march2))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, sales.AllBranches, rows[0].BranchID)
		assert.Equal(t, int64(3), rows[0].OrderCount)
		assert.True(t, rows[0].CashSales.Equal(dec("10000")))
		assert.True(t, rows[0].AverageOrderValue.Equal(dec("4333.33")))
	})

	t.Run("HourlyByHour", func(t *testing.T) {
		rows, err := repo.HourlyByHour(ctx, sales.ForBranch(sales.AllBranches, march1, march2))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, 10, *rows[0].Hour)
		assert.Equal(t, int64(2), rows[0].OrderCount)
		assert.Equal(t, 14, *rows[1].Hour)
	})

	t.Run("MenuRanking orders by sales and honours limit", func(t *testing.T) {
		rows, err := repo.MenuRanking(ctx, sales.ForBranch(sales.AllBranches, march1, to), 2)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(10), rows[0].MenuID)
		assert.Equal(t, "Americano", rows[0].MenuName)
		assert.True(t, rows[0].TotalSales.Equal(dec("10000")))
		assert.Equal(t, int64(20), rows[1].MenuID)
		assert.True(t, rows[1].Discount.Equal(dec("666.66")))
		assert.True(t, rows[1].NetSales.Equal(dec("3333.34")))
	})

	t.Run("CategoryRanking without limit", func(t *testing.T) {
		rows, err := repo.CategoryRanking(ctx, sales.ForBranch(1, march1, to), 0)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "Coffee", rows[0].CategoryName)
		assert.Equal(t, int64(4), rows[0].QuantitySold)
		assert.Equal(t, "Bakery", rows[1].CategoryName)
	})

	t.Run("BranchesWithAggregates", func(t *testing.T) {
		ids, err := repo.BranchesWithAggregates(ctx, march1, march2)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, ids)

		ids, err = repo.BranchesWithAggregates(ctx, march2, to)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, ids)
	})

	t.Run("empty range returns no rows", func(t *testing.T) {
		rows, err := repo.DailyByDate(ctx, sales.ForBranch(9, march1, to))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestGormAggregateRepository_ApplyCorrection(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAggregateRepository(setupTestDB(t))
	_, err := repo.ApplyFact(ctx, cashOrder(1, march1.Add(10*time.Hour)), time.UTC)
	require.NoError(t, err)

	truth := sales.NewDaySnapshot(1, march1)
	truth.Apply(cashOrder(1, march1.Add(10*time.Hour)), time.UTC)
	truth.Apply(cardOrder(1, march1.Add(10*time.Hour)), time.UTC)

	correction := &sales.DayCorrection{
		BranchID: 1,
		Date:     march1,
		Daily:    truth.Daily,
		Hourly:   []*sales.SalesAggregate{truth.Hourly[10]},
		Menus:    []*sales.MenuSalesAggregate{truth.Menus[10], truth.Menus[20]},
		Categories: []*sales.CategorySalesAggregate{
			truth.Categories[1],
		},
	}
	correct := func(c *sales.DayCorrection) error {
		return repo.LockDay(ctx, 1, march1, func(ctx context.Context, store sales.DayStore) error {
			return store.ApplyCorrection(ctx, c)
		})
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, correct(correction))

		snap, err := repo.LoadDay(ctx, 1, march1)
		require.NoError(t, err)
		assert.True(t, snap.Daily.SameCounters(truth.Daily))
		assert.True(t, snap.Daily.AverageOrderValue.Equal(dec("4000")))
		assert.Equal(t, int64(2), snap.Hourly[10].OrderCount)
		assert.True(t, snap.Menus[20].ItemSales.SameCounters(truth.Menus[20].ItemSales))
		assert.Equal(t, int64(3), snap.Categories[1].QuantitySold)
	}

	t.Run("empty correction is a no-op", func(t *testing.T) {
		assert.NoError(t, correct(&sales.DayCorrection{BranchID: 1, Date: march1}))
		assert.NoError(t, correct(nil))
	})
}

func TestGormAggregateRepository_LockDay(t *testing.T) {
	ctx := context.Background()

	t.Run("late fact for a reconciled order is a duplicate", func(t *testing.T) {
		repo := NewGormAggregateRepository(setupTestDB(t))
		late := cardOrder(1, march1.Add(14*time.Hour))
		truth := sales.NewDaySnapshot(1, march1)
		truth.Apply(late, time.UTC)

		err := repo.LockDay(ctx, 1, march1, func(ctx context.Context, store sales.DayStore) error {
			n, err := store.RecordApplied(ctx, []sales.OrderCompleted{*late}, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			return store.ApplyCorrection(ctx, &sales.DayCorrection{
				BranchID: 1, Date: march1, Daily: truth.Daily, Hourly: []*sales.SalesAggregate{truth.Hourly[14]},
			})
		})
		require.NoError(t, err)

		applied, err := repo.ApplyFact(ctx, late, time.UTC)
		require.NoError(t, err)
		assert.False(t, applied)

		snap, err := repo.LoadDay(ctx, 1, march1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Daily.OrderCount)
		assert.True(t, snap.Daily.TotalSales.Equal(dec("3000")))
	})

	t.Run("already applied orders are not recorded again", func(t *testing.T) {
		repo := NewGormAggregateRepository(setupTestDB(t))
		applied := cashOrder(1, march1.Add(9*time.Hour))
		_, err := repo.ApplyFact(ctx, applied, time.UTC)
		require.NoError(t, err)
		missing := cardOrder(1, march1.Add(10*time.Hour))

		err = repo.LockDay(ctx, 1, march1, func(ctx context.Context, store sales.DayStore) error {
			n, err := store.RecordApplied(ctx, []sales.OrderCompleted{*applied, *missing}, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("callback error rolls back the ledger", func(t *testing.T) {
		repo := NewGormAggregateRepository(setupTestDB(t))
		order := cashOrder(1, march1.Add(9*time.Hour))
		boom := errors.New("order source timeout")

		err := repo.LockDay(ctx, 1, march1, func(ctx context.Context, store sales.DayStore) error {
			_, err := store.RecordApplied(ctx, []sales.OrderCompleted{*order}, time.UTC)
			require.NoError(t, err)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		applied, err := repo.ApplyFact(ctx, order, time.UTC)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("postgres takes the same advisory lock as ApplyFact", func(t *testing.T) {
		db, mock, sqlDB := newMockDB(t)
		defer sqlDB.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(dayLockKey(7, march1)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		ran := false
		err := NewGormAggregateRepository(db).LockDay(context.Background(), 7, march1.Add(15*time.Hour), func(context.Context, sales.DayStore) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDayLockKey(t *testing.T) {
	assert.Equal(t, dayLockKey(1, march1), dayLockKey(1, march1.Add(23*time.Hour)))
	assert.NotEqual(t, dayLockKey(1, march1), dayLockKey(1, march2))
	assert.NotEqual(t, dayLockKey(1, march1), dayLockKey(2, march1))
}

func TestGormAggregateRepository_LoadDay_Empty(t *testing.T) {
	repo := NewGormAggregateRepository(setupTestDB(t))
	snap, err := repo.LoadDay(context.Background(), 1, march1)
	require.NoError(t, err)
	assert.True(t, snap.Daily.IsEmpty())
	assert.Empty(t, snap.Hourly)
	assert.Empty(t, snap.Menus)
	assert.Empty(t, snap.Categories)
}
