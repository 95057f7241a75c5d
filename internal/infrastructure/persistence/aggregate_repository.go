package persistence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAggregateRepository implements sales.AggregateRepository using GORM.
// Incremental writes are single INSERT ... ON CONFLICT DO UPDATE statements that
// add the delta in SQL, so concurrent facts for the same key never lose an update.
type GormAggregateRepository struct {
	db *gorm.DB
}

// NewGormAggregateRepository creates a new GormAggregateRepository
func NewGormAggregateRepository(db *gorm.DB) *GormAggregateRepository {
	return &GormAggregateRepository{db: db}
}

var (
	salesKeyColumns    = []clause.Column{{Name: "branch_id"}, {Name: "sales_date"}, {Name: "hour"}}
	menuKeyColumns     = []clause.Column{{Name: "branch_id"}, {Name: "menu_id"}, {Name: "sales_date"}}
	categoryKeyColumns = []clause.Column{{Name: "branch_id"}, {Name: "category_id"}, {Name: "sales_date"}}
)

// salesIncrement adds the excluded row's counters to the stored row
func salesIncrement() clause.Set {
	const t = "sales_aggregates"
	return clause.Assignments(map[string]any{
		"order_count":    gorm.Expr(t + ".order_count + excluded.order_count"),
		"total_sales":    gorm.Expr(t + ".total_sales + excluded.total_sales"),
		"discount_total": gorm.Expr(t + ".discount_total + excluded.discount_total"),
		"net_sales": gorm.Expr("(" + t + ".total_sales + excluded.total_sales) - (" +
			t + ".discount_total + excluded.discount_total)"),
		"cash_sales":   gorm.Expr(t + ".cash_sales + excluded.cash_sales"),
		"card_sales":   gorm.Expr(t + ".card_sales + excluded.card_sales"),
		"mobile_sales": gorm.Expr(t + ".mobile_sales + excluded.mobile_sales"),
		"average_order_value": gorm.Expr("ROUND((" + t + ".total_sales + excluded.total_sales) * 1.0 / (" +
			t + ".order_count + excluded.order_count), 2)"),
		"updated_at": gorm.Expr("excluded.updated_at"),
	})
}

func itemIncrement(table, nameColumn string) clause.Set {
	return clause.Assignments(map[string]any{
		"quantity_sold": gorm.Expr(table + ".quantity_sold + excluded.quantity_sold"),
		"total_sales":   gorm.Expr(table + ".total_sales + excluded.total_sales"),
		"discount":      gorm.Expr(table + ".discount + excluded.discount"),
		"net_sales": gorm.Expr("(" + table + ".total_sales + excluded.total_sales) - (" +
			table + ".discount + excluded.discount)"),
		nameColumn:   gorm.Expr("CASE WHEN excluded." + nameColumn + " <> '' THEN excluded." + nameColumn + " ELSE " + table + "." + nameColumn + " END"),
		"updated_at": gorm.Expr("excluded.updated_at"),
	})
}

// ApplyFact records the fact in the ledger and adds it to every affected row in one transaction
func (r *GormAggregateRepository) ApplyFact(ctx context.Context, fact *sales.OrderCompleted, loc *time.Location) (bool, error) {
	date := fact.SalesDate(loc)
	now := time.Now().UTC()

	snap := sales.NewDaySnapshot(fact.BranchID, date)
	snap.Apply(fact, loc)

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDay(tx, fact.BranchID, date); err != nil {
			return err
		}
		ledger := &models.AppliedOrderFactModel{
			OrderID:   fact.OrderID,
			BranchID:  fact.BranchID,
			SalesDate: date,
			AppliedAt: now,
		}
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).Create(ledger)
		if res.Error != nil {
			return fmt.Errorf("record fact %s in ledger: %w", fact.OrderID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		daily := newSalesRow(snap.Daily, now)
		if err := tx.Clauses(clause.OnConflict{Columns: salesKeyColumns, DoUpdates: salesIncrement()}).Create(daily).Error; err != nil {
			return fmt.Errorf("upsert daily aggregate: %w", err)
		}
		for _, hour := range sales.HourKeys(snap, snap) {
			hourly := newSalesRow(snap.Hourly[hour], now)
			if err := tx.Clauses(clause.OnConflict{Columns: salesKeyColumns, DoUpdates: salesIncrement()}).Create(hourly).Error; err != nil {
				return fmt.Errorf("upsert hourly aggregate: %w", err)
			}
		}
		for _, m := range sortedMenus(snap.Menus) {
			row := &models.MenuSalesAggregateModel{CreatedAt: now}
			row.FromDomain(m)
			row.UpdatedAt = now
			if err := tx.Clauses(clause.OnConflict{
				Columns:   menuKeyColumns,
				DoUpdates: itemIncrement("menu_sales_aggregates", "menu_name"),
			}).Create(row).Error; err != nil {
				return fmt.Errorf("upsert menu aggregate %d: %w", m.MenuID, err)
			}
		}
		for _, c := range sortedCategories(snap.Categories) {
			row := &models.CategorySalesAggregateModel{CreatedAt: now}
			row.FromDomain(c)
			row.UpdatedAt = now
			if err := tx.Clauses(clause.OnConflict{
				Columns:   categoryKeyColumns,
				DoUpdates: itemIncrement("category_sales_aggregates", "category_name"),
			}).Create(row).Error; err != nil {
				return fmt.Errorf("upsert category aggregate %d: %w", c.CategoryID, err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func newSalesRow(a *sales.SalesAggregate, now time.Time) *models.SalesAggregateModel {
	row := &models.SalesAggregateModel{CreatedAt: now}
	row.FromDomain(a)
	row.UpdatedAt = now
	return row
}

type salesSumRow struct {
	SalesDate     time.Time
	Hour          int
	OrderCount    int64
	TotalSales    decimal.Decimal
	DiscountTotal decimal.Decimal
	CashSales     decimal.Decimal
	CardSales     decimal.Decimal
	MobileSales   decimal.Decimal
}

func (s salesSumRow) toDomain(branchID int64) sales.SalesAggregate {
	agg := sales.SalesAggregate{
		BranchID:      branchID,
		Date:          s.SalesDate,
		OrderCount:    s.OrderCount,
		TotalSales:    s.TotalSales.Round(2),
		DiscountTotal: s.DiscountTotal.Round(2),
		CashSales:     s.CashSales.Round(2),
		CardSales:     s.CardSales.Round(2),
		MobileSales:   s.MobileSales.Round(2),
	}
	agg.Recompute()
	return agg
}

const salesSumColumns = `
	COALESCE(SUM(order_count), 0) AS order_count,
	COALESCE(SUM(total_sales), 0) AS total_sales,
	COALESCE(SUM(discount_total), 0) AS discount_total,
	COALESCE(SUM(cash_sales), 0) AS cash_sales,
	COALESCE(SUM(card_sales), 0) AS card_sales,
	COALESCE(SUM(mobile_sales), 0) AS mobile_sales`

func (r *GormAggregateRepository) filtered(ctx context.Context, table string, f sales.AggregateFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Table(table)
	if !f.From.IsZero() {
		q = q.Where("sales_date >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("sales_date < ?", f.To)
	}
	if len(f.BranchIDs) > 0 {
		q = q.Where("branch_id IN ?", f.BranchIDs)
	}
	return q
}

func singleBranch(f sales.AggregateFilter) int64 {
	if len(f.BranchIDs) == 1 {
		return f.BranchIDs[0]
	}
	return sales.AllBranches
}

// DailyByDate returns one summed daily row per date, oldest first. Dates without rows are absent.
func (r *GormAggregateRepository) DailyByDate(ctx context.Context, f sales.AggregateFilter) ([]sales.SalesAggregate, error) {
	var rows []salesSumRow
	err := r.filtered(ctx, "sales_aggregates", f).
		Select("sales_date, "+salesSumColumns).
		Where("hour = ?", models.DailyHour).
		Group("sales_date").
		Order("sales_date ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query daily aggregates: %w", err)
	}

	branchID := singleBranch(f)
	out := make([]sales.SalesAggregate, len(rows))
	for i, row := range rows {
		row.SalesDate = dateOnlyUTC(row.SalesDate)
		out[i] = row.toDomain(branchID)
	}
	return out, nil
}

// HourlyByHour returns one summed row per hour of day, ascending
func (r *GormAggregateRepository) HourlyByHour(ctx context.Context, f sales.AggregateFilter) ([]sales.SalesAggregate, error) {
	var rows []salesSumRow
	err := r.filtered(ctx, "sales_aggregates", f).
		Select("hour, "+salesSumColumns).
		Where("hour >= 0").
		Group("hour").
		Order("hour ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query hourly aggregates: %w", err)
	}

	branchID := singleBranch(f)
	out := make([]sales.SalesAggregate, len(rows))
	for i, row := range rows {
		agg := row.toDomain(branchID)
		agg.Date = dateOnlyUTC(f.From)
		h := row.Hour
		agg.Hour = &h
		out[i] = agg
	}
	return out, nil
}

type itemSumRow struct {
	ID           int64
	Name         string
	QuantitySold int64
	TotalSales   decimal.Decimal
	Discount     decimal.Decimal
}

func (s itemSumRow) itemSales() sales.ItemSales {
	total := s.TotalSales.Round(2)
	discount := s.Discount.Round(2)
	return sales.ItemSales{
		QuantitySold: s.QuantitySold,
		TotalSales:   total,
		Discount:     discount,
		NetSales:     total.Sub(discount),
	}
}

func (r *GormAggregateRepository) itemRanking(ctx context.Context, table, idColumn, nameColumn string, f sales.AggregateFilter, limit int) ([]itemSumRow, error) {
	q := r.filtered(ctx, table, f).
		Select(fmt.Sprintf(`%s AS id, MAX(%s) AS name,
			COALESCE(SUM(quantity_sold), 0) AS quantity_sold,
			COALESCE(SUM(total_sales), 0) AS total_sales,
			COALESCE(SUM(discount), 0) AS discount`, idColumn, nameColumn)).
		Group(idColumn).
		Order(fmt.Sprintf("SUM(total_sales) DESC, %s ASC", idColumn))
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []itemSumRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query %s ranking: %w", table, err)
	}
	return rows, nil
}

// MenuRanking returns per-menu totals ordered by sales descending
func (r *GormAggregateRepository) MenuRanking(ctx context.Context, f sales.AggregateFilter, limit int) ([]sales.MenuSalesAggregate, error) {
	rows, err := r.itemRanking(ctx, "menu_sales_aggregates", "menu_id", "menu_name", f, limit)
	if err != nil {
		return nil, err
	}
	branchID := singleBranch(f)
	out := make([]sales.MenuSalesAggregate, len(rows))
	for i, row := range rows {
		out[i] = sales.MenuSalesAggregate{
			BranchID:  branchID,
			MenuID:    row.ID,
			MenuName:  row.Name,
			Date:      dateOnlyUTC(f.From),
			ItemSales: row.itemSales(),
		}
	}
	return out, nil
}

// CategoryRanking returns per-category totals ordered by sales descending
func (r *GormAggregateRepository) CategoryRanking(ctx context.Context, f sales.AggregateFilter, limit int) ([]sales.CategorySalesAggregate, error) {
	rows, err := r.itemRanking(ctx, "category_sales_aggregates", "category_id", "category_name", f, limit)
	if err != nil {
		return nil, err
	}
	branchID := singleBranch(f)
	out := make([]sales.CategorySalesAggregate, len(rows))
	for i, row := range rows {
		out[i] = sales.CategorySalesAggregate{
			BranchID:     branchID,
			CategoryID:   row.ID,
			CategoryName: row.Name,
			Date:         dateOnlyUTC(f.From),
			ItemSales:    row.itemSales(),
		}
	}
	return out, nil
}

// lockDay serializes ApplyFact and LockDay for one branch-day until the transaction
// ends. SQLite runs a single writer, so only Postgres takes the lock.
func lockDay(tx *gorm.DB, branchID int64, date time.Time) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", dayLockKey(branchID, date)).Error; err != nil {
		return fmt.Errorf("lock branch %d on %s: %w", branchID, date.Format("2006-01-02"), err)
	}
	return nil
}

// dayLockKey packs the branch and the day number into one advisory lock key.
// Collisions only serialize unrelated days.
func dayLockKey(branchID int64, date time.Time) int64 {
	day := dateOnlyUTC(date).Unix() / 86400
	return branchID<<20 | day&(1<<20-1)
}

// LockDay runs fn in a transaction holding the branch-day lock
func (r *GormAggregateRepository) LockDay(ctx context.Context, branchID int64, date time.Time, fn func(ctx context.Context, store sales.DayStore) error) error {
	date = dateOnlyUTC(date)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDay(tx, branchID, date); err != nil {
			return err
		}
		return fn(ctx, &gormDayStore{db: tx})
	})
}

// LoadDay returns every stored row of one branch-day without locking it
func (r *GormAggregateRepository) LoadDay(ctx context.Context, branchID int64, date time.Time) (*sales.DaySnapshot, error) {
	return (&gormDayStore{db: r.db}).LoadDay(ctx, branchID, date)
}

// gormDayStore is the DayStore of one LockDay transaction
type gormDayStore struct {
	db *gorm.DB
}

func (s *gormDayStore) LoadDay(ctx context.Context, branchID int64, date time.Time) (*sales.DaySnapshot, error) {
	date = dateOnlyUTC(date)
	snap := sales.NewDaySnapshot(branchID, date)
	db := s.db.WithContext(ctx)

	var salesRows []models.SalesAggregateModel
	if err := db.Where("branch_id = ? AND sales_date = ?", branchID, date).Find(&salesRows).Error; err != nil {
		return nil, fmt.Errorf("load sales aggregates: %w", err)
	}
	for i := range salesRows {
		agg := salesRows[i].ToDomain()
		if agg.Hour == nil {
			snap.Daily = agg
			continue
		}
		snap.Hourly[*agg.Hour] = agg
	}

	var menuRows []models.MenuSalesAggregateModel
	if err := db.Where("branch_id = ? AND sales_date = ?", branchID, date).Find(&menuRows).Error; err != nil {
		return nil, fmt.Errorf("load menu aggregates: %w", err)
	}
	for i := range menuRows {
		m := menuRows[i].ToDomain()
		snap.Menus[m.MenuID] = m
	}

	var categoryRows []models.CategorySalesAggregateModel
	if err := db.Where("branch_id = ? AND sales_date = ?", branchID, date).Find(&categoryRows).Error; err != nil {
		return nil, fmt.Errorf("load category aggregates: %w", err)
	}
	for i := range categoryRows {
		c := categoryRows[i].ToDomain()
		snap.Categories[c.CategoryID] = c
	}
	return snap, nil
}

var (
	salesOverwriteColumns = []string{
		"order_count", "total_sales", "discount_total", "net_sales",
		"cash_sales", "card_sales", "mobile_sales", "average_order_value", "updated_at",
	}
	menuOverwriteColumns     = []string{"menu_name", "quantity_sold", "total_sales", "discount", "net_sales", "updated_at"}
	categoryOverwriteColumns = []string{"category_name", "quantity_sold", "total_sales", "discount", "net_sales", "updated_at"}
)

// ApplyCorrection overwrites the listed rows with the given values
func (s *gormDayStore) ApplyCorrection(ctx context.Context, c *sales.DayCorrection) error {
	if c == nil || c.IsEmpty() {
		return nil
	}
	now := time.Now().UTC()
	tx := s.db.WithContext(ctx)
	overwrite := func(a *sales.SalesAggregate) error {
		a.Recompute()
		row := newSalesRow(a, now)
		return tx.Clauses(clause.OnConflict{
			Columns:   salesKeyColumns,
			DoUpdates: clause.AssignmentColumns(salesOverwriteColumns),
		}).Create(row).Error
	}
	if c.Daily != nil {
		if err := overwrite(c.Daily); err != nil {
			return fmt.Errorf("overwrite daily aggregate: %w", err)
		}
	}
	for _, h := range c.Hourly {
		if err := overwrite(h); err != nil {
			return fmt.Errorf("overwrite hourly aggregate: %w", err)
		}
	}
	for _, m := range c.Menus {
		row := &models.MenuSalesAggregateModel{CreatedAt: now}
		row.FromDomain(m)
		row.UpdatedAt = now
		if err := tx.Clauses(clause.OnConflict{
			Columns:   menuKeyColumns,
			DoUpdates: clause.AssignmentColumns(menuOverwriteColumns),
		}).Create(row).Error; err != nil {
			return fmt.Errorf("overwrite menu aggregate %d: %w", m.MenuID, err)
		}
	}
	for _, cat := range c.Categories {
		row := &models.CategorySalesAggregateModel{CreatedAt: now}
		row.FromDomain(cat)
		row.UpdatedAt = now
		if err := tx.Clauses(clause.OnConflict{
			Columns:   categoryKeyColumns,
			DoUpdates: clause.AssignmentColumns(categoryOverwriteColumns),
		}).Create(row).Error; err != nil {
			return fmt.Errorf("overwrite category aggregate %d: %w", cat.CategoryID, err)
		}
	}
	return nil
}

const ledgerBatchSize = 500

// RecordApplied inserts ledger rows for the orders, leaving existing ones untouched
func (s *gormDayStore) RecordApplied(ctx context.Context, orders []sales.OrderCompleted, loc *time.Location) (int, error) {
	if len(orders) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]models.AppliedOrderFactModel, len(orders))
	for i := range orders {
		rows[i] = models.AppliedOrderFactModel{
			OrderID:   orders[i].OrderID,
			BranchID:  orders[i].BranchID,
			SalesDate: orders[i].SalesDate(loc),
			AppliedAt: now,
		}
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		CreateInBatches(rows, ledgerBatchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("record reconciled orders in ledger: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// BranchesWithAggregates lists branches that have daily rows in [from, to)
func (r *GormAggregateRepository) BranchesWithAggregates(ctx context.Context, from, to time.Time) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&models.SalesAggregateModel{}).
		Where("hour = ? AND sales_date >= ? AND sales_date < ?", models.DailyHour, dateOnlyUTC(from), dateOnlyUTC(to)).
		Distinct().
		Order("branch_id").
		Pluck("branch_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list branches with aggregates: %w", err)
	}
	return ids, nil
}

func sortedMenus(m map[int64]*sales.MenuSalesAggregate) []*sales.MenuSalesAggregate {
	out := make([]*sales.MenuSalesAggregate, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MenuID < out[j].MenuID })
	return out
}

func sortedCategories(m map[int64]*sales.CategorySalesAggregate) []*sales.CategorySalesAggregate {
	out := make([]*sales.CategorySalesAggregate, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return out
}

func dateOnlyUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
