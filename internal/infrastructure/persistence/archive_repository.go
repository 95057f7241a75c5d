package persistence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"gorm.io/gorm"
)

type archiveTable struct {
	name       string
	keyColumn  string
	dateColumn string
	numericKey bool
	// dateOnly columns are compared against calendar dates, not instants
	dateOnly bool
}

var archiveTables = map[sales.ArchiveTarget]archiveTable{
	sales.TargetOrders:             {name: "sales_orders", keyColumn: "id", dateColumn: "created_at"},
	sales.TargetSalesAggregates:    {name: "sales_aggregates", keyColumn: "id", dateColumn: "sales_date", numericKey: true, dateOnly: true},
	sales.TargetMenuAggregates:     {name: "menu_sales_aggregates", keyColumn: "id", dateColumn: "sales_date", numericKey: true, dateOnly: true},
	sales.TargetCategoryAggregates: {name: "category_sales_aggregates", keyColumn: "id", dateColumn: "sales_date", numericKey: true, dateOnly: true},
	sales.TargetFactLedger:         {name: "applied_order_facts", keyColumn: "order_id", dateColumn: "applied_at"},
}

// GormArchiveRepository implements sales.ArchiveRepository with keyset pagination
type GormArchiveRepository struct {
	db *gorm.DB
}

// NewGormArchiveRepository creates a new GormArchiveRepository
func NewGormArchiveRepository(db *gorm.DB) *GormArchiveRepository {
	return &GormArchiveRepository{db: db}
}

func lookupTable(target sales.ArchiveTarget) (archiveTable, error) {
	t, ok := archiveTables[target]
	if !ok {
		return archiveTable{}, fmt.Errorf("unknown archive target %q", target)
	}
	return t, nil
}

func (r *GormArchiveRepository) inRange(ctx context.Context, t archiveTable, rng sales.DateRange) *gorm.DB {
	bound := func(v time.Time) time.Time {
		if t.dateOnly {
			return dateOnlyUTC(v)
		}
		return v.UTC()
	}
	q := r.db.WithContext(ctx).Table(t.name)
	if !rng.From.IsZero() {
		q = q.Where(t.dateColumn+" >= ?", bound(rng.From))
	}
	if !rng.To.IsZero() {
		q = q.Where(t.dateColumn+" < ?", bound(rng.To))
	}
	return q
}

// Count returns the number of rows of the target in the range
func (r *GormArchiveRepository) Count(ctx context.Context, target sales.ArchiveTarget, rng sales.DateRange) (int64, error) {
	t, err := lookupTable(target)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.inRange(ctx, t, rng).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", t.name, err)
	}
	return n, nil
}

// NextBatch returns up to limit rows in the range whose key is greater than after
func (r *GormArchiveRepository) NextBatch(ctx context.Context, target sales.ArchiveTarget, rng sales.DateRange, after string, limit int) (*sales.ArchiveBatch, error) {
	t, err := lookupTable(target)
	if err != nil {
		return nil, err
	}

	q := r.inRange(ctx, t, rng).Order(t.keyColumn + " ASC").Limit(limit)
	if after != "" {
		cursor, err := t.keyValue(after)
		if err != nil {
			return nil, err
		}
		q = q.Where(t.keyColumn+" > ?", cursor)
	}

	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select %s batch: %w", t.name, err)
	}

	batch := &sales.ArchiveBatch{Target: target, Rows: rows, Keys: make([]string, len(rows))}
	for i, row := range rows {
		batch.Keys[i] = keyString(row[t.keyColumn])
	}
	if len(batch.Keys) > 0 {
		batch.Cursor = batch.Keys[len(batch.Keys)-1]
	}

	if target == sales.TargetOrders && len(rows) > 0 {
		if err := r.attachItems(ctx, batch); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

func (r *GormArchiveRepository) attachItems(ctx context.Context, batch *sales.ArchiveBatch) error {
	var items []map[string]any
	err := r.db.WithContext(ctx).
		Table("sales_order_items").
		Where("order_id IN ?", batch.Keys).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	byOrder := make(map[string][]map[string]any, len(batch.Keys))
	for _, item := range items {
		key := keyString(item["order_id"])
		byOrder[key] = append(byOrder[key], item)
	}
	for i, row := range batch.Rows {
		row["items"] = byOrder[batch.Keys[i]]
	}
	return nil
}

// DeleteBatch removes the given keys, and order lines for orders, in one transaction
func (r *GormArchiveRepository) DeleteBatch(ctx context.Context, target sales.ArchiveTarget, keys []string) (int64, error) {
	t, err := lookupTable(target)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	values := make([]any, len(keys))
	for i, k := range keys {
		if values[i], err = t.keyValue(k); err != nil {
			return 0, err
		}
	}

	var deleted int64
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if target == sales.TargetOrders {
			if err := tx.Exec("DELETE FROM sales_order_items WHERE order_id IN ?", values).Error; err != nil {
				return fmt.Errorf("delete order items: %w", err)
			}
		}
		res := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s IN ?", t.name, t.keyColumn), values)
		if res.Error != nil {
			return fmt.Errorf("delete %s batch: %w", t.name, res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

func (t archiveTable) keyValue(key string) (any, error) {
	if !t.numericKey {
		return key, nil
	}
	v, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s key %q: %w", t.name, key, err)
	}
	return v, nil
}

func keyString(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case []byte:
		return string(k)
	case int64:
		return strconv.FormatInt(k, 10)
	case int32:
		return strconv.FormatInt(int64(k), 10)
	case int:
		return strconv.Itoa(k)
	case fmt.Stringer:
		return k.String()
	default:
		return fmt.Sprint(v)
	}
}
