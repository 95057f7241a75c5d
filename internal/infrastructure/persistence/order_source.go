package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormOrderSource reads completed and paid orders from the order service's tables
type GormOrderSource struct {
	db *gorm.DB
}

// NewGormOrderSource creates a new GormOrderSource
func NewGormOrderSource(db *gorm.DB) *GormOrderSource {
	return &GormOrderSource{db: db}
}

func (s *GormOrderSource) completed(ctx context.Context, from, to time.Time) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.SalesOrderModel{}).
		Where("status = ? AND payment_status = ?", models.OrderStatusCompleted, models.PaymentStatusPaid).
		Where("completed_at >= ? AND completed_at < ?", from.UTC(), to.UTC())
}

// CompletedOrders returns the facts of every completed and paid order of the branch in [from, to)
func (s *GormOrderSource) CompletedOrders(ctx context.Context, branchID int64, from, to time.Time) ([]sales.OrderCompleted, error) {
	var orders []models.SalesOrderModel
	err := s.completed(ctx, from, to).
		Where("branch_id = ?", branchID).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("completed_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("load completed orders for branch %d: %w", branchID, err)
	}

	facts := make([]sales.OrderCompleted, len(orders))
	for i := range orders {
		facts[i] = orders[i].ToFact()
	}
	return facts, nil
}

// BranchesWithOrders lists branches with completed and paid orders in [from, to)
func (s *GormOrderSource) BranchesWithOrders(ctx context.Context, from, to time.Time) ([]int64, error) {
	var ids []int64
	if err := s.completed(ctx, from, to).Distinct().Order("branch_id").Pluck("branch_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list branches with orders: %w", err)
	}
	return ids, nil
}

// GormBranchDirectory reads branch master data
type GormBranchDirectory struct {
	db *gorm.DB
}

// NewGormBranchDirectory creates a new GormBranchDirectory
func NewGormBranchDirectory(db *gorm.DB) *GormBranchDirectory {
	return &GormBranchDirectory{db: db}
}

// ListBranches returns every branch ordered by id
func (d *GormBranchDirectory) ListBranches(ctx context.Context) ([]sales.Branch, error) {
	var rows []models.BranchModel
	if err := d.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	out := make([]sales.Branch, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// GormSupplyRequestCounter counts supply requests awaiting headquarters approval
type GormSupplyRequestCounter struct {
	db *gorm.DB
}

// NewGormSupplyRequestCounter creates a new GormSupplyRequestCounter
func NewGormSupplyRequestCounter(db *gorm.DB) *GormSupplyRequestCounter {
	return &GormSupplyRequestCounter{db: db}
}

// CountPending returns the number of pending supply requests
func (c *GormSupplyRequestCounter) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).
		Model(&models.SupplyRequestModel{}).
		Where("status = ?", models.SupplyRequestStatusPending).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count pending supply requests: %w", err)
	}
	return n, nil
}
