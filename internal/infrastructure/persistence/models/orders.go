package models

import (
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order states the aggregation engine reads. The order service owns the lifecycle.
const (
	OrderStatusCompleted = "COMPLETED"
	PaymentStatusPaid    = "PAID"
)

// SalesOrderModel is the order service's order table, read by the reconciler and archiver
type SalesOrderModel struct {
	ID             uuid.UUID             `gorm:"type:uuid;primaryKey"`
	BranchID       int64                 `gorm:"not null;index:idx_sales_orders_branch_completed,priority:1"`
	Status         string                `gorm:"type:varchar(20);not null"`
	PaymentStatus  string                `gorm:"type:varchar(20);not null"`
	PaymentMethod  string                `gorm:"type:varchar(20)"`
	TotalAmount    decimal.Decimal       `gorm:"type:decimal(18,2);not null;default:0"`
	DiscountAmount decimal.Decimal       `gorm:"type:decimal(18,2);not null;default:0"`
	CompletedAt    *time.Time            `gorm:"index:idx_sales_orders_branch_completed,priority:2"`
	Items          []SalesOrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
	CreatedAt      time.Time             `gorm:"not null;index"`
	UpdatedAt      time.Time             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SalesOrderModel) TableName() string {
	return "sales_orders"
}

// ToFact converts a completed order into the fact the aggregator consumes
func (m *SalesOrderModel) ToFact() sales.OrderCompleted {
	fact := sales.OrderCompleted{
		OrderID:       m.ID,
		BranchID:      m.BranchID,
		Discount:      m.DiscountAmount.Round(2),
		PaymentMethod: sales.ParsePaymentMethod(m.PaymentMethod),
		Total:         m.TotalAmount.Round(2),
		LineItems:     make([]sales.LineItem, len(m.Items)),
	}
	if m.CompletedAt != nil {
		fact.CompletedAt = *m.CompletedAt
	}
	for i, item := range m.Items {
		fact.LineItems[i] = item.ToDomain()
	}
	return fact
}

// SalesOrderItemModel is one order line
type SalesOrderItemModel struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	OrderID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	MenuID       int64           `gorm:"not null"`
	MenuName     string          `gorm:"type:varchar(200)"`
	CategoryID   int64           `gorm:"not null;default:0"`
	CategoryName string          `gorm:"type:varchar(200)"`
	Quantity     int64           `gorm:"not null"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	LineTotal    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
}

// TableName returns the table name for GORM
func (SalesOrderItemModel) TableName() string {
	return "sales_order_items"
}

// ToDomain converts the persistence model to a domain LineItem
func (m *SalesOrderItemModel) ToDomain() sales.LineItem {
	return sales.LineItem{
		MenuID:       m.MenuID,
		MenuName:     m.MenuName,
		CategoryID:   m.CategoryID,
		CategoryName: m.CategoryName,
		Quantity:     m.Quantity,
		UnitPrice:    m.UnitPrice.Round(2),
		LineTotal:    m.LineTotal.Round(2),
	}
}

// BranchModel is the branch master table owned by the store service
type BranchModel struct {
	ID           int64  `gorm:"primaryKey"`
	Name         string `gorm:"type:varchar(100);not null"`
	Headquarters bool   `gorm:"not null;default:false"`
	Active       bool   `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BranchModel) TableName() string {
	return "branches"
}

// ToDomain converts the persistence model to a domain Branch
func (m *BranchModel) ToDomain() sales.Branch {
	return sales.Branch{ID: m.ID, Name: m.Name, Headquarters: m.Headquarters, Active: m.Active}
}

// SupplyRequestStatusPending is the only supply request state the dashboard counts
const SupplyRequestStatusPending = "PENDING"

// SupplyRequestModel is the supply request table owned by the inventory service
type SupplyRequestModel struct {
	ID        int64     `gorm:"primaryKey"`
	BranchID  int64     `gorm:"not null;index"`
	Status    string    `gorm:"type:varchar(20);not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SupplyRequestModel) TableName() string {
	return "supply_requests"
}

// AllModels returns every model the statistics engine reads or writes, for AutoMigrate in tests
func AllModels() []any {
	return []any{
		&SalesAggregateModel{},
		&MenuSalesAggregateModel{},
		&CategorySalesAggregateModel{},
		&AppliedOrderFactModel{},
		&SalesOrderModel{},
		&SalesOrderItemModel{},
		&BranchModel{},
		&SupplyRequestModel{},
		&SchedulerJobRecordModel{},
	}
}
