package models

import (
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DailyHour marks a sales_aggregates row as the daily rollup
const DailyHour = -1

// SalesAggregateModel stores daily (hour = -1) and hourly rollups
type SalesAggregateModel struct {
	ID                int64           `gorm:"primaryKey;autoIncrement"`
	BranchID          int64           `gorm:"not null;uniqueIndex:uq_sales_aggregates_key,priority:1"`
	SalesDate         time.Time       `gorm:"type:date;not null;uniqueIndex:uq_sales_aggregates_key,priority:2;index"`
	Hour              int             `gorm:"type:smallint;not null;uniqueIndex:uq_sales_aggregates_key,priority:3"`
	OrderCount        int64           `gorm:"not null;default:0"`
	TotalSales        decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	DiscountTotal     decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	NetSales          decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	CashSales         decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	CardSales         decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	MobileSales       decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	AverageOrderValue decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	CreatedAt         time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SalesAggregateModel) TableName() string {
	return "sales_aggregates"
}

// ToDomain converts the persistence model to a domain SalesAggregate
func (m *SalesAggregateModel) ToDomain() *sales.SalesAggregate {
	agg := &sales.SalesAggregate{
		BranchID:          m.BranchID,
		Date:              dateOnly(m.SalesDate),
		OrderCount:        m.OrderCount,
		TotalSales:        m.TotalSales.Round(2),
		DiscountTotal:     m.DiscountTotal.Round(2),
		NetSales:          m.NetSales.Round(2),
		CashSales:         m.CashSales.Round(2),
		CardSales:         m.CardSales.Round(2),
		MobileSales:       m.MobileSales.Round(2),
		AverageOrderValue: m.AverageOrderValue.Round(2),
		UpdatedAt:         m.UpdatedAt,
	}
	if m.Hour != DailyHour {
		h := m.Hour
		agg.Hour = &h
	}
	return agg
}

// FromDomain populates the persistence model from a domain SalesAggregate
func (m *SalesAggregateModel) FromDomain(a *sales.SalesAggregate) {
	m.BranchID = a.BranchID
	m.SalesDate = dateOnly(a.Date)
	m.Hour = DailyHour
	if a.Hour != nil {
		m.Hour = *a.Hour
	}
	m.OrderCount = a.OrderCount
	m.TotalSales = a.TotalSales
	m.DiscountTotal = a.DiscountTotal
	m.NetSales = a.NetSales
	m.CashSales = a.CashSales
	m.CardSales = a.CardSales
	m.MobileSales = a.MobileSales
	m.AverageOrderValue = a.AverageOrderValue
	m.UpdatedAt = a.UpdatedAt
}

// MenuSalesAggregateModel stores per-menu daily rollups
type MenuSalesAggregateModel struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	BranchID     int64           `gorm:"not null;uniqueIndex:uq_menu_sales_aggregates_key,priority:1"`
	MenuID       int64           `gorm:"not null;uniqueIndex:uq_menu_sales_aggregates_key,priority:2"`
	SalesDate    time.Time       `gorm:"type:date;not null;uniqueIndex:uq_menu_sales_aggregates_key,priority:3;index"`
	MenuName     string          `gorm:"type:varchar(200);not null;default:''"`
	QuantitySold int64           `gorm:"not null;default:0"`
	TotalSales   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	Discount     decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	NetSales     decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MenuSalesAggregateModel) TableName() string {
	return "menu_sales_aggregates"
}

// ToDomain converts the persistence model to a domain MenuSalesAggregate
func (m *MenuSalesAggregateModel) ToDomain() *sales.MenuSalesAggregate {
	return &sales.MenuSalesAggregate{
		BranchID: m.BranchID,
		MenuID:   m.MenuID,
		MenuName: m.MenuName,
		Date:     dateOnly(m.SalesDate),
		ItemSales: sales.ItemSales{
			QuantitySold: m.QuantitySold,
			TotalSales:   m.TotalSales.Round(2),
			Discount:     m.Discount.Round(2),
			NetSales:     m.NetSales.Round(2),
		},
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain MenuSalesAggregate
func (m *MenuSalesAggregateModel) FromDomain(a *sales.MenuSalesAggregate) {
	m.BranchID = a.BranchID
	m.MenuID = a.MenuID
	m.MenuName = a.MenuName
	m.SalesDate = dateOnly(a.Date)
	m.QuantitySold = a.QuantitySold
	m.TotalSales = a.TotalSales
	m.Discount = a.Discount
	m.NetSales = a.TotalSales.Sub(a.Discount)
	m.UpdatedAt = a.UpdatedAt
}

// CategorySalesAggregateModel stores per-category daily rollups
type CategorySalesAggregateModel struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	BranchID     int64           `gorm:"not null;uniqueIndex:uq_category_sales_aggregates_key,priority:1"`
	CategoryID   int64           `gorm:"not null;uniqueIndex:uq_category_sales_aggregates_key,priority:2"`
	SalesDate    time.Time       `gorm:"type:date;not null;uniqueIndex:uq_category_sales_aggregates_key,priority:3;index"`
	CategoryName string          `gorm:"type:varchar(200);not null;default:''"`
	QuantitySold int64           `gorm:"not null;default:0"`
	TotalSales   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	Discount     decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	NetSales     decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CategorySalesAggregateModel) TableName() string {
	return "category_sales_aggregates"
}

// ToDomain converts the persistence model to a domain CategorySalesAggregate
func (m *CategorySalesAggregateModel) ToDomain() *sales.CategorySalesAggregate {
	return &sales.CategorySalesAggregate{
		BranchID:     m.BranchID,
		CategoryID:   m.CategoryID,
		CategoryName: m.CategoryName,
		Date:         dateOnly(m.SalesDate),
		ItemSales: sales.ItemSales{
			QuantitySold: m.QuantitySold,
			TotalSales:   m.TotalSales.Round(2),
			Discount:     m.Discount.Round(2),
			NetSales:     m.NetSales.Round(2),
		},
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain CategorySalesAggregate
func (m *CategorySalesAggregateModel) FromDomain(a *sales.CategorySalesAggregate) {
	m.BranchID = a.BranchID
	m.CategoryID = a.CategoryID
	m.CategoryName = a.CategoryName
	m.SalesDate = dateOnly(a.Date)
	m.QuantitySold = a.QuantitySold
	m.TotalSales = a.TotalSales
	m.Discount = a.Discount
	m.NetSales = a.TotalSales.Sub(a.Discount)
	m.UpdatedAt = a.UpdatedAt
}

// AppliedOrderFactModel is the dedup ledger of applied order facts
type AppliedOrderFactModel struct {
	OrderID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	BranchID  int64     `gorm:"not null"`
	SalesDate time.Time `gorm:"type:date;not null"`
	AppliedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (AppliedOrderFactModel) TableName() string {
	return "applied_order_facts"
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
