package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// Granularity distinguishes daily rollups from hourly ones
type Granularity string

const (
	GranularityDaily  Granularity = "DAILY"
	GranularityHourly Granularity = "HOURLY"
)

// SalesAggregate is the rollup of one branch for one date, or one hour of that date
// when Hour is set.
type SalesAggregate struct {
	BranchID          int64           `json:"branch_id"`
	Date              time.Time       `json:"date"`
	Hour              *int            `json:"hour,omitempty"`
	OrderCount        int64           `json:"order_count"`
	TotalSales        decimal.Decimal `json:"total_sales"`
	DiscountTotal     decimal.Decimal `json:"discount_total"`
	NetSales          decimal.Decimal `json:"net_sales"`
	CashSales         decimal.Decimal `json:"cash_sales"`
	CardSales         decimal.Decimal `json:"card_sales"`
	MobileSales       decimal.Decimal `json:"mobile_sales"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewDailyAggregate returns a zero-valued daily rollup
func NewDailyAggregate(branchID int64, date time.Time) *SalesAggregate {
	return &SalesAggregate{BranchID: branchID, Date: date}
}

// NewHourlyAggregate returns a zero-valued hourly rollup
func NewHourlyAggregate(branchID int64, date time.Time, hour int) *SalesAggregate {
	h := hour
	return &SalesAggregate{BranchID: branchID, Date: date, Hour: &h}
}

// Granularity reports whether this is a daily or hourly row
func (a *SalesAggregate) Granularity() Granularity {
	if a.Hour == nil {
		return GranularityDaily
	}
	return GranularityHourly
}

// AddOrder folds one order into the rollup. Payment buckets receive the net
// amount and are only maintained on daily rows.
func (a *SalesAggregate) AddOrder(f *OrderCompleted) {
	a.OrderCount++
	a.TotalSales = a.TotalSales.Add(f.Total)
	a.DiscountTotal = a.DiscountTotal.Add(f.Discount)
	if a.Hour == nil {
		a.addPayment(f.PaymentMethod, f.NetTotal())
	}
	a.Recompute()
}

// Merge adds another rollup's counters into this one
func (a *SalesAggregate) Merge(o SalesAggregate) {
	a.OrderCount += o.OrderCount
	a.TotalSales = a.TotalSales.Add(o.TotalSales)
	a.DiscountTotal = a.DiscountTotal.Add(o.DiscountTotal)
	a.CashSales = a.CashSales.Add(o.CashSales)
	a.CardSales = a.CardSales.Add(o.CardSales)
	a.MobileSales = a.MobileSales.Add(o.MobileSales)
	if o.UpdatedAt.After(a.UpdatedAt) {
		a.UpdatedAt = o.UpdatedAt
	}
	a.Recompute()
}

func (a *SalesAggregate) addPayment(m PaymentMethod, amount decimal.Decimal) {
	switch m {
	case PaymentCash:
		a.CashSales = a.CashSales.Add(amount)
	case PaymentCard:
		a.CardSales = a.CardSales.Add(amount)
	case PaymentMobile:
		a.MobileSales = a.MobileSales.Add(amount)
	}
}

// Recompute restores the derived fields: net = total - discount and
// average = total / count (zero when there are no orders).
func (a *SalesAggregate) Recompute() {
	a.NetSales = a.TotalSales.Sub(a.DiscountTotal)
	if a.OrderCount > 0 {
		a.AverageOrderValue = a.TotalSales.Div(decimal.NewFromInt(a.OrderCount)).Round(2)
	} else {
		a.AverageOrderValue = decimal.Zero
	}
}

// SameCounters compares the stored counters, ignoring timestamps and derived fields
func (a *SalesAggregate) SameCounters(o *SalesAggregate) bool {
	return a.OrderCount == o.OrderCount &&
		a.TotalSales.Equal(o.TotalSales) &&
		a.DiscountTotal.Equal(o.DiscountTotal) &&
		a.CashSales.Equal(o.CashSales) &&
		a.CardSales.Equal(o.CardSales) &&
		a.MobileSales.Equal(o.MobileSales)
}

// IsEmpty reports whether no order has been folded in
func (a *SalesAggregate) IsEmpty() bool {
	return a.OrderCount == 0 && a.TotalSales.IsZero()
}

// ItemSales holds the shared shape of per-menu and per-category rollups
type ItemSales struct {
	QuantitySold int64           `json:"quantity_sold"`
	TotalSales   decimal.Decimal `json:"total_sales"`
	Discount     decimal.Decimal `json:"discount"`
	NetSales     decimal.Decimal `json:"net_sales"`
}

// AddLine folds one line item with its apportioned discount
func (s *ItemSales) AddLine(quantity int64, amount, discount decimal.Decimal) {
	s.QuantitySold += quantity
	s.TotalSales = s.TotalSales.Add(amount)
	s.Discount = s.Discount.Add(discount)
	s.NetSales = s.TotalSales.Sub(s.Discount)
}

// SameCounters compares quantity, total and discount
func (s ItemSales) SameCounters(o ItemSales) bool {
	return s.QuantitySold == o.QuantitySold &&
		s.TotalSales.Equal(o.TotalSales) &&
		s.Discount.Equal(o.Discount)
}

// MenuSalesAggregate is the per-menu rollup of one branch for one date
type MenuSalesAggregate struct {
	BranchID int64     `json:"branch_id"`
	MenuID   int64     `json:"menu_id"`
	MenuName string    `json:"menu_name"`
	Date     time.Time `json:"date"`
	ItemSales
	UpdatedAt time.Time `json:"updated_at"`
}

// CategorySalesAggregate is the per-category rollup of one branch for one date
type CategorySalesAggregate struct {
	BranchID     int64     `json:"branch_id"`
	CategoryID   int64     `json:"category_id"`
	CategoryName string    `json:"category_name"`
	Date         time.Time `json:"date"`
	ItemSales
	UpdatedAt time.Time `json:"updated_at"`
}
