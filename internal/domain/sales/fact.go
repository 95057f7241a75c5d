package sales

import (
	"fmt"
	"sort"
	"time"

	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllBranches selects every branch in read queries
const AllBranches int64 = 0

var cent = decimal.New(1, -2)

// LineItem is one order line as reported by the order collaborator
type LineItem struct {
	MenuID       int64           `json:"menu_id" validate:"required,gt=0"`
	MenuName     string          `json:"menu_name"`
	CategoryID   int64           `json:"category_id" validate:"gte=0"`
	CategoryName string          `json:"category_name"`
	Quantity     int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

// Amount returns the pre-discount line total, falling back to unit price times quantity
func (li LineItem) Amount() decimal.Decimal {
	if !li.LineTotal.IsZero() {
		return li.LineTotal
	}
	return li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
}

// OrderCompleted is the fact emitted once an order becomes completed and paid.
// Total is the pre-discount order amount.
type OrderCompleted struct {
	OrderID       uuid.UUID       `json:"order_id"`
	BranchID      int64           `json:"branch_id"`
	CompletedAt   time.Time       `json:"completed_at"`
	LineItems     []LineItem      `json:"line_items"`
	Discount      decimal.Decimal `json:"discount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Total         decimal.Decimal `json:"total"`
}

// Validate checks the fact can be applied
func (f *OrderCompleted) Validate() error {
	switch {
	case f.OrderID == uuid.Nil:
		return shared.NewDomainError("INVALID_INPUT", "order id is required")
	case f.BranchID <= 0:
		return shared.NewDomainError("INVALID_INPUT", "branch id must be positive")
	case f.CompletedAt.IsZero():
		return shared.NewDomainError("INVALID_INPUT", "completed_at is required")
	case f.Total.IsNegative():
		return shared.NewDomainError("INVALID_INPUT", "order total cannot be negative")
	case f.Discount.IsNegative():
		return shared.NewDomainError("INVALID_INPUT", "order discount cannot be negative")
	case f.Discount.GreaterThan(f.Total):
		return shared.NewDomainError("INVALID_INPUT", "order discount exceeds order total")
	case !isCents(f.Total):
		return shared.NewDomainError("INVALID_INPUT", "order total has more than 2 decimal places")
	case !isCents(f.Discount):
		return shared.NewDomainError("INVALID_INPUT", "order discount has more than 2 decimal places")
	}
	for i, li := range f.LineItems {
		if li.MenuID <= 0 {
			return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("line %d: menu id must be positive", i))
		}
		if li.Quantity <= 0 {
			return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("line %d: quantity must be positive", i))
		}
		if li.Amount().IsNegative() {
			return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("line %d: line total cannot be negative", i))
		}
		if !isCents(li.LineTotal) {
			return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("line %d: line total has more than 2 decimal places", i))
		}
	}
	return nil
}

func isCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// NetTotal is the amount actually collected
func (f *OrderCompleted) NetTotal() decimal.Decimal {
	return f.Total.Sub(f.Discount)
}

// SalesDate returns the business date of the order in loc, as a UTC midnight
func (f *OrderCompleted) SalesDate(loc *time.Location) time.Time {
	return DateOf(f.CompletedAt, loc)
}

// Hour returns the hour of day the order completed in loc
func (f *OrderCompleted) Hour(loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	return f.CompletedAt.In(loc).Hour()
}

// ApportionDiscount splits the order discount across line items in proportion to
// each line's share of the pre-discount line sum. Shares are rounded half-to-even
// to 2 places; the rounding residual is then moved one cent at a time, starting
// from the largest line, so the result sums to the order discount rounded to
// cents and no share goes negative. The returned slice is index-aligned with LineItems.
func (f *OrderCompleted) ApportionDiscount() []decimal.Decimal {
	shares := make([]decimal.Decimal, len(f.LineItems))
	for i := range shares {
		shares[i] = decimal.Zero
	}
	discount := f.Discount.RoundBank(2)
	if len(f.LineItems) == 0 || discount.IsZero() {
		return shares
	}

	sum := decimal.Zero
	for _, li := range f.LineItems {
		sum = sum.Add(li.Amount())
	}
	if !sum.IsPositive() {
		return shares
	}

	allocated := decimal.Zero
	for i, li := range f.LineItems {
		shares[i] = discount.Mul(li.Amount()).Div(sum).RoundBank(2)
		allocated = allocated.Add(shares[i])
	}

	// both sides are whole cents, so the residual is an exact cent count
	residual := discount.Sub(allocated).Shift(2).IntPart()
	if residual == 0 {
		return shares
	}
	order := make([]int, len(f.LineItems))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return f.LineItems[order[a]].Amount().GreaterThan(f.LineItems[order[b]].Amount())
	})
	step, moves := cent, residual
	if residual < 0 {
		step, moves = cent.Neg(), -residual
	}
	// a full pass with no move means no share can absorb the step
	for moves > 0 {
		moved := false
		for _, idx := range order {
			if moves == 0 {
				break
			}
			next := shares[idx].Add(step)
			if next.IsNegative() {
				continue
			}
			shares[idx] = next
			moves--
			moved = true
		}
		if !moved {
			break
		}
	}
	return shares
}

// DateOf truncates t to its calendar date in loc and returns that date as UTC midnight.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

// DayBounds returns the instants [start, end) covering the calendar date in loc.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
