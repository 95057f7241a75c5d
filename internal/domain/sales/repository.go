package sales

import (
	"context"
	"time"
)

// AggregateFilter selects aggregate rows by branch and a half-open date range [From, To).
// An empty BranchIDs slice selects every branch.
type AggregateFilter struct {
	BranchIDs []int64
	From      time.Time
	To        time.Time
}

// ForBranch builds a filter for one branch, or all branches when branchID is AllBranches
func ForBranch(branchID int64, from, to time.Time) AggregateFilter {
	f := AggregateFilter{From: from, To: to}
	if branchID != AllBranches {
		f.BranchIDs = []int64{branchID}
	}
	return f
}

// DayCorrection carries the rows the reconciler overwrites for one branch-day
type DayCorrection struct {
	BranchID   int64
	Date       time.Time
	Daily      *SalesAggregate
	Hourly     []*SalesAggregate
	Menus      []*MenuSalesAggregate
	Categories []*CategorySalesAggregate
}

// IsEmpty reports whether there is nothing to write
func (c *DayCorrection) IsEmpty() bool {
	return c.Daily == nil && len(c.Hourly) == 0 && len(c.Menus) == 0 && len(c.Categories) == 0
}

// DayStore reads and overwrites the rows of one locked branch-day
type DayStore interface {
	// LoadDay returns every stored row of one branch-day
	LoadDay(ctx context.Context, branchID int64, date time.Time) (*DaySnapshot, error)

	// ApplyCorrection overwrites the listed rows
	ApplyCorrection(ctx context.Context, c *DayCorrection) error

	// RecordApplied adds the orders to the dedup ledger, skipping those already
	// there, so their facts are never added on top of a recomputed row. It
	// returns how many were new.
	RecordApplied(ctx context.Context, orders []OrderCompleted, loc *time.Location) (int, error)
}

// AggregateRepository is the durable store of aggregate rows
type AggregateRepository interface {
	// ApplyFact records the fact in the dedup ledger and adds it to the daily,
	// hourly, menu and category rows in one transaction. It returns false
	// without touching any row when the order id is already in the ledger.
	ApplyFact(ctx context.Context, fact *OrderCompleted, loc *time.Location) (bool, error)

	// DailyByDate returns one row per date in the range, summed over the selected branches
	DailyByDate(ctx context.Context, filter AggregateFilter) ([]SalesAggregate, error)

	// HourlyByHour returns one row per hour of day, summed over the selected branches and dates
	HourlyByHour(ctx context.Context, filter AggregateFilter) ([]SalesAggregate, error)

	// MenuRanking returns per-menu totals ordered by sales descending. limit <= 0 means no limit.
	MenuRanking(ctx context.Context, filter AggregateFilter, limit int) ([]MenuSalesAggregate, error)

	// CategoryRanking returns per-category totals ordered by sales descending
	CategoryRanking(ctx context.Context, filter AggregateFilter, limit int) ([]CategorySalesAggregate, error)

	// LockDay runs fn in one transaction that holds the branch-day exclusive
	// against ApplyFact. fn reads and writes through the given store; returning
	// an error rolls everything back.
	LockDay(ctx context.Context, branchID int64, date time.Time, fn func(ctx context.Context, store DayStore) error) error

	// BranchesWithAggregates lists branches that have daily rows in [from, to)
	BranchesWithAggregates(ctx context.Context, from, to time.Time) ([]int64, error)
}

// OrderSource is the read-only view of raw completed-and-paid orders
type OrderSource interface {
	// CompletedOrders returns the facts of every completed and paid order of the
	// branch whose completion instant falls in [from, to)
	CompletedOrders(ctx context.Context, branchID int64, from, to time.Time) ([]OrderCompleted, error)

	// BranchesWithOrders lists branches with completed and paid orders in [from, to)
	BranchesWithOrders(ctx context.Context, from, to time.Time) ([]int64, error)
}

// Branch is the collaborator-owned branch record
type Branch struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Headquarters bool   `json:"headquarters"`
	Active       bool   `json:"active"`
}

// BranchDirectory exposes branch master data owned by another service
type BranchDirectory interface {
	ListBranches(ctx context.Context) ([]Branch, error)
}

// SupplyRequestCounter exposes pending supply requests owned by another service
type SupplyRequestCounter interface {
	CountPending(ctx context.Context) (int64, error)
}
