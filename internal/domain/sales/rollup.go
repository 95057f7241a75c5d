package sales

import (
	"sort"
	"time"
)

// DaySnapshot is every aggregate row of one branch for one date
type DaySnapshot struct {
	BranchID   int64
	Date       time.Time
	Daily      *SalesAggregate
	Hourly     map[int]*SalesAggregate
	Menus      map[int64]*MenuSalesAggregate
	Categories map[int64]*CategorySalesAggregate
}

// NewDaySnapshot returns an empty snapshot
func NewDaySnapshot(branchID int64, date time.Time) *DaySnapshot {
	return &DaySnapshot{
		BranchID:   branchID,
		Date:       date,
		Daily:      NewDailyAggregate(branchID, date),
		Hourly:     make(map[int]*SalesAggregate),
		Menus:      make(map[int64]*MenuSalesAggregate),
		Categories: make(map[int64]*CategorySalesAggregate),
	}
}

// Apply folds one order into the snapshot exactly as the incremental path does
func (s *DaySnapshot) Apply(f *OrderCompleted, loc *time.Location) {
	s.Daily.AddOrder(f)

	hour := f.Hour(loc)
	h, ok := s.Hourly[hour]
	if !ok {
		h = NewHourlyAggregate(s.BranchID, s.Date, hour)
		s.Hourly[hour] = h
	}
	h.AddOrder(f)

	shares := f.ApportionDiscount()
	for i, li := range f.LineItems {
		m, ok := s.Menus[li.MenuID]
		if !ok {
			m = &MenuSalesAggregate{BranchID: s.BranchID, MenuID: li.MenuID, Date: s.Date}
			s.Menus[li.MenuID] = m
		}
		if li.MenuName != "" {
			m.MenuName = li.MenuName
		}
		m.AddLine(li.Quantity, li.Amount(), shares[i])

		if li.CategoryID <= 0 {
			continue
		}
		c, ok := s.Categories[li.CategoryID]
		if !ok {
			c = &CategorySalesAggregate{BranchID: s.BranchID, CategoryID: li.CategoryID, Date: s.Date}
			s.Categories[li.CategoryID] = c
		}
		if li.CategoryName != "" {
			c.CategoryName = li.CategoryName
		}
		c.AddLine(li.Quantity, li.Amount(), shares[i])
	}
}

// Rollup derives the true aggregates of one branch-day from its raw orders.
// Orders belonging to another branch or date are ignored.
func Rollup(branchID int64, date time.Time, orders []OrderCompleted, loc *time.Location) *DaySnapshot {
	snap := NewDaySnapshot(branchID, date)
	for i := range orders {
		o := &orders[i]
		if o.BranchID != branchID || !o.SalesDate(loc).Equal(date) {
			continue
		}
		snap.Apply(o, loc)
	}
	return snap
}

// HourKeys returns the union of hours present in either snapshot, ascending
func HourKeys(a, b *DaySnapshot) []int {
	seen := make(map[int]struct{})
	for h := range a.Hourly {
		seen[h] = struct{}{}
	}
	for h := range b.Hourly {
		seen[h] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}

// MenuKeys returns the union of menu ids present in either snapshot, ascending
func MenuKeys(a, b *DaySnapshot) []int64 {
	seen := make(map[int64]struct{})
	for id := range a.Menus {
		seen[id] = struct{}{}
	}
	for id := range b.Menus {
		seen[id] = struct{}{}
	}
	return sortedIDs(seen)
}

// CategoryKeys returns the union of category ids present in either snapshot, ascending
func CategoryKeys(a, b *DaySnapshot) []int64 {
	seen := make(map[int64]struct{})
	for id := range a.Categories {
		seen[id] = struct{}{}
	}
	for id := range b.Categories {
		seen[id] = struct{}{}
	}
	return sortedIDs(seen)
}

func sortedIDs(seen map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
