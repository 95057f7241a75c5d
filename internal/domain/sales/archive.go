package sales

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ArchiveMode decides what happens to a selected batch
type ArchiveMode string

const (
	// ArchiveModeDelete removes rows without keeping a copy
	ArchiveModeDelete ArchiveMode = "delete"
	// ArchiveModeColdStorage writes rows to object storage before removing them
	ArchiveModeColdStorage ArchiveMode = "cold_storage"
)

const (
	DefaultRetentionDays    = 365
	DefaultArchiveBatchSize = 1000
)

// ArchivePolicy is the process-wide retention policy read at the start of each run
type ArchivePolicy struct {
	Enabled       bool        `json:"enabled"`
	RetentionDays int         `json:"retention_days"`
	BatchSize     int         `json:"batch_size"`
	Mode          ArchiveMode `json:"mode"`
}

// DefaultArchivePolicy returns the built-in policy
func DefaultArchivePolicy() ArchivePolicy {
	return ArchivePolicy{
		Enabled:       true,
		RetentionDays: DefaultRetentionDays,
		BatchSize:     DefaultArchiveBatchSize,
		Mode:          ArchiveModeDelete,
	}
}

// Normalize fills zero values with defaults
func (p ArchivePolicy) Normalize() ArchivePolicy {
	if p.RetentionDays <= 0 {
		p.RetentionDays = DefaultRetentionDays
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultArchiveBatchSize
	}
	if p.Mode == "" {
		p.Mode = ArchiveModeDelete
	}
	return p
}

// Cutoff returns the instant before which rows are out of retention
func (p ArchivePolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.Normalize().RetentionDays)
}

// ArchiveTarget names one archivable table
type ArchiveTarget string

const (
	TargetOrders             ArchiveTarget = "sales_orders"
	TargetSalesAggregates    ArchiveTarget = "sales_aggregates"
	TargetMenuAggregates     ArchiveTarget = "menu_sales_aggregates"
	TargetCategoryAggregates ArchiveTarget = "category_sales_aggregates"
	TargetFactLedger         ArchiveTarget = "applied_order_facts"
)

// RetentionTargets are the tables governed by the retention horizon, in run order
func RetentionTargets() []ArchiveTarget {
	return []ArchiveTarget{TargetOrders, TargetSalesAggregates, TargetMenuAggregates, TargetCategoryAggregates}
}

// DateRange is a half-open range [From, To). A zero From is unbounded.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ArchiveBatch is one page of rows selected for archiving
type ArchiveBatch struct {
	Target ArchiveTarget
	Keys   []string
	Rows   []map[string]any
	// Cursor is the key to continue after
	Cursor string
}

// Len returns the number of rows in the batch
func (b *ArchiveBatch) Len() int {
	return len(b.Keys)
}

// ArchiveRepository pages through and removes out-of-retention rows
type ArchiveRepository interface {
	Count(ctx context.Context, target ArchiveTarget, r DateRange) (int64, error)
	// NextBatch returns up to limit rows in r with a key greater than after, in key order
	NextBatch(ctx context.Context, target ArchiveTarget, r DateRange, after string, limit int) (*ArchiveBatch, error)
	// DeleteBatch removes the given keys (and dependent rows) in one transaction
	DeleteBatch(ctx context.Context, target ArchiveTarget, keys []string) (int64, error)
}

// ColdStorage keeps a copy of archived batches
type ColdStorage interface {
	Put(ctx context.Context, key string, body []byte) error
}

// TargetResult is the outcome of archiving one table
type TargetResult struct {
	Target        ArchiveTarget `json:"target"`
	Selected      int64         `json:"selected"`
	Archived      int64         `json:"archived"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	Errors        []string      `json:"errors,omitempty"`
}

// ArchiveResult is the outcome of one archiver run
type ArchiveResult struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Range      DateRange      `json:"range"`
	Targets    []TargetResult `json:"targets"`
	Cancelled  bool           `json:"cancelled"`
}

// TotalArchived sums archived rows over every target
func (r *ArchiveResult) TotalArchived() int64 {
	var n int64
	for _, t := range r.Targets {
		n += t.Archived
	}
	return n
}

// FailedBatches sums failed batches over every target
func (r *ArchiveResult) FailedBatches() int {
	n := 0
	for _, t := range r.Targets {
		n += t.FailedBatches
	}
	return n
}

// Summary renders a human-readable report of the run
func (r *ArchiveResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "archive run %s..%s: %d rows archived",
		formatDate(r.Range.From), formatDate(r.Range.To), r.TotalArchived())
	if failed := r.FailedBatches(); failed > 0 {
		fmt.Fprintf(&b, ", %d batches failed", failed)
	}
	if r.Cancelled {
		b.WriteString(", cancelled")
	}
	for _, t := range r.Targets {
		fmt.Fprintf(&b, "\n  %s: selected=%d archived=%d batches=%d failed=%d",
			t.Target, t.Selected, t.Archived, t.Batches, t.FailedBatches)
		for _, e := range t.Errors {
			fmt.Fprintf(&b, "\n    error: %s", e)
		}
	}
	return b.String()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

// AgeBreakdown counts rows of one table by age
type AgeBreakdown struct {
	Target      ArchiveTarget `json:"target"`
	Total       int64         `json:"total"`
	OlderThan1Y int64         `json:"older_than_1y"`
	OlderThan6M int64         `json:"older_than_6m"`
	OlderThan3M int64         `json:"older_than_3m"`
}

// ArchiveStats is the operational view of retention state
type ArchiveStats struct {
	Tables []AgeBreakdown `json:"tables"`
	Policy ArchivePolicy  `json:"policy"`
}
