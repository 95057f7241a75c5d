package sales

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArchivePolicy_Normalize(t *testing.T) {
	p := ArchivePolicy{Enabled: true}.Normalize()
	assert.Equal(t, 365, p.RetentionDays)
	assert.Equal(t, 1000, p.BatchSize)
	assert.Equal(t, ArchiveModeDelete, p.Mode)
	assert.Equal(t, DefaultArchivePolicy(), p)
}

func TestArchivePolicy_Cutoff(t *testing.T) {
	now := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	p := ArchivePolicy{RetentionDays: 30}
	assert.Equal(t, time.Date(2025, 1, 30, 3, 0, 0, 0, time.UTC), p.Cutoff(now))
}

func TestArchiveResult_Summary(t *testing.T) {
	r := &ArchiveResult{
		Range: DateRange{To: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		Targets: []TargetResult{
			{Target: TargetOrders, Selected: 2500, Archived: 2000, Batches: 3, FailedBatches: 1, Errors: []string{"batch 2: timeout"}},
			{Target: TargetSalesAggregates, Selected: 10, Archived: 10, Batches: 1},
		},
	}

	assert.Equal(t, int64(2010), r.TotalArchived())
	assert.Equal(t, 1, r.FailedBatches())

	s := r.Summary()
	assert.Contains(t, s, "archive run -..2024-01-01: 2010 rows archived, 1 batches failed")
	assert.Contains(t, s, "sales_orders: selected=2500 archived=2000 batches=3 failed=1")
	assert.Contains(t, s, "error: batch 2: timeout")
}
