package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Namespace groups cache entries that share a TTL and an eviction scope
type Namespace string

const (
	NamespaceDefault          Namespace = "default"
	NamespaceSales            Namespace = "sales"
	NamespaceSalesStatistics  Namespace = "salesStatistics"
	NamespaceSalesOverview    Namespace = "salesOverview"
	NamespaceProductSales     Namespace = "productSales"
	NamespaceRealtimeSales    Namespace = "realtimeSales"
	NamespaceAggregatedSales  Namespace = "aggregatedSales"
	NamespaceDashboardKpis    Namespace = "dashboardKpis"
	NamespaceTodaySales       Namespace = "todaySales"
	NamespaceWeeklySalesTrend Namespace = "weeklySalesTrend"
	NamespaceTopProducts      Namespace = "topProducts"
)

var defaultTTLs = map[Namespace]time.Duration{
	NamespaceDefault:          10 * time.Minute,
	NamespaceSales:            2 * time.Hour,
	NamespaceSalesStatistics:  2 * time.Hour,
	NamespaceSalesOverview:    2 * time.Hour,
	NamespaceProductSales:     2 * time.Hour,
	NamespaceRealtimeSales:    5 * time.Minute,
	NamespaceAggregatedSales:  6 * time.Hour,
	NamespaceDashboardKpis:    30 * time.Minute,
	NamespaceTodaySales:       30 * time.Minute,
	NamespaceWeeklySalesTrend: 30 * time.Minute,
	NamespaceTopProducts:      30 * time.Minute,
}

// Namespaces returns every known namespace
func Namespaces() []Namespace {
	return []Namespace{
		NamespaceDefault,
		NamespaceSales,
		NamespaceSalesStatistics,
		NamespaceSalesOverview,
		NamespaceProductSales,
		NamespaceRealtimeSales,
		NamespaceAggregatedSales,
		NamespaceDashboardKpis,
		NamespaceTodaySales,
		NamespaceWeeklySalesTrend,
		NamespaceTopProducts,
	}
}

// SalesNamespaces are the namespaces whose entries are derived from aggregate rows
// and must be evicted when a branch's sales change.
func SalesNamespaces() []Namespace {
	out := make([]Namespace, 0, len(defaultTTLs)-1)
	for _, ns := range Namespaces() {
		if ns != NamespaceDefault {
			out = append(out, ns)
		}
	}
	return out
}

// TTLTable resolves the TTL of a namespace. Unknown namespaces use the default TTL.
type TTLTable struct {
	ttls map[Namespace]time.Duration
}

// NewTTLTable builds the table from the defaults with the given overrides applied.
// Override keys are namespace names; non-positive durations are ignored.
func NewTTLTable(overrides map[string]time.Duration) TTLTable {
	ttls := make(map[Namespace]time.Duration, len(defaultTTLs))
	for ns, d := range defaultTTLs {
		ttls[ns] = d
	}
	for name, d := range overrides {
		if d > 0 {
			ttls[Namespace(name)] = d
		}
	}
	return TTLTable{ttls: ttls}
}

// TTL returns the expiry for entries of the namespace
func (t TTLTable) TTL(ns Namespace) time.Duration {
	if d, ok := t.ttls[ns]; ok {
		return d
	}
	if d, ok := t.ttls[NamespaceDefault]; ok {
		return d
	}
	return defaultTTLs[NamespaceDefault]
}

// AllBranchesToken is the branch segment of keys that span every branch
const AllBranchesToken = "all"

// BranchToken renders the branch segment of a cache key. Zero means all branches.
func BranchToken(branchID int64) string {
	if branchID == 0 {
		return AllBranchesToken
	}
	return strconv.FormatInt(branchID, 10)
}

// Key builds a cache key of the form op:branch:param...
// Times are rendered as dates, since every cached query is keyed by business date.
func Key(op string, branchID int64, params ...any) string {
	var b strings.Builder
	b.WriteString(op)
	b.WriteByte(':')
	b.WriteString(BranchToken(branchID))
	for _, p := range params {
		b.WriteByte(':')
		switch v := p.(type) {
		case time.Time:
			b.WriteString(v.Format("2006-01-02"))
		case string:
			b.WriteString(v)
		default:
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}

// branchOf extracts the branch segment of a key built by Key
func branchOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// matchesBranch reports whether the entry must be evicted for a change in branchID.
// Keys spanning all branches include every branch's data.
func matchesBranch(key string, branchID int64) bool {
	b := branchOf(key)
	return b == BranchToken(branchID) || b == AllBranchesToken
}
