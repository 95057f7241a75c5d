package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/erp/backoffice/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
)

// ProfilingConfig configures Pyroscope labelling of API requests.
type ProfilingConfig struct {
	Enabled bool
	// Skip lists exact paths; entries ending in "/" match as prefixes.
	Skip []string
}

// DefaultSkip keeps probes and debug endpoints out of the profiles.
var DefaultSkip = []string{"/health", "/metrics", "/debug/"}

// Profiling labels CPU samples taken while a request is served with its route
// pattern, method and branch_id, so a single busy branch stands out in the
// flame graph.
func Profiling(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return passThrough
	}
	skip := cfg.Skip
	if skip == nil {
		skip = DefaultSkip
	}

	return func(c *gin.Context) {
		if skipped(c.Request.URL.Path, skip) {
			c.Next()
			return
		}
		telemetry.WithProfilingLabels(c.Request.Context(), requestLabels(c), func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func skipped(path string, skip []string) bool {
	for _, s := range skip {
		if path == s || (strings.HasSuffix(s, "/") && strings.HasPrefix(path, s)) {
			return true
		}
	}
	return false
}

func requestLabels(c *gin.Context) map[string]string {
	labels := map[string]string{telemetry.ProfilingLabelMethod: c.Request.Method}
	if route := c.FullPath(); route != "" {
		labels[telemetry.ProfilingLabelRoute] = route
	}
	if id := queryBranchID(c); id > 0 {
		labels[telemetry.ProfilingLabelBranch] = strconv.FormatInt(id, 10)
	}
	return labels
}
