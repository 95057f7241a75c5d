package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newMeteredRouter(t *testing.T) (*gin.Engine, *sdkmetric.ManualReader) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	r := gin.New()
	r.Use(HTTPMetricsWithMeter(mp.Meter("test"), true))
	r.GET("/api/v1/statistics/sales/daily", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rows": []int{1, 2, 3}})
	})
	r.GET("/api/v1/admin/statistics/jobs/:id", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	})
	return r, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func attrValue(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.Emit()
}

func TestHTTPMetrics_PassThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for name, cfg := range map[string]HTTPMetricsConfig{
		"disabled":      {Enabled: false},
		"nil provider":  {Enabled: true},
		"named but nil": {Enabled: true, ServiceName: "backoffice"},
	} {
		t.Run(name, func(t *testing.T) {
			r := gin.New()
			r.Use(HTTPMetrics(cfg))
			r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
			assert.Equal(t, http.StatusNoContent, w.Code)
		})
	}
}

func TestHTTPMetrics_RecordsPerRoutePattern(t *testing.T) {
	r, reader := newMeteredRouter(t)

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(),
			httptest.NewRequest(http.MethodGet, "/api/v1/statistics/sales/daily?branch_id="+strconv.Itoa(i+1), nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/admin/statistics/jobs/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	got := collect(t, reader)

	requests, ok := got["stats_api_requests_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	counts := map[string]int64{}
	for _, dp := range requests.DataPoints {
		key := attrValue(dp.Attributes, "http.route") + " " + attrValue(dp.Attributes, "http.status_class")
		counts[key] += dp.Value
		assert.False(t, dp.Attributes.HasValue("branch_id"))
	}
	assert.Equal(t, map[string]int64{
		"/api/v1/statistics/sales/daily 2xx":    3,
		"/api/v1/admin/statistics/jobs/:id 4xx": 1,
		"unmatched 4xx":                         1,
	}, counts)

	latency, ok := got["stats_api_request_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Equal(t, readLatencyBuckets, latency.DataPoints[0].Bounds)

	payload, ok := got["stats_api_response_size_bytes"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var bodies uint64
	for _, dp := range payload.DataPoints {
		bodies += dp.Count
	}
	assert.Equal(t, uint64(4), bodies, "the unmatched 404 has an empty body")

	inFlight, ok := got["stats_api_in_flight_requests"].(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range inFlight.DataPoints {
		assert.Zero(t, dp.Value)
	}
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		http.StatusContinue:           "1xx",
		http.StatusAccepted:           "2xx",
		http.StatusNotModified:        "3xx",
		http.StatusTooManyRequests:    "4xx",
		http.StatusServiceUnavailable: "5xx",
	}
	for status, want := range tests {
		assert.Equal(t, want, statusClass(status), status)
	}
}
