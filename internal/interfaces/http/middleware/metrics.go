package middleware

import (
	"time"

	"github.com/erp/backoffice/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetricsConfig configures the API metrics middleware.
type HTTPMetricsConfig struct {
	MeterProvider *telemetry.MeterProvider
	ServiceName   string
	Enabled       bool
}

// readLatencyBuckets favour the sub-100ms range where cached statistics reads land.
var readLatencyBuckets = []float64{0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var payloadBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576}

type apiInstruments struct {
	requests *telemetry.Counter
	latency  *telemetry.Histogram
	payload  *telemetry.Histogram
	inFlight metric.Int64UpDownCounter
}

func newAPIInstruments(meter metric.Meter) (*apiInstruments, error) {
	var (
		ins apiInstruments
		err error
	)
	if ins.requests, err = telemetry.NewCounter(meter,
		"stats_api_requests_total", "Statistics API requests by route and status class", "{request}"); err != nil {
		return nil, err
	}
	if ins.latency, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "stats_api_request_duration_seconds",
		Description: "Statistics API latency",
		Unit:        "s",
		Boundaries:  readLatencyBuckets,
	}); err != nil {
		return nil, err
	}
	if ins.payload, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "stats_api_response_size_bytes",
		Description: "Size of statistics API response bodies",
		Unit:        "By",
		Boundaries:  payloadBuckets,
	}); err != nil {
		return nil, err
	}
	if ins.inFlight, err = meter.Int64UpDownCounter("stats_api_in_flight_requests",
		metric.WithDescription("Statistics API requests currently being served"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	return &ins, nil
}

// HTTPMetrics records request counts, latency and response sizes per route pattern.
// It is a pass-through when metrics are disabled or the instruments cannot be created.
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.MeterProvider == nil || !cfg.MeterProvider.IsEnabled() {
		return passThrough
	}
	return HTTPMetricsWithMeter(cfg.MeterProvider.Meter("backoffice.http"), true)
}

// HTTPMetricsWithMeter is HTTPMetrics over an explicit meter.
func HTTPMetricsWithMeter(meter metric.Meter, enabled bool) gin.HandlerFunc {
	if !enabled {
		return passThrough
	}
	ins, err := newAPIInstruments(meter)
	if err != nil {
		return passThrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		ins.inFlight.Add(ctx, 1)

		c.Next()

		ins.inFlight.Add(ctx, -1)
		// branch ids stay out of the label set to bound cardinality
		attrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(routeLabel(c)),
		}
		status := c.Writer.Status()
		ins.requests.Inc(ctx, append(attrs,
			telemetry.AttrHTTPStatusCode.Int(status),
			attribute.String("http.status_class", statusClass(status)),
		)...)
		ins.latency.RecordDuration(ctx, time.Since(start), attrs...)
		if size := c.Writer.Size(); size > 0 {
			ins.payload.Record(ctx, float64(size), attrs...)
		}
	}
}

func passThrough(c *gin.Context) { c.Next() }

// routeLabel is the matched pattern, e.g. /api/v1/admin/statistics/jobs/:id
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
