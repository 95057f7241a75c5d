package router

import (
	"time"

	"github.com/erp/backoffice/internal/infrastructure/logger"
	"github.com/erp/backoffice/internal/interfaces/http/handler"
	"github.com/erp/backoffice/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// EngineConfig holds the HTTP concerns shared by every route
type EngineConfig struct {
	Logger         *zap.Logger
	Tracing        middleware.TracingConfig
	Metrics        middleware.HTTPMetricsConfig
	Profiling      middleware.ProfilingConfig
	CORSOrigins    []string
	HSTSMaxAge     time.Duration
	TrustedProxies []string
	MaxBodySize    int64
	RequestTimeout time.Duration
	// Gatherer backs /metrics; nil leaves the endpoint unmounted
	Gatherer prometheus.Gatherer
}

// Handlers are the HTTP handlers mounted by NewEngine
type Handlers struct {
	Health     *handler.HealthHandler
	Statistics *handler.StatisticsHandler
	Dashboard  *handler.DashboardHandler
	Admin      *handler.AdminHandler
	// AdminLimiter throttles /admin/statistics per client IP; nil disables it
	AdminLimiter middleware.RateLimiter
}

// NewEngine builds the gin engine with the middleware chain and all routes
func NewEngine(cfg EngineConfig, h Handlers) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		logger.GinMiddleware(log),
		middleware.TracingWithConfig(cfg.Tracing),
		middleware.TracingAttributeInjector(),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetrics(cfg.Metrics),
		middleware.Profiling(cfg.Profiling),
		middleware.CORS(cfg.CORSOrigins),
		middleware.Secure(cfg.HSTSMaxAge),
	)
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}
	engine.Use(middleware.Timeout(cfg.RequestTimeout))

	if h.Health != nil {
		engine.GET("/health", h.Health.Health)
	}
	if cfg.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	r := NewAPI(engine, WithRouteLogger(log))
	if h.Statistics != nil {
		r.Register(StatisticsRoutes(h.Statistics))
	}
	if h.Dashboard != nil {
		r.Register(DashboardRoutes(h.Dashboard))
	}
	if h.Admin != nil {
		var adminMiddleware []gin.HandlerFunc
		if h.AdminLimiter != nil {
			adminMiddleware = append(adminMiddleware, middleware.RateLimit(h.AdminLimiter, middleware.ClientIPKey, log))
		}
		r.Register(AdminRoutes(h.Admin, adminMiddleware...))
	}
	r.Mount()

	return engine, nil
}
