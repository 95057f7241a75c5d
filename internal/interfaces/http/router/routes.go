package router

import (
	"github.com/erp/backoffice/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
)

// StatisticsRoutes mounts the cached sales reads under /statistics/sales
func StatisticsRoutes(h *handler.StatisticsHandler) *RouteGroup {
	return NewRouteGroup("statistics", "/statistics/sales").
		GET("/daily", h.GetDailySales).
		GET("/hourly", h.GetHourlySales).
		GET("/overview", h.GetOverview).
		GET("/products", h.GetProductSales).
		GET("/categories", h.GetCategorySales).
		GET("/monthly", h.GetMonthlySales).
		GET("/realtime", h.GetRealtimeSales)
}

// DashboardRoutes mounts the dashboard widgets under /dashboard
func DashboardRoutes(h *handler.DashboardHandler) *RouteGroup {
	return NewRouteGroup("dashboard", "/dashboard").
		GET("/today", h.GetTodaySales).
		GET("/weekly-trend", h.GetWeeklyTrend).
		GET("/top-products", h.GetTopProducts).
		GET("/kpis", h.GetKpis).
		GET("/hq-kpis", h.GetHQKpis)
}

// AdminRoutes mounts operator endpoints under /admin/statistics. Every route runs
// behind the given middleware, normally the admin rate limit.
func AdminRoutes(h *handler.AdminHandler, middleware ...gin.HandlerFunc) *RouteGroup {
	admin := NewRouteGroup("admin", "/admin/statistics").Use(middleware...)

	admin.Group("cache", "/cache").
		POST("/evict", h.EvictCache).
		GET("/stats", h.GetCacheStats)

	admin.Group("jobs", "/jobs").
		GET("", h.ListJobs).
		POST("/reconcile", h.SubmitReconcile).
		POST("/archive", h.SubmitArchive).
		GET("/:id", h.GetJob).
		POST("/:id/cancel", h.CancelJob)

	admin.Group("archive", "/archive").
		GET("/stats", h.GetArchiveStats).
		GET("/policy", h.GetArchivePolicy).
		PUT("/policy", h.UpdateArchivePolicy)

	admin.Group("scheduler", "/scheduler").
		GET("/status", h.GetSchedulerStatus).
		POST("/:type/trigger", h.TriggerScheduledJob)

	return admin
}
