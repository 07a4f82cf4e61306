package health

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the probes at the root and the operational
// metrics under /api. None of them require a tenant.
func RegisterRoutes(e *echo.Echo, h *Handler, m *MetricsHandler) {
	for _, path := range []string{"/health", "/api/health"} {
		e.GET(path, h.Health)
	}
	e.GET("/healthz", h.Healthz)
	e.GET("/ready", h.Ready)
	e.GET("/debug", h.Debug)

	metrics := e.Group("/api/metrics")
	metrics.GET("/jobs", m.JobMetrics)
	metrics.GET("/scheduler", m.SchedulerMetrics)
}
