package handlers

import (
	"time"

	"licensehub/internal/caching"
	"licensehub/internal/middleware"
	"licensehub/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Routes collects everything the HTTP surface is built from
type Routes struct {
	Auth       services.AuthService
	Health     *HealthHandlers
	Licenses   *LicenseHandlers
	Accounts   *AuthHandlers
	Activities *ActivityHandlers
	Archives   *ArchiveHandlers // nil when object storage is disabled

	// CheckLimiter throttles the public check endpoint per client IP; nil disables it
	CheckLimiter    caching.RateLimiter
	CheckPerMinute  int
	MetricsGatherer prometheus.Gatherer
	Logger          logrus.FieldLogger
}

// Register mounts every route on e
func Register(e *echo.Echo, r Routes) {
	e.GET("/health", r.Health.LivenessCheck)
	e.GET("/health/ready", r.Health.ReadinessCheck)
	if r.MetricsGatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(r.MetricsGatherer, promhttp.HandlerOpts{})))
	}

	var checkMiddleware []echo.MiddlewareFunc
	if r.CheckLimiter != nil && r.CheckPerMinute > 0 {
		checkMiddleware = append(checkMiddleware, middleware.RateLimit(r.CheckLimiter, "license_check", r.CheckPerMinute, time.Minute, r.Logger))
	}
	e.POST("/api/license/check", r.Licenses.Check, checkMiddleware...)
	e.POST("/api/admin/auth/login", r.Accounts.Login)

	auth := middleware.JWTAuth(r.Auth)
	adminOnly := middleware.RequireAdmin()

	reseller := e.Group("/api/reseller", auth, middleware.RequireReseller())
	reseller.POST("/license/create", r.Licenses.ResellerCreate)

	admin := e.Group("/api/admin", auth)
	admin.POST("/license/create", r.Licenses.Create)
	admin.POST("/license/extend", r.Licenses.Extend)
	admin.POST("/license/revoke", r.Licenses.Revoke)
	admin.GET("/license/:id", r.Licenses.Get)
	admin.GET("/licenses", r.Licenses.List)
	admin.GET("/licenses/export", r.Licenses.Export)
	admin.GET("/devices", r.Licenses.Devices)
	admin.GET("/stats", r.Licenses.Stats)
	admin.GET("/stats/reseller", r.Licenses.ResellerStats, middleware.RequireReseller())
	admin.GET("/activities", r.Activities.List)
	admin.GET("/activities/own", r.Activities.Own)
	admin.POST("/reseller/create", r.Accounts.CreateReseller, adminOnly)
	admin.GET("/resellers", r.Accounts.ListResellers, adminOnly)
	if r.Archives != nil {
		admin.GET("/exports/archive/latest", r.Archives.Latest, adminOnly)
	}
}
