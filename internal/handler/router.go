package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/middleware"
)

// RouterConfig holds everything the edge router serves.
type RouterConfig struct {
	ServiceName    string
	Auth           *AuthHandler
	Proxy          *ProxyHandler
	Health         *HealthHandler
	Gate           gin.HandlerFunc
	Metrics        *middleware.Metrics
	MetricsHandler http.Handler
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter assembles the portal edge routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Metrics == nil {
		cfg.Metrics = middleware.DefaultMetrics()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cfg.Metrics.Middleware())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.CorrelationMiddleware())
	router.Use(middleware.OTelTraceIDMiddleware())
	router.Use(middleware.RequestLogger(cfg.Logger))

	// Health / Metrics endpoints (no auth required).
	router.GET("/healthz", cfg.Health.Healthz)
	router.GET("/readyz", cfg.Health.Readyz)
	router.GET("/metrics", gin.WrapH(cfg.MetricsHandler))

	// Auth endpoints. The refresh credential cookie is only ever written here
	// and by the gate.
	csrf := middleware.CSRFMiddleware(cfg.AllowedOrigins...)
	auth := router.Group("/api/auth", csrf)
	auth.POST("/login", cfg.Auth.Login)
	auth.POST("/refresh", cfg.Auth.Refresh)
	auth.POST("/logout", cfg.Auth.Logout)
	router.POST("/auth/session/clear", csrf, cfg.Auth.ClearSession)

	// Everything else: /api/* to the backend, pages through the gate.
	router.NoRoute(cfg.Proxy.Dispatch(cfg.Gate), cfg.Proxy.HandlePage)

	return router
}
