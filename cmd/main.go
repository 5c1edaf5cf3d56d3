package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/authapi"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/claims"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/config"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/cookie"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/edge"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/handler"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/middleware"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/route"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load the .env file if it exists.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	// Load configuration.
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	envConfigPath := os.Getenv("ENV_CONFIG_PATH")

	cfg, err := config.Load(configPath, envConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger.
	logger := newLogger(cfg.Observability.Log)

	// Redis is optional; when configured, readiness depends on it.
	var redisClient redis.Cmdable
	if cfg.Session.Redis.Addr != "" {
		rc := session.NewRedisClient(
			cfg.Session.Redis.Addr,
			cfg.Session.Redis.Password,
			cfg.Session.Redis.DB,
			cfg.Session.Redis.MasterName,
		)
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not reachable at startup", slog.String("error", err.Error()))
		}
		redisClient = rc
	}

	// Initialize claims decoder.
	decoder, err := claims.NewDecoder(ctx, claims.Config{
		Mode:       claims.Mode(cfg.Edge.Claims.Mode),
		HMACSecret: cfg.Edge.Claims.HMACSecret,
		JWKSURL:    cfg.Edge.Claims.JWKSURL,
		Issuer:     cfg.Edge.Claims.Issuer,
		Algorithms: cfg.Edge.Claims.Algorithms,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create claims decoder: %w", err)
	}

	// Refresh credential cookie. Secure everywhere except dev.
	cookies := cookie.NewManager(cookie.Options{
		Name:     cfg.Cookie.Name,
		Domain:   cfg.Cookie.Domain,
		Secure:   cfg.SecureCookies(),
		SameSite: cookie.ParseSameSite(cfg.Cookie.SameSite),
		MaxAge:   config.ParseDuration(cfg.Cookie.MaxAge, cookie.DefaultMaxAge),
	})

	routes := route.NewTable(route.Config{
		PublicPrefixes:  cfg.Edge.PublicPrefixes,
		AdminPrefixes:   cfg.Edge.AdminPrefixes,
		LandingPages:    landingPages(cfg.Edge.LandingPages),
		FallbackLanding: cfg.Edge.FallbackLanding,
	})

	metrics := middleware.DefaultMetrics()
	gate := edge.NewGate(edge.Config{
		Cookies:   cookies,
		Routes:    routes,
		Decoder:   decoder,
		LoginPath: cfg.Edge.LoginPath,
		Policy:    edge.LoginPolicy(cfg.Edge.LoginWhenAuthenticated),
		Decisions: metrics.EdgeDecisions,
		Logger:    logger,
	})

	// Initialize handlers.
	upstreamTimeout := config.ParseDuration(cfg.Upstream.Timeout, 30*time.Second)
	backend := authapi.NewClient(cfg.Upstream.BackendURL,
		authapi.WithHTTPClient(&http.Client{Timeout: upstreamTimeout}),
		authapi.WithCookieName(cookies.Name()),
	)
	authHandler := handler.NewAuthHandler(backend, cookies, logger)
	healthHandler := handler.NewHealthHandler(redisClient)

	proxyHandler, err := handler.NewProxyHandler(
		cfg.Upstream.BackendURL, cfg.Upstream.PagesURL, upstreamTimeout, logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create proxy handler: %w", err)
	}

	// Initialize OpenTelemetry tracer provider.
	if cfg.Observability.Trace.Enabled {
		tp, err := initTracerProvider(ctx, cfg.App.Name, cfg.Observability.Trace)
		if err != nil {
			logger.Warn("Failed to initialize OTel tracer provider", slog.String("error", err.Error()))
		} else {
			defer func() {
				_ = tp.Shutdown(context.Background())
			}()
		}
	}

	// Set up Gin router.
	if cfg.App.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.RouterConfig{
		ServiceName:    cfg.App.Name,
		Auth:           authHandler,
		Proxy:          proxyHandler,
		Health:         healthHandler,
		Gate:           gate.Middleware(),
		Metrics:        metrics,
		AllowedOrigins: cfg.Edge.AllowedOrigins,
		Logger:         logger,
	})

	// Start HTTP server.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  config.ParseDuration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout: config.ParseDuration(cfg.Server.WriteTimeout, 30*time.Second),
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Print portal edge starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown.
	shutdownTimeout := config.ParseDuration(cfg.Server.ShutdownTimeout, 15*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("Print portal edge stopped")
	return nil
}

func landingPages(pages map[string]string) map[session.Role]string {
	if len(pages) == 0 {
		return nil
	}
	out := make(map[session.Role]string, len(pages))
	for role, page := range pages {
		out[session.ParseRole(role)] = page
	}
	return out
}

func initTracerProvider(ctx context.Context, serviceName string, traceCfg config.TraceConfig) (*sdktrace.TracerProvider, error) {
	endpoint := traceCfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.AlwaysSample())
	if traceCfg.SampleRate > 0 && traceCfg.SampleRate < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(traceCfg.SampleRate))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func newLogger(logCfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch logCfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if logCfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
