package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// LoggerKey is the gin context key for the request-scoped logger.
const LoggerKey = "portal_logger"

// OTelTraceIDMiddleware extracts the OpenTelemetry trace ID from the current
// span context and sets it on the Gin context key and response header.
// Register it after CorrelationMiddleware so a real span wins over a generated ID.
func OTelTraceIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		spanCtx := trace.SpanContextFromContext(c.Request.Context())
		if spanCtx.HasTraceID() {
			traceID := spanCtx.TraceID().String()
			c.Set(TraceIDKey, traceID)
			c.Header(HeaderTraceID, traceID)
		}

		c.Next()
	}
}

// RequestLogger stores a logger carrying the trace and correlation IDs on the
// gin context and logs each completed request.
func RequestLogger(base *slog.Logger) gin.HandlerFunc {
	if base == nil {
		base = slog.Default()
	}
	return func(c *gin.Context) {
		logger := base.With(
			slog.String("trace_id", c.GetString(TraceIDKey)),
			slog.String("correlation_id", c.GetString(CorrelationIDKey)),
		)
		c.Set(LoggerKey, logger)

		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "Request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// Logger returns the request-scoped logger, or slog.Default().
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
