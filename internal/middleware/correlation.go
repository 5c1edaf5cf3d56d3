package middleware

import (
	"encoding/hex"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderCorrelationID is the HTTP header name for correlation IDs.
	HeaderCorrelationID = "X-Correlation-Id"

	// HeaderTraceID is the HTTP header name for trace IDs.
	HeaderTraceID = "X-Trace-Id"

	// CorrelationIDKey is the gin context key for the correlation ID.
	CorrelationIDKey = "correlation_id"

	// TraceIDKey is the gin context key for the trace ID.
	TraceIDKey = "trace_id"

	maxCorrelationIDLen = 128
)

// CorrelationMiddleware propagates or generates X-Correlation-Id and X-Trace-Id
// headers. Incoming values are reused when well-formed and replaced otherwise,
// since they are echoed into responses, upstream requests and logs.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderCorrelationID)
		if !validCorrelationID(correlationID) {
			correlationID = uuid.New().String()
		}

		traceID := c.GetHeader(HeaderTraceID)
		if !validTraceID(traceID) {
			traceID = generateTraceID()
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Set(TraceIDKey, traceID)

		c.Header(HeaderCorrelationID, correlationID)
		c.Header(HeaderTraceID, traceID)

		c.Next()
	}
}

// generateTraceID produces a 32-character lowercase hex trace ID (UUID without hyphens).
func generateTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func validCorrelationID(s string) bool {
	if s == "" || len(s) > maxCorrelationIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.':
		default:
			return false
		}
	}
	return true
}

func validTraceID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !(ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'f') {
			return false
		}
	}
	return s != "00000000000000000000000000000000"
}
