package middleware

import (
	"encoding/hex"
	"log/slog"

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

	// LoggerKey is the gin context key for the request-scoped logger.
	LoggerKey = "bff_logger"
)

// CorrelationMiddleware propagates or generates X-Correlation-Id and X-Trace-Id
// and stores a logger carrying both ids on the gin context.
func CorrelationMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = generateTraceID()
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Set(TraceIDKey, traceID)
		c.Header(HeaderCorrelationID, correlationID)
		c.Header(HeaderTraceID, traceID)

		if base != nil {
			c.Set(LoggerKey, base.With(
				slog.String("correlation_id", correlationID),
				slog.String("trace_id", traceID),
			))
		}

		c.Next()
	}
}

// Logger returns the request-scoped logger, or fallback when none was set.
func Logger(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	if fallback == nil {
		return slog.Default()
	}
	return fallback
}

// generateTraceID produces a 32-character lowercase hex trace ID (UUID without hyphens).
func generateTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
