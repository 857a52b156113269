package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// OTelTraceIDMiddleware replaces the generated trace id with the one of the
// active OpenTelemetry span, so response headers and logs match the exported
// trace. It must run after otelgin and CorrelationMiddleware.
func OTelTraceIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		spanCtx := trace.SpanContextFromContext(c.Request.Context())
		if spanCtx.HasTraceID() {
			traceID := spanCtx.TraceID().String()
			c.Set(TraceIDKey, traceID)
			c.Header(HeaderTraceID, traceID)

			if v, ok := c.Get(LoggerKey); ok {
				if l, ok := v.(*slog.Logger); ok {
					c.Set(LoggerKey, l.With(slog.String("otel_trace_id", traceID)))
				}
			}
		}

		c.Next()
	}
}
