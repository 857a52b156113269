package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-incident-bff/internal/apperr"
)

// writeError renders err as {"error": kind, "message": detail} with the status
// of its kind. Wrapped causes are logged, never sent to the browser.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	e := apperr.From(err)

	attrs := []any{
		slog.String("kind", string(e.Kind)),
		slog.Int("status", e.Status),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	if e.Status >= 500 {
		logger.Error(e.Message, attrs...)
	} else {
		logger.Warn(e.Message, attrs...)
	}

	c.AbortWithStatusJSON(e.Status, gin.H{
		"error":   string(e.Kind),
		"message": e.Message,
	})
}
