package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-incident-bff/internal/session"
)

const (
	// SessionCookieName is the browser cookie carrying the session id.
	SessionCookieName = "sid"

	// SessionDataKey is the gin context key where the loaded Session is stored.
	SessionDataKey = "bff_session"

	// SessionIDKey is the gin context key where the session id is stored.
	SessionIDKey = "bff_session_id"
)

// SessionMiddleware resolves the sid cookie against the store and exposes the
// id and the session (if any) on the gin context. It never aborts: whether a
// missing or pending session is an error is up to the handler.
func SessionMiddleware(store session.Store, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(SessionCookieName)
		if err != nil || sessionID == "" {
			c.Next()
			return
		}
		c.Set(SessionIDKey, sessionID)

		sess, err := store.Get(c.Request.Context(), sessionID)
		if err != nil {
			if logger != nil {
				logger.Error("failed to load session", slog.String("error", err.Error()))
			}
		} else if sess != nil {
			c.Set(SessionDataKey, sess)
		}

		c.Next()
	}
}

// GetSession retrieves the Session loaded for this request.
func GetSession(c *gin.Context) (*session.Session, bool) {
	val, exists := c.Get(SessionDataKey)
	if !exists {
		return nil, false
	}
	sess, ok := val.(*session.Session)
	return sess, ok
}

// GetSessionID retrieves the session id from the gin context.
func GetSessionID(c *gin.Context) (string, bool) {
	val, exists := c.Get(SessionIDKey)
	if !exists {
		return "", false
	}
	id, ok := val.(string)
	return id, ok
}
