package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1s0-platform/system-server-go-incident-bff/internal/session"
)

// failingStore fails every Get.
type failingStore struct {
	session.Store
}

func (failingStore) Get(context.Context, string) (*session.Session, error) {
	return nil, errors.New("store unavailable")
}

func authenticatedSession(access, csrf string) *session.Session {
	now := time.Now()
	sess := session.NewPending("verifier", "state", now)
	sess.Authenticate(session.Tokens{AccessToken: access}, now, time.Hour)
	sess.CSRFToken = csrf
	return sess
}

func TestSessionMiddleware_MissingCookie(t *testing.T) {
	router := gin.New()
	router.Use(SessionMiddleware(session.NewMemoryStore(), nil))
	router.GET("/test", func(c *gin.Context) {
		_, ok := GetSessionID(c)
		assert.False(t, ok)
		_, ok = GetSession(c)
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code, "the middleware never aborts")
}

func TestSessionMiddleware_UnknownSession(t *testing.T) {
	router := gin.New()
	router.Use(SessionMiddleware(session.NewMemoryStore(), nil))
	router.GET("/test", func(c *gin.Context) {
		id, ok := GetSessionID(c)
		assert.True(t, ok)
		assert.Equal(t, "nonexistent", id)
		_, ok = GetSession(c)
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "nonexistent"})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionMiddleware_ValidSession(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "valid-session", authenticatedSession("token-123", "csrf-abc")))

	router := gin.New()
	router.Use(SessionMiddleware(store, nil))
	router.GET("/test", func(c *gin.Context) {
		sess, ok := GetSession(c)
		require.True(t, ok)
		assert.Equal(t, "token-123", sess.AccessToken)

		id, ok := GetSessionID(c)
		require.True(t, ok)
		assert.Equal(t, "valid-session", id)

		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session"})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionMiddleware_StoreError(t *testing.T) {
	router := gin.New()
	router.Use(SessionMiddleware(failingStore{}, nil))
	router.GET("/test", func(c *gin.Context) {
		_, ok := GetSession(c)
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "any"})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
