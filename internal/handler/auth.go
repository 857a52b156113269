package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/k1s0-platform/system-server-go-incident-bff/internal/apperr"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/middleware"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/oauth"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/session"
)

// Authorizer is the provider side of the authorization code flow.
type Authorizer interface {
	AuthCodeURL(ctx context.Context, state, codeChallenge string) (string, error)
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error)
}

// AuthOptions tunes the browser flow.
type AuthOptions struct {
	// SessionTTL is the absolute lifetime of an authenticated session; zero
	// keeps it for as long as the browser keeps the cookie.
	SessionTTL time.Duration

	// FrontendURL is where the browser lands after a successful callback.
	FrontendURL string

	// SecureCookie sets the Secure attribute on the sid cookie.
	SecureCookie bool

	// CSRF enables a per-session CSRF token reported by Status.
	CSRF bool
}

// AuthHandler handles the OAuth2 PKCE browser flow.
type AuthHandler struct {
	authorizer Authorizer
	store      session.Store
	opts       AuthOptions
	logger     *slog.Logger
	now        func() time.Time
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authorizer Authorizer, store session.Store, opts AuthOptions, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AuthHandler{
		authorizer: authorizer,
		store:      store,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Login starts the authorization code flow: it stores a pending session keyed
// by a fresh id and redirects the browser to the provider.
func (h *AuthHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	logger := middleware.Logger(c, h.logger)

	pkce, err := oauth.NewPKCE()
	if err != nil {
		writeError(c, logger, apperr.Internal("failed to generate PKCE", err))
		return
	}

	authURL, err := h.authorizer.AuthCodeURL(ctx, pkce.State, pkce.CodeChallenge)
	if err != nil {
		writeError(c, logger, apperr.Internal("failed to build authorization URL", err))
		return
	}

	// A new login never reuses the previous id.
	if oldID, ok := middleware.GetSessionID(c); ok {
		if err := h.store.Delete(ctx, oldID); err != nil {
			logger.Warn("failed to delete previous session", slog.String("error", err.Error()))
		}
	}

	sess := session.NewPending(pkce.CodeVerifier, pkce.State, h.now())
	if err := h.store.Put(ctx, pkce.SessionID, sess); err != nil {
		writeError(c, logger, apperr.Internal("failed to store session", err))
		return
	}

	h.setSessionCookie(c, pkce.SessionID, int(session.PendingTTL.Seconds()))
	c.Redirect(http.StatusFound, authURL)
}

// Callback validates the provider redirect against the pending session,
// exchanges the code and promotes the session to authenticated.
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	logger := middleware.Logger(c, h.logger)

	sid, _ := middleware.GetSessionID(c)
	sess, ok := middleware.GetSession(c)
	if !ok || !sess.IsPending() {
		writeError(c, logger, apperr.BadSession("Bad session"))
		return
	}

	if subtle.ConstantTimeCompare([]byte(c.Query("state")), []byte(sess.State)) != 1 {
		writeError(c, logger, apperr.StateMismatch())
		return
	}

	if errCode := c.Query("error"); errCode != "" {
		writeError(c, logger, apperr.Provider(errCode, c.Query("error_description")))
		return
	}

	code := c.Query("code")
	if code == "" {
		writeError(c, logger, apperr.BadRequest("Missing authorization code", nil))
		return
	}

	tok, err := h.authorizer.ExchangeCode(ctx, code, sess.CodeVerifier)
	if err != nil {
		writeError(c, logger, exchangeError(err))
		return
	}

	now := h.now()
	sess.Authenticate(session.TokensFrom(tok), now, h.opts.SessionTTL)
	if h.opts.CSRF {
		csrfToken, err := oauth.RandomToken(32)
		if err != nil {
			writeError(c, logger, apperr.Internal("failed to generate CSRF token", err))
			return
		}
		sess.CSRFToken = csrfToken
	}

	if err := h.store.Put(ctx, sid, sess); err != nil {
		writeError(c, logger, apperr.Internal("failed to store session", err))
		return
	}

	logger.Info("session authenticated")
	h.setSessionCookie(c, sid, int(h.opts.SessionTTL.Seconds()))
	c.Redirect(http.StatusFound, h.opts.FrontendURL)
}

// Status reports whether the browser holds an authenticated session. It never fails.
func (h *AuthHandler) Status(c *gin.Context) {
	sess, ok := middleware.GetSession(c)
	if !ok || !sess.Authenticated() {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}

	body := gin.H{"authenticated": true}
	if h.opts.CSRF && sess.CSRFToken != "" {
		body["csrf_token"] = sess.CSRFToken
	}
	c.JSON(http.StatusOK, body)
}

// Logout deletes the session, if any, and clears the cookie. Idempotent.
func (h *AuthHandler) Logout(c *gin.Context) {
	if sid, ok := middleware.GetSessionID(c); ok {
		if err := h.store.Delete(c.Request.Context(), sid); err != nil {
			middleware.Logger(c, h.logger).Warn("failed to delete session", slog.String("error", err.Error()))
		}
	}

	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, value, maxAge, "/", "", h.opts.SecureCookie, true)
}

// exchangeError maps a failed code exchange to the token endpoint status,
// 504 when the call timed out and 502 otherwise.
func exchangeError(err error) error {
	var te *oauth.TokenError
	if errors.As(err, &te) && te.Status != 0 {
		msg := te.Description
		if msg == "" {
			msg = te.Code
		}
		if msg == "" {
			msg = "Token exchange failed"
		}
		return apperr.Upstream(te.Status, msg, err)
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return apperr.Upstream(http.StatusGatewayTimeout, "Token exchange timed out", err)
	}
	return apperr.Upstream(http.StatusBadGateway, "Token exchange failed", err)
}
