package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/k1s0-platform/system-server-go-incident-bff/internal/session"
)

// Refresh outcomes reported to the RefreshObserver.
const (
	RefreshSucceeded = "success"
	RefreshReused    = "reused"
	RefreshFailed    = "failure"
)

var (
	errNoRefreshToken = errors.New("session has no refresh token")
	errSessionGone    = errors.New("session no longer authenticated")
)

// TokenSource performs the refresh_token grant.
type TokenSource interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// RefreshObserver is notified of every refresh outcome.
type RefreshObserver interface {
	ObserveRefresh(outcome string)
}

// Refresher replaces a session's rejected access token using its refresh token.
type Refresher struct {
	store         session.Store
	tokens        TokenSource
	group         singleflight.Group
	dropOnFailure bool
	observer      RefreshObserver
	logger        *slog.Logger
	now           func() time.Time
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithDropOnFailure deletes the session when the provider rejects the refresh.
func WithDropOnFailure(drop bool) RefresherOption {
	return func(r *Refresher) {
		r.dropOnFailure = drop
	}
}

// WithRefreshObserver registers a RefreshObserver.
func WithRefreshObserver(o RefreshObserver) RefresherOption {
	return func(r *Refresher) {
		r.observer = o
	}
}

// NewRefresher creates a Refresher writing refreshed tokens to store.
func NewRefresher(store session.Store, tokens TokenSource, logger *slog.Logger, opts ...RefresherOption) *Refresher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Refresher{
		store:  store,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh obtains a new access token for sid after stale was rejected upstream.
// Concurrent refreshes of one session share a single grant, and a session
// whose token was already rotated by another request is returned as stored.
// Each caller stops waiting when its own ctx is done.
func (r *Refresher) Refresh(ctx context.Context, sid string, stale *session.Session) (*session.Session, error) {
	if stale.RefreshToken == "" {
		return nil, errNoRefreshToken
	}

	ch := r.group.DoChan(sid, func() (any, error) {
		return r.refresh(ctx, sid, stale.AccessToken)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*session.Session).Clone(), nil
	}
}

func (r *Refresher) refresh(ctx context.Context, sid, staleAccessToken string) (*session.Session, error) {
	current, err := r.store.Get(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}
	if !current.Authenticated() {
		return nil, errSessionGone
	}
	if current.AccessToken != staleAccessToken {
		r.observe(RefreshReused)
		return current, nil
	}
	if current.RefreshToken == "" {
		return nil, errNoRefreshToken
	}

	tok, err := r.tokens.RefreshToken(ctx, current.RefreshToken)
	if err != nil {
		r.observe(RefreshFailed)
		r.logger.Warn("token refresh failed", slog.String("error", err.Error()))
		if r.dropOnFailure && ctx.Err() == nil {
			if derr := r.store.Delete(ctx, sid); derr != nil {
				r.logger.Error("failed to drop session after refresh failure", slog.String("error", derr.Error()))
			}
		}
		return nil, err
	}

	// The grant may have consumed the old refresh token, so its result is
	// stored even when the caller went away after the response arrived.
	current.ReplaceTokens(session.TokensFrom(tok), r.now())
	if err := r.store.Put(context.WithoutCancel(ctx), sid, current); err != nil {
		return nil, fmt.Errorf("failed to store refreshed session: %w", err)
	}
	r.observe(RefreshSucceeded)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return current, nil
}

func (r *Refresher) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveRefresh(outcome)
	}
}
