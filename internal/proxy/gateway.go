// Package proxy forwards incident operations to ServiceNow on behalf of an
// authenticated session. Every upstream call goes through one decision point
// that maps upstream outcomes to BFF errors and performs at most one token
// refresh and retry per call.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/k1s0-platform/system-server-go-incident-bff/internal/apperr"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/servicenow"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/session"
)

// IncidentAPI is the upstream table client.
type IncidentAPI interface {
	List(ctx context.Context, token string) (json.RawMessage, error)
	Create(ctx context.Context, token string, fields servicenow.IncidentFields) (json.RawMessage, error)
	Update(ctx context.Context, token, sysID string, fields servicenow.IncidentFields) (json.RawMessage, error)
	Delete(ctx context.Context, token, sysID string) (int, error)
}

// Gateway resolves the caller's session and runs incident operations with its
// access token.
type Gateway struct {
	store     session.Store
	api       IncidentAPI
	refresher *Refresher
	logger    *slog.Logger
}

// NewGateway creates a Gateway.
func NewGateway(store session.Store, api IncidentAPI, refresher *Refresher, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		store:     store,
		api:       api,
		refresher: refresher,
		logger:    logger,
	}
}

// ListIncidents returns the upstream list body unchanged.
func (g *Gateway) ListIncidents(ctx context.Context, sid string) (json.RawMessage, error) {
	return do(ctx, g, sid, func(ctx context.Context, token string) (json.RawMessage, error) {
		return g.api.List(ctx, token)
	})
}

// CreateIncident inserts a record and returns it.
func (g *Gateway) CreateIncident(ctx context.Context, sid string, fields servicenow.IncidentFields) (json.RawMessage, error) {
	return do(ctx, g, sid, func(ctx context.Context, token string) (json.RawMessage, error) {
		return g.api.Create(ctx, token, fields)
	})
}

// UpdateIncident patches sysID and returns the updated record.
func (g *Gateway) UpdateIncident(ctx context.Context, sid, sysID string, fields servicenow.IncidentFields) (json.RawMessage, error) {
	return do(ctx, g, sid, func(ctx context.Context, token string) (json.RawMessage, error) {
		return g.api.Update(ctx, token, sysID, fields)
	})
}

// DeleteIncident removes sysID and returns the upstream status.
func (g *Gateway) DeleteIncident(ctx context.Context, sid, sysID string) (int, error) {
	return do(ctx, g, sid, func(ctx context.Context, token string) (int, error) {
		return g.api.Delete(ctx, token, sysID)
	})
}

// authenticated loads the session for sid and rejects anything that cannot
// carry a bearer token.
func (g *Gateway) authenticated(ctx context.Context, sid string) (*session.Session, error) {
	if sid == "" {
		return nil, apperr.Unauthenticated()
	}
	sess, err := g.store.Get(ctx, sid)
	if err != nil {
		return nil, apperr.Internal("failed to load session", err)
	}
	if !sess.Authenticated() {
		return nil, apperr.Unauthenticated()
	}
	return sess, nil
}

func do[T any](ctx context.Context, g *Gateway, sid string, op func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T

	sess, err := g.authenticated(ctx, sid)
	if err != nil {
		return zero, err
	}

	v, err := op(ctx, sess.AccessToken)
	if err == nil {
		return v, nil
	}
	if servicenow.StatusOf(err) != http.StatusUnauthorized {
		return zero, classify(err)
	}

	if sess.RefreshToken == "" {
		return zero, apperr.SessionExpired(err)
	}
	fresh, rerr := g.refresher.Refresh(ctx, sid, sess)
	if rerr != nil {
		return zero, apperr.SessionExpired(rerr)
	}

	v, err = op(ctx, fresh.AccessToken)
	if err == nil {
		return v, nil
	}
	if servicenow.StatusOf(err) == http.StatusUnauthorized {
		g.logger.Warn("upstream rejected refreshed token")
		return zero, apperr.SessionExpired(err)
	}
	return zero, classify(err)
}

// classify maps a non-401 upstream failure to a BFF error.
func classify(err error) error {
	var snErr *servicenow.Error
	if errors.As(err, &snErr) {
		if snErr.Status == http.StatusNotFound {
			return apperr.NotFound("Incident not found")
		}
		return apperr.Upstream(snErr.Status, snErr.Message, err)
	}
	if timedOut(err) {
		return apperr.Upstream(http.StatusGatewayTimeout, "Upstream request timed out", err)
	}
	return apperr.Upstream(0, "", err)
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
