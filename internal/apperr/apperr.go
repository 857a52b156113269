// Package apperr defines the error outcomes the BFF surfaces to the browser.
//
// Every terminal failure of an auth or proxy operation is an *Error carrying a
// Kind, the HTTP status to answer with and a human readable message. Handlers
// render them through a single helper; only the proxy's 401 refresh path
// inspects them to recover locally.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindBadSession      Kind = "BFF_BAD_SESSION"
	KindStateMismatch   Kind = "BFF_STATE_MISMATCH"
	KindUnauthenticated Kind = "BFF_UNAUTHENTICATED"
	KindSessionExpired  Kind = "BFF_SESSION_EXPIRED"
	KindNotFound        Kind = "BFF_NOT_FOUND"
	KindUpstream        Kind = "BFF_UPSTREAM_ERROR"
	KindBadRequest      Kind = "BFF_BAD_REQUEST"
	KindProvider        Kind = "BFF_PROVIDER_ERROR"
	KindInternal        Kind = "BFF_INTERNAL_ERROR"
)

// Error is a classified failure with the HTTP status it maps to.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can use errors.Is against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons. Do not return these directly when a
// more specific message is available; use the constructors.
var (
	ErrBadSession      = &Error{Kind: KindBadSession, Status: http.StatusBadRequest, Message: "Bad session"}
	ErrStateMismatch   = &Error{Kind: KindStateMismatch, Status: http.StatusBadRequest, Message: "State mismatch"}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated, Status: http.StatusUnauthorized, Message: "Not authenticated"}
	ErrSessionExpired  = &Error{Kind: KindSessionExpired, Status: http.StatusUnauthorized, Message: "Session expired"}
	ErrNotFound        = &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: "Not found"}
)

// BadSession reports a callback without a matching pending session.
func BadSession(msg string) *Error {
	return &Error{Kind: KindBadSession, Status: http.StatusBadRequest, Message: msg}
}

// StateMismatch reports an OAuth state that does not match the session.
func StateMismatch() *Error {
	return &Error{Kind: KindStateMismatch, Status: http.StatusBadRequest, Message: "State mismatch"}
}

// Unauthenticated reports a protected call without an access token.
func Unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Status: http.StatusUnauthorized, Message: "Not authenticated"}
}

// SessionExpired reports a failed refresh or a retry that was still rejected.
func SessionExpired(err error) *Error {
	return &Error{Kind: KindSessionExpired, Status: http.StatusUnauthorized, Message: "Session expired", Err: err}
}

// NotFound reports an upstream 404.
func NotFound(msg string) *Error {
	if msg == "" {
		msg = "Not found"
	}
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: msg}
}

// Upstream forwards a non-401/404 upstream failure. A zero status maps to 500.
func Upstream(status int, msg string, err error) *Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if msg == "" {
		msg = "Upstream error"
	}
	return &Error{Kind: KindUpstream, Status: status, Message: msg, Err: err}
}

// BadRequest reports a malformed browser request.
func BadRequest(msg string, err error) *Error {
	return &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: msg, Err: err}
}

// Provider reports an error returned by the authorization server on redirect.
func Provider(code, description string) *Error {
	msg := code
	if description != "" {
		msg = code + ": " + description
	}
	return &Error{Kind: KindProvider, Status: http.StatusBadRequest, Message: msg}
}

// Internal reports a local failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: msg, Err: err}
}

// From converts any error into an *Error, classifying unknown errors as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("Internal error", err)
}
