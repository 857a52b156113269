package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("list incidents: %w", SessionExpired(errors.New("refresh failed")))

	assert.True(t, errors.Is(err, ErrSessionExpired))
	assert.False(t, errors.Is(err, ErrUnauthenticated))
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Upstream(0, "", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Equal(t, "Upstream error", err.Message)
}

func TestConstructors_Status(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		status int
		kind   Kind
	}{
		{"bad session", BadSession("Bad session"), http.StatusBadRequest, KindBadSession},
		{"state mismatch", StateMismatch(), http.StatusBadRequest, KindStateMismatch},
		{"unauthenticated", Unauthenticated(), http.StatusUnauthorized, KindUnauthenticated},
		{"session expired", SessionExpired(nil), http.StatusUnauthorized, KindSessionExpired},
		{"not found", NotFound(""), http.StatusNotFound, KindNotFound},
		{"upstream", Upstream(http.StatusBadGateway, "boom", nil), http.StatusBadGateway, KindUpstream},
		{"provider", Provider("access_denied", "user said no"), http.StatusBadRequest, KindProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.kind, tt.err.Kind)
		})
	}
}

func TestFrom(t *testing.T) {
	wrapped := fmt.Errorf("ctx: %w", NotFound("Incident not found"))
	assert.Equal(t, KindNotFound, From(wrapped).Kind)

	plain := From(errors.New("oops"))
	assert.Equal(t, KindInternal, plain.Kind)
	assert.Equal(t, http.StatusInternalServerError, plain.Status)
}
