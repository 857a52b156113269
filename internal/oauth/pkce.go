package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	verifierBytes  = 32
	stateBytes     = 16
	sessionIDBytes = 24
)

// PKCE holds the per-login material for RFC 7636 (S256) together with the
// anti-CSRF state and the session identifier the login is bound to.
type PKCE struct {
	CodeVerifier  string
	CodeChallenge string
	State         string
	SessionID     string
}

// NewPKCE generates fresh login material. It only fails when the system
// entropy source is unavailable.
func NewPKCE() (*PKCE, error) {
	verifier, err := randomToken(verifierBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	state, err := randomToken(stateBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	sid, err := randomToken(sessionIDBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	return &PKCE{
		CodeVerifier:  verifier,
		CodeChallenge: computeCodeChallenge(verifier),
		State:         state,
		SessionID:     sid,
	}, nil
}

// RandomToken returns n random bytes encoded as URL-safe base64 without padding.
func RandomToken(n int) (string, error) {
	return randomToken(n)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// computeCodeChallenge computes the S256 code challenge from a verifier.
func computeCodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
