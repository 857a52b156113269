package session

import (
	"time"

	"golang.org/x/oauth2"
)

// Phase tags where a session is in the login state machine.
type Phase string

const (
	// PhasePending is a login that has not completed the callback yet.
	PhasePending Phase = "pending"

	// PhaseAuthenticated is a session holding provider tokens.
	PhaseAuthenticated Phase = "authenticated"
)

// PendingTTL bounds how long a login may wait for its callback.
const PendingTTL = 15 * time.Minute

// extraTokenFields are the provider-returned token fields kept besides the standard ones.
var extraTokenFields = []string{"scope", "id_token"}

// Tokens are the provider token fields. They are replaced wholesale on refresh.
type Tokens struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	TokenType    string            `json:"token_type,omitempty"`
	Expiry       time.Time         `json:"expiry,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// TokensFrom copies the fields of an oauth2 token into session form.
func TokensFrom(tok *oauth2.Token) Tokens {
	t := Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	for _, k := range extraTokenFields {
		if v, ok := tok.Extra(k).(string); ok && v != "" {
			if t.Extra == nil {
				t.Extra = make(map[string]string)
			}
			t.Extra[k] = v
		}
	}
	return t
}

// Session is the server-side record keyed by the sid cookie.
type Session struct {
	Phase Phase `json:"phase"`

	// CodeVerifier and State live only while the session is pending.
	CodeVerifier string `json:"code_verifier,omitempty"`
	State        string `json:"state,omitempty"`

	Tokens

	// CSRFToken is bound to authenticated sessions when CSRF protection is on.
	CSRFToken string `json:"csrf_token,omitempty"`

	// ObtainedAt is when the current tokens were acquired.
	ObtainedAt time.Time `json:"obtained_at,omitempty"`

	// ExpiresAt is when the record stops being readable. Zero means never.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewPending creates the record stored at login.
func NewPending(verifier, state string, now time.Time) *Session {
	return &Session{
		Phase:        PhasePending,
		CodeVerifier: verifier,
		State:        state,
		ExpiresAt:    now.Add(PendingTTL),
		CreatedAt:    now,
	}
}

// Authenticated reports whether the session holds an access token.
func (s *Session) Authenticated() bool {
	return s != nil && s.AccessToken != ""
}

// IsPending reports whether the session is waiting for its callback.
func (s *Session) IsPending() bool {
	return s != nil && s.Phase == PhasePending && s.AccessToken == ""
}

// IsExpired reports whether the record is past its expiry at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Authenticate moves a pending session to authenticated. The PKCE verifier and
// state are consumed. lifetime <= 0 leaves the session without expiry.
func (s *Session) Authenticate(tokens Tokens, now time.Time, lifetime time.Duration) {
	s.Phase = PhaseAuthenticated
	s.CodeVerifier = ""
	s.State = ""
	s.Tokens = tokens
	s.ObtainedAt = now
	s.ExpiresAt = time.Time{}
	if lifetime > 0 {
		s.ExpiresAt = now.Add(lifetime)
	}
}

// ReplaceTokens installs refreshed tokens. A refresh response without a
// refresh token keeps the previous one.
func (s *Session) ReplaceTokens(tokens Tokens, now time.Time) {
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = s.RefreshToken
	}
	s.Tokens = tokens
	s.ObtainedAt = now
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Extra != nil {
		c.Extra = make(map[string]string, len(s.Extra))
		for k, v := range s.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}
