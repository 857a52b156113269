package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	// DefaultAuthorizePath is the ServiceNow authorization endpoint path.
	DefaultAuthorizePath = "/oauth_auth.do"

	// DefaultTokenPath is the ServiceNow token endpoint path.
	DefaultTokenPath = "/oauth_token.do"

	// DefaultHTTPTimeout bounds every call to the token endpoint.
	DefaultHTTPTimeout = 10 * time.Second
)

// Config holds the client registration and provider location.
type Config struct {
	// InstanceURL is the provider base URL used to build the static endpoints.
	InstanceURL   string
	AuthorizePath string
	TokenPath     string

	// DiscoveryURL, when set, is an OIDC issuer whose endpoints replace the static ones.
	DiscoveryURL string

	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	HTTPTimeout  time.Duration
}

// TokenError describes a failed call to the token endpoint.
type TokenError struct {
	// Status is the HTTP status of the token endpoint, 0 when no response arrived.
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *TokenError) Error() string {
	var b strings.Builder
	b.WriteString("token endpoint")
	if e.Status != 0 {
		fmt.Fprintf(&b, " returned status %d", e.Status)
	}
	if e.Code != "" {
		b.WriteString(": " + e.Code)
	}
	if e.Description != "" {
		b.WriteString(": " + e.Description)
	}
	if e.Err != nil && e.Status == 0 {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Client performs the authorization code and refresh token grants for the BFF.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu       sync.Mutex
	endpoint *oauth2.Endpoint
}

// NewClient creates a provider client. With no discovery URL the endpoints are
// derived from the instance URL immediately.
func NewClient(cfg Config) *Client {
	if cfg.AuthorizePath == "" {
		cfg.AuthorizePath = DefaultAuthorizePath
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = DefaultTokenPath
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}

	if cfg.DiscoveryURL == "" {
		base := strings.TrimSuffix(cfg.InstanceURL, "/")
		c.endpoint = &oauth2.Endpoint{
			AuthURL:   base + cfg.AuthorizePath,
			TokenURL:  base + cfg.TokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
	return c
}

// ClientID returns the registered client identifier.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// Discover resolves the provider endpoints through OIDC discovery. It is a
// no-op when static endpoints are configured or discovery already succeeded.
func (c *Client) Discover(ctx context.Context) error {
	_, err := c.ensureEndpoint(ctx)
	return err
}

// AuthCodeURL builds the authorization URL carrying the PKCE challenge and state.
func (c *Client) AuthCodeURL(ctx context.Context, state, codeChallenge string) (string, error) {
	conf, err := c.config(ctx)
	if err != nil {
		return "", err
	}

	return conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// ExchangeCode exchanges an authorization code and its PKCE verifier for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	conf, err := c.config(ctx)
	if err != nil {
		return nil, err
	}

	tok, err := conf.Exchange(c.clientContext(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, tokenError(err)
	}
	return tok, nil
}

// RefreshToken performs a single refresh_token grant. When the provider does
// not rotate the refresh token the returned token keeps the one passed in.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	conf, err := c.config(ctx)
	if err != nil {
		return nil, err
	}

	// An empty access token is never valid, so the source always hits the token endpoint.
	src := conf.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, tokenError(err)
	}
	return tok, nil
}

func (c *Client) config(ctx context.Context) (*oauth2.Config, error) {
	ep, err := c.ensureEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint:     ep,
		RedirectURL:  c.cfg.RedirectURI,
		Scopes:       c.cfg.Scopes,
	}, nil
}

func (c *Client) ensureEndpoint(ctx context.Context) (oauth2.Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.endpoint != nil {
		return *c.endpoint, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.httpClient), c.cfg.DiscoveryURL)
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("OIDC discovery failed: %w", err)
	}

	ep := provider.Endpoint()
	ep.AuthStyle = oauth2.AuthStyleInParams
	c.endpoint = &ep
	return ep, nil
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		te := &TokenError{
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			Err:         err,
		}
		if re.Response != nil {
			te.Status = re.Response.StatusCode
		}
		return te
	}
	return &TokenError{Err: err}
}
