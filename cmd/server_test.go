package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1s0-platform/system-server-go-incident-bff/internal/config"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/handler"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/metrics"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/middleware"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/oauth"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/proxy"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/servicenow"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.BFFConfig {
	cfg := &config.BFFConfig{
		App:    config.AppConfig{Name: "incident-bff", Environment: "dev"},
		Server: config.ServerConfig{Port: 3001},
		Auth: config.AuthConfig{
			InstanceURL: "https://dev123.service-now.com",
			ClientID:    "bff-client",
			RedirectURI: "http://localhost:3001/auth/callback",
		},
		Observability: config.ObservabilityConfig{
			Metrics: config.MetricsConfig{Enabled: true},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func testRouter(t *testing.T, cfg *config.BFFConfig) *gin.Engine {
	t.Helper()
	store := session.NewMemoryStore()
	authClient := oauth.NewClient(oauth.Config{
		InstanceURL: cfg.Auth.InstanceURL,
		ClientID:    cfg.Auth.ClientID,
		RedirectURI: cfg.Auth.RedirectURI,
	})
	m := metrics.New(cfg.App.Name)
	sn := servicenow.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Table, time.Second, servicenow.WithObserver(m))
	gateway := proxy.NewGateway(store, sn, proxy.NewRefresher(store, authClient, nil), nil)

	return newRouter(cfg, routerDeps{
		store:     store,
		metrics:   m,
		health:    handler.NewHealthHandler(store),
		auth:      handler.NewAuthHandler(authClient, store, authOptions(cfg), nil),
		incidents: handler.NewIncidentHandler(gateway, nil),
	})
}

func TestRouter_Routes(t *testing.T) {
	router := testRouter(t, testConfig())

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/auth/login", http.StatusFound},
		{http.MethodGet, "/auth/callback", http.StatusBadRequest},
		{http.MethodGet, "/auth/status", http.StatusOK},
		{http.MethodGet, "/auth/logout", http.StatusOK},
		{http.MethodPost, "/auth/logout", http.StatusOK},
		{http.MethodGet, "/api/incidents", http.StatusUnauthorized},
		{http.MethodDelete, "/api/incidents/abc", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRouter_Preflight(t *testing.T) {
	router := testRouter(t, testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/incidents", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRouter_CorrelationHeaders(t *testing.T) {
	router := testRouter(t, testConfig())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.NotEmpty(t, w.Header().Get(middleware.HeaderCorrelationID))
}

func TestRouter_SecureCookieOutsideDev(t *testing.T) {
	cfg := testConfig()
	cfg.App.Environment = "staging"
	router := testRouter(t, cfg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.Equal(t, http.StatusFound, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].Secure)
}

func TestNewSessionStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, release, err := newSessionStore(ctx, config.SessionConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	defer release()
	assert.IsType(t, &session.MemoryStore{}, store)

	mr := miniredis.RunT(t)
	store, release, err = newSessionStore(ctx, config.SessionConfig{
		Backend: "redis",
		Redis:   config.RedisSessionConfig{Addr: mr.Addr()},
	}, nil)
	require.NoError(t, err)
	defer release()
	assert.IsType(t, &session.RedisStore{}, store)
	assert.NoError(t, store.Ping(ctx))

	_, _, err = newSessionStore(ctx, config.SessionConfig{Backend: "etcd"}, nil)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	assert.True(t, newLogger(config.LogConfig{Level: "debug"}).Enabled(context.Background(), -4))
	assert.False(t, newLogger(config.LogConfig{Level: "error", Format: "text"}).Enabled(context.Background(), 0))
}

func TestRootCmd_Version(t *testing.T) {
	cmd := newRootCmd()
	assert.Equal(t, "incident-bff", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("config"))
	assert.NotNil(t, cmd.Flags().Lookup("env-config"))
	assert.Equal(t, version, cmd.Version)
}
