package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/k1s0-platform/system-server-go-incident-bff/internal/middleware"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/oauth"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/proxy"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/servicenow"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/session"
)

const testFrontendURL = "http://localhost:5173/"

// fakeInstance emulates the token endpoint and incident table of a ServiceNow instance.
type fakeInstance struct {
	t *testing.T

	mu           sync.Mutex
	validToken   string
	refreshFails bool
	exchanges    int
	refreshes    int
	tableCalls   int
	lastVerifier string
	lastPatch    string
	records      map[string]bool
}

func newFakeInstance(t *testing.T) (*fakeInstance, *httptest.Server) {
	f := &fakeInstance{t: t, validToken: "T1", records: map[string]bool{"abc": true}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeInstance) setValidToken(tok string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validToken = tok
}

func (f *fakeInstance) counts() (exchanges, refreshes, tableCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges, f.refreshes, f.tableCalls
}

func (f *fakeInstance) patchBody() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPatch
}

func (f *fakeInstance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == oauth.DefaultTokenPath:
		f.token(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/now/table/incident"):
		f.table(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInstance) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		f.exchanges++
		f.lastVerifier = r.PostForm.Get("code_verifier")
		if r.PostForm.Get("code") != "abc" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"bad code"}`))
			return
		}
		w.Write([]byte(`{"access_token":"T1","refresh_token":"R1","token_type":"Bearer","expires_in":1800,"scope":"useraccount"}`))
	case "refresh_token":
		f.refreshes++
		if f.refreshFails || r.PostForm.Get("refresh_token") != "R1" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Write([]byte(`{"access_token":"T2","token_type":"Bearer","expires_in":1800}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeInstance) table(w http.ResponseWriter, r *http.Request) {
	f.tableCalls++
	if r.Header.Get("Authorization") != "Bearer "+f.validToken {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"User Not Authenticated"},"status":"failure"}`))
		return
	}

	sysID := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/now/table/incident"), "/")
	switch r.Method {
	case http.MethodGet:
		w.Write([]byte(`{"result":[{"sys_id":"abc","number":"INC0010001"}]}`))
	case http.MethodPost:
		var in map[string]any
		json.NewDecoder(r.Body).Decode(&in)
		in["sys_id"] = "new1"
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"result": in})
	case http.MethodPatch:
		body, _ := io.ReadAll(r.Body)
		f.lastPatch = string(body)
		if !f.records[sysID] {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"No Record found"}}`))
			return
		}
		w.Write([]byte(`{"result":{"sys_id":"` + sysID + `","urgency":"3"}}`))
	case http.MethodDelete:
		if !f.records[sysID] {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"No Record found"}}`))
			return
		}
		delete(f.records, sysID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// bff wires the handlers the way the server does, against a fake instance.
type bff struct {
	router *gin.Engine
	store  *session.MemoryStore
}

func newBFF(t *testing.T, instanceURL string, csrf bool) *bff {
	t.Helper()
	store := session.NewMemoryStore()

	authClient := oauth.NewClient(oauth.Config{
		InstanceURL: instanceURL,
		ClientID:    "bff-client",
		RedirectURI: "http://localhost:3001/auth/callback",
		HTTPTimeout: time.Second,
	})
	sn := servicenow.NewClient(instanceURL, "incident", time.Second)
	gateway := proxy.NewGateway(store, sn, proxy.NewRefresher(store, authClient, nil), nil)

	auth := NewAuthHandler(authClient, store, AuthOptions{
		SessionTTL:  8 * time.Hour,
		FrontendURL: testFrontendURL,
		CSRF:        csrf,
	}, nil)
	incidents := NewIncidentHandler(gateway, nil)

	router := gin.New()
	router.Use(middleware.SessionMiddleware(store, nil))

	authGroup := router.Group("/auth")
	authGroup.GET("/login", auth.Login)
	authGroup.GET("/callback", auth.Callback)
	authGroup.GET("/status", auth.Status)
	authGroup.GET("/logout", auth.Logout)
	authGroup.POST("/logout", auth.Logout)

	api := router.Group("/api")
	if csrf {
		api.Use(middleware.CSRFMiddleware(""))
	}
	api.GET("/incidents", incidents.List)
	api.POST("/incidents", incidents.Create)
	api.PUT("/incidents/:sys_id", incidents.Update)
	api.DELETE("/incidents/:sys_id", incidents.Delete)

	return &bff{router: router, store: store}
}

func (b *bff) do(req *http.Request, sid string) *httptest.ResponseRecorder {
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sid})
	}
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	return w
}

// login runs /auth/login and returns the new session id and the state sent to the provider.
func (b *bff) login(t *testing.T) (sid, state string) {
	t.Helper()
	w := b.do(httptest.NewRequest(http.MethodGet, "/auth/login", nil), "")
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state = loc.Query().Get("state")
	require.NotEmpty(t, state)

	c := sessionCookie(t, w)
	return c.Value, state
}

// authenticate runs login and a successful callback.
func (b *bff) authenticate(t *testing.T) string {
	t.Helper()
	sid, state := b.login(t)
	w := b.do(httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(state), nil), sid)
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	return sid
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", middleware.SessionCookieName)
	return nil
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
