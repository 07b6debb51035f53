package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/authgate/internal/auth"
	"github.com/terraconstructs/authgate/internal/db/models"
	"github.com/terraconstructs/authgate/internal/repository"
	"github.com/terraconstructs/authgate/internal/services/session"
)

const (
	testAuthURL  = "https://idp.example.com/realms/corp/auth"
	testClientID = "gateway"
	testSecret   = "s3cr3t"
	testRealm    = "corp"
)

// mockVerifier resolves known tokens from a map and counts calls.
type mockVerifier struct {
	mu     sync.Mutex
	tokens map[string]auth.VerifiedToken
	calls  int
}

func newMockVerifier() *mockVerifier {
	return &mockVerifier{tokens: map[string]auth.VerifiedToken{
		"alice-token": {Username: "alice", Subject: "alice-sub", Roles: []string{"user"}},
		"bob-token":   {Username: "bob", Subject: "bob-sub", Roles: []string{"user"}},
		"admin-token": {Username: "root", Subject: "root-sub", Roles: []string{"user", "admin"}},
	}}
}

func (m *mockVerifier) Verify(_ context.Context, token string, _ auth.RealmMetadata) (*auth.VerifiedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	v, ok := m.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrInvalidToken)
	}
	v.Token = token
	v.Roles = append([]string(nil), v.Roles...)
	return &v, nil
}

func (m *mockVerifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// tokenEndpoint is a fake authorization server token endpoint. Codes map to
// behaviours: good-code and bob-code succeed, bad-code is rejected, boom
// answers 500, slow outlives the exchange timeout, unverifiable returns a
// token the verifier does not know and empty returns no token.
type tokenEndpoint struct {
	mu    sync.Mutex
	forms []url.Values
}

func (e *tokenEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e.mu.Lock()
	e.forms = append(e.forms, r.PostForm)
	e.mu.Unlock()

	if r.PostForm.Get("client_id") != testClientID || r.PostForm.Get("client_secret") != testSecret {
		writeTokenError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	switch r.PostForm.Get("code") {
	case "good-code":
		writeToken(w, "alice-token")
	case "bob-code":
		writeToken(w, "bob-token")
	case "unverifiable":
		writeToken(w, "forged-token")
	case "empty":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
	case "boom":
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	case "slow":
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
		writeToken(w, "alice-token")
	default:
		writeTokenError(w, http.StatusBadRequest, "invalid_grant")
	}
}

func (e *tokenEndpoint) Requests() []url.Values {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]url.Values(nil), e.forms...)
}

func writeToken(w http.ResponseWriter, accessToken string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   300,
	})
}

func writeTokenError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

type fixtureConfig struct {
	sslRequired       bool
	cancelPropagation bool
	exchangeTimeout   time.Duration
	wrapSessions      func(SessionManager) SessionManager
}

// fixture wires a Decider against an in-memory session store, a mock
// verifier and a fake token endpoint.
type fixture struct {
	verifier *mockVerifier
	endpoint *tokenEndpoint
	repo     *repository.MemorySessionRepository
	sessions *session.Manager
	decider  *Decider

	mu        sync.Mutex
	nextCalls int
	principal auth.Principal
	authType  string
	sc        *auth.SessionContext
}

func newFixture(t *testing.T, opts ...func(*fixtureConfig)) *fixture {
	t.Helper()

	cfg := fixtureConfig{exchangeTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		verifier: newMockVerifier(),
		endpoint: &tokenEndpoint{},
		repo:     repository.NewMemorySessionRepository(100, time.Hour),
	}

	server := httptest.NewServer(f.endpoint)
	t.Cleanup(server.Close)

	realm := auth.RealmMetadata{Realm: testRealm}
	rp, err := auth.NewRelyingParty(auth.RelyingPartyConfig{
		ClientID:    testClientID,
		Credentials: map[string]string{"secret": testSecret},
		AuthURL:     testAuthURL,
		TokenURL:    server.URL + "/token",
		SSLRequired: cfg.sslRequired,
		HTTPClient:  server.Client(),
	})
	require.NoError(t, err)

	enforcer, err := auth.NewRoleEnforcer("admin")
	require.NoError(t, err)

	f.sessions = session.NewManager(f.repo, session.Options{Timeout: time.Hour})
	bearer := NewBearerAuthenticator(f.verifier, realm)

	var sessions SessionManager = f.sessions
	if cfg.wrapSessions != nil {
		sessions = cfg.wrapSessions(sessions)
	}

	f.decider = NewDecider(DeciderOptions{
		Bearer:   bearer,
		Sessions: sessions,
		CodeFlow: NewCodeFlow(rp, f.verifier, realm, CodeFlowOptions{
			SSLRequired:     cfg.sslRequired,
			ExchangeTimeout: cfg.exchangeTimeout,
		}),
		Binder:          NewBinder(realm, cfg.cancelPropagation),
		Logout:          NewLogoutHandler(bearer, enforcer, f.sessions, testRealm, nil, nil),
		Unauthenticated: UnauthorizedResponder(testRealm),
	})
	return f
}

func withSSLRequired(c *fixtureConfig) { c.sslRequired = true }

func withCancelPropagation(c *fixtureConfig) { c.cancelPropagation = true }

func withSessions(wrap func(SessionManager) SessionManager) func(*fixtureConfig) {
	return func(c *fixtureConfig) { c.wrapSessions = wrap }
}

func withExchangeTimeout(d time.Duration) func(*fixtureConfig) {
	return func(c *fixtureConfig) { c.exchangeTimeout = d }
}

// next records what the protected handler saw.
func (f *fixture) next() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.nextCalls++
		f.principal, _ = auth.PrincipalFromContext(r.Context())
		f.authType = auth.AuthTypeFromContext(r.Context())
		f.sc, _ = auth.SessionContextFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func (f *fixture) serve(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.decider.Decide(rec, r, f.next())
	return rec
}

func (f *fixture) NextCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextCalls
}

// seedSession creates a logged-in session for verified and returns its cookie.
func (f *fixture) seedSession(t *testing.T, verified auth.VerifiedToken) (*models.Session, *http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://gateway.test/", nil)

	s, err := f.sessions.Create(context.Background(), rec, req, &verified)
	require.NoError(t, err)
	require.NoError(t, f.sessions.Login(context.Background(), s, verified.Username))

	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return s, c
		}
	}
	t.Fatal("session cookie not set")
	return nil, nil
}

// beginLogin runs phase 1 for target and returns the state and the cookies
// the browser would carry to the callback.
func (f *fixture) beginLogin(t *testing.T, target string) (string, []*http.Cookie) {
	t.Helper()
	rec := f.serve(httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)
	return state, rec.Result().Cookies()
}

func callbackRequest(target string, cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	return nil
}
