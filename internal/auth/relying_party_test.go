package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelyingParty(t *testing.T, tokenURL string, credentials map[string]string) *RelyingParty {
	t.Helper()
	rp, err := NewRelyingParty(RelyingPartyConfig{
		ClientID:    "gateway",
		Credentials: credentials,
		AuthURL:     "https://idp.example.com/auth",
		TokenURL:    tokenURL,
		Scopes:      []string{"openid"},
	})
	require.NoError(t, err)
	return rp
}

func TestNewRelyingParty_Configuration(t *testing.T) {
	_, err := NewRelyingParty(RelyingPartyConfig{AuthURL: "https://a", TokenURL: "https://t"})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewRelyingParty(RelyingPartyConfig{ClientID: "gateway", AuthURL: "https://a"})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRelyingParty_AuthCodeURL(t *testing.T) {
	rp := newTestRelyingParty(t, "https://idp.example.com/token", nil)

	raw := rp.AuthCodeURL("st4te", "https://gw.example.com/app?x=1")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "idp.example.com", u.Host)
	assert.Equal(t, "/auth", u.Path)
	q := u.Query()
	assert.Equal(t, "gateway", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "st4te", q.Get("state"))
	assert.Equal(t, "https://gw.example.com/app?x=1", q.Get("redirect_uri"))
}

func TestRelyingParty_StateCookie(t *testing.T) {
	rp := newTestRelyingParty(t, "https://idp.example.com/token", nil)

	state, err := GenerateState()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, rp.SetStateCookie(rec, state))

	callback := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/app", nil)
		for _, c := range rec.Result().Cookies() {
			req.AddCookie(c)
		}
		return req
	}

	assert.NoError(t, rp.VerifyStateCookie(callback(), state))
	assert.ErrorIs(t, rp.VerifyStateCookie(callback(), "forged"), ErrCsrfMismatch)
	assert.ErrorIs(t, rp.VerifyStateCookie(callback(), ""), ErrCsrfMismatch)
	assert.ErrorIs(t, rp.VerifyStateCookie(httptest.NewRequest(http.MethodGet, "/app", nil), state), ErrCsrfMismatch)

	// A cookie sealed with another party's keys is not accepted.
	other := newTestRelyingParty(t, "https://idp.example.com/token", nil)
	assert.ErrorIs(t, other.VerifyStateCookie(callback(), state), ErrCsrfMismatch)
}

func TestRelyingParty_Exchange(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm

		switch r.PostForm.Get("code") {
		case "good":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at-123", "token_type": "Bearer", "expires_in": 300})
		case "empty":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"token_type": "Bearer"})
		case "rejected":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)

	rp := newTestRelyingParty(t, srv.URL, map[string]string{"secret": "s3cr3t", "client_assertion_type": "jwt"})
	ctx := context.Background()

	token, err := rp.Exchange(ctx, "good", "https://gw.example.com/app")
	require.NoError(t, err)
	assert.Equal(t, "at-123", token.AccessToken)
	assert.Equal(t, "gateway", form.Get("client_id"))
	assert.Equal(t, "s3cr3t", form.Get("client_secret"))
	assert.Equal(t, "jwt", form.Get("client_assertion_type"))
	assert.Equal(t, "https://gw.example.com/app", form.Get("redirect_uri"))

	tests := []struct {
		code string
		want error
	}{
		{code: "empty", want: ErrInvalidToken},
		{code: "rejected", want: ErrInvalidToken},
		{code: "broken", want: ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := rp.Exchange(ctx, tt.code, "https://gw.example.com/app")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRelyingParty_ExchangeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	tokenURL := srv.URL
	srv.Close()

	rp := newTestRelyingParty(t, tokenURL, nil)
	_, err := rp.Exchange(context.Background(), "good", "https://gw.example.com/app")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}
