package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	httphelper "github.com/zitadel/oidc/v3/pkg/http"
	"golang.org/x/oauth2"
)

const (
	// StateCookieName binds the anti-CSRF state to the browser between the
	// redirect and the callback.
	StateCookieName = "OAuth_Token_Request_State"

	stateCookieMaxAge = 600

	// credentialSecretKey is the client credential sent as client_secret.
	credentialSecretKey = "secret"
)

// RelyingPartyConfig configures the authorization-code client.
type RelyingPartyConfig struct {
	ClientID    string
	Credentials map[string]string
	AuthURL     string
	TokenURL    string
	Scopes      []string
	// HashKey and BlockKey sign and encrypt the state cookie. Random keys are
	// generated when empty, which invalidates in-flight logins on restart.
	HashKey     []byte
	BlockKey    []byte
	SSLRequired bool
	HTTPClient  *http.Client
}

// RelyingParty drives the OAuth2 authorization-code exchange against the
// realm's auth and token endpoints by wrapping a zitadel/oidc RelyingParty.
type RelyingParty struct {
	rp          rp.RelyingParty
	extraParams []oauth2.AuthCodeOption
}

// NewRelyingParty creates the authorization-code client for cfg.
func NewRelyingParty(cfg RelyingPartyConfig) (*RelyingParty, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrConfiguration)
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("%w: auth and token urls are required", ErrConfiguration)
	}

	hashKey := cfg.HashKey
	if len(hashKey) == 0 {
		key, err := generateRandomBytes(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate cookie hash key: %w", err)
		}
		hashKey = key
	}
	blockKey := cfg.BlockKey
	if len(blockKey) == 0 {
		key, err := generateRandomBytes(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate cookie crypto key: %w", err)
		}
		blockKey = key
	}

	cookieOpts := []httphelper.CookieHandlerOpt{
		httphelper.WithMaxAge(stateCookieMaxAge),
	}
	if !cfg.SSLRequired {
		cookieOpts = append(cookieOpts, httphelper.WithUnsecure())
	}
	cookieHandler := httphelper.NewCookieHandler(hashKey, blockKey, cookieOpts...)

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.Credentials[credentialSecretKey],
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: cfg.Scopes,
	}

	options := []rp.Option{
		rp.WithCookieHandler(cookieHandler),
	}
	if cfg.HTTPClient != nil {
		options = append(options, rp.WithHTTPClient(cfg.HTTPClient))
	}

	relyingParty, err := rp.NewRelyingPartyOAuth(oauthConfig, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth relying party: %w", err)
	}

	return &RelyingParty{
		rp:          relyingParty,
		extraParams: credentialParams(cfg.Credentials),
	}, nil
}

// credentialParams turns every credential other than the secret into a form
// parameter of the token request, in a stable order.
func credentialParams(credentials map[string]string) []oauth2.AuthCodeOption {
	keys := make([]string, 0, len(credentials))
	for k := range credentials {
		if k != credentialSecretKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	params := make([]oauth2.AuthCodeOption, 0, len(keys))
	for _, k := range keys {
		params = append(params, oauth2.SetAuthURLParam(k, credentials[k]))
	}
	return params
}

// AuthCodeURL returns the authorization endpoint URL carrying client_id,
// response_type=code, redirect_uri and state.
func (r *RelyingParty) AuthCodeURL(state, redirectURI string) string {
	return r.rp.OAuthConfig().AuthCodeURL(state, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
}

// SetStateCookie binds state to the browser.
func (r *RelyingParty) SetStateCookie(w http.ResponseWriter, state string) error {
	if err := r.rp.CookieHandler().SetCookie(w, StateCookieName, state); err != nil {
		return fmt.Errorf("set state cookie: %w", err)
	}
	return nil
}

// VerifyStateCookie compares the callback state with the value bound to the
// browser. A missing cookie, missing state or mismatch is ErrCsrfMismatch.
func (r *RelyingParty) VerifyStateCookie(req *http.Request, state string) error {
	bound, err := r.rp.CookieHandler().CheckCookie(req, StateCookieName)
	if err != nil {
		return fmt.Errorf("%w: state cookie not found: %w", ErrCsrfMismatch, err)
	}
	if state == "" {
		return fmt.Errorf("%w: state parameter missing", ErrCsrfMismatch)
	}
	if subtle.ConstantTimeCompare([]byte(bound), []byte(state)) != 1 {
		return fmt.Errorf("%w: state parameter invalid", ErrCsrfMismatch)
	}
	return nil
}

// ClearStateCookie removes the state binding once a callback was consumed.
func (r *RelyingParty) ClearStateCookie(w http.ResponseWriter) {
	r.rp.CookieHandler().DeleteCookie(w, StateCookieName)
}

// Exchange trades code for a token at the realm's token endpoint. The call is
// made once; transport failures, timeouts and 5xx answers are
// ErrUpstreamUnavailable, a rejected code or malformed answer ErrInvalidToken.
func (r *RelyingParty) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.rp.HttpClient())

	opts := make([]oauth2.AuthCodeOption, 0, len(r.extraParams)+1)
	opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	opts = append(opts, r.extraParams...)

	token, err := r.rp.OAuthConfig().Exchange(ctx, code, opts...)
	if err != nil {
		return nil, classifyExchangeError(err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response carried no access token", ErrInvalidToken)
	}
	return token, nil
}

func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: token endpoint answered %d: %w", ErrUpstreamUnavailable, retrieveErr.Response.StatusCode, err)
		}
		return fmt.Errorf("%w: code rejected: %w", ErrInvalidToken, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	return fmt.Errorf("%w: malformed token response: %w", ErrInvalidToken, err)
}

// generateRandomBytes creates a slice of random bytes of a specified size.
func generateRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// GenerateState generates a random anti-CSRF state value.
func GenerateState() (string, error) {
	b, err := generateRandomBytes(32)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
