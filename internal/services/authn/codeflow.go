package authn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/terraconstructs/authgate/internal/auth"
	"github.com/terraconstructs/authgate/internal/telemetry"
)

// OAuth callback parameters.
const (
	CodeParam             = "code"
	StateParam            = "state"
	ErrorParam            = "error"
	ErrorDescriptionParam = "error_description"
	SessionStateParam     = "session_state"
)

// callbackParams are stripped from a callback URL to recover the URL the
// browser originally asked for.
var callbackParams = []string{CodeParam, StateParam, SessionStateParam, ErrorParam, ErrorDescriptionParam}

// CodeFlowOptions configures a CodeFlow.
type CodeFlowOptions struct {
	// SSLRequired refuses to start the flow over plain HTTP.
	SSLRequired bool
	// ExchangeTimeout bounds the token endpoint call. Zero leaves it to the
	// HTTP client.
	ExchangeTimeout time.Duration
	Logger          *zap.Logger
	Metrics         *telemetry.AuthMetrics
}

// CodeFlow runs the two phases of the OAuth2 authorization-code grant. It
// holds no per-login state; the anti-CSRF state lives in a browser cookie
// between the redirect and the callback.
type CodeFlow struct {
	rp              *auth.RelyingParty
	verifier        auth.TokenVerifier
	realm           auth.RealmMetadata
	sslRequired     bool
	exchangeTimeout time.Duration
	logger          *zap.Logger
	metrics         *telemetry.AuthMetrics
}

// NewCodeFlow creates a CodeFlow over rp that verifies exchanged tokens with verifier.
func NewCodeFlow(rp *auth.RelyingParty, verifier auth.TokenVerifier, realm auth.RealmMetadata, opts CodeFlowOptions) *CodeFlow {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodeFlow{
		rp:              rp,
		verifier:        verifier,
		realm:           realm,
		sslRequired:     opts.SSLRequired,
		exchangeTimeout: opts.ExchangeTimeout,
		logger:          logger.Named("codeflow"),
		metrics:         opts.Metrics,
	}
}

// IsCallback reports whether r is a phase-2 callback from the authorization server.
func (f *CodeFlow) IsCallback(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get(CodeParam) != "" || q.Get(ErrorParam) != ""
}

// Challenge starts phase 1: it binds a fresh state to the browser and
// redirects to the authorization endpoint with client_id,
// response_type=code, redirect_uri and state. It returns auth.ErrForbidden
// without writing a response when TLS is required and r is plain HTTP.
func (f *CodeFlow) Challenge(w http.ResponseWriter, r *http.Request) error {
	if f.sslRequired && !auth.IsSecureRequest(r) {
		return fmt.Errorf("%w: SSL is required to authenticate", auth.ErrForbidden)
	}

	state, err := auth.GenerateState()
	if err != nil {
		return err
	}
	if err := f.rp.SetStateCookie(w, state); err != nil {
		return err
	}

	redirectURI := CallbackRedirectURL(r)
	f.logger.Debug("redirecting to authorization endpoint", zap.String("redirect_uri", redirectURI))
	http.Redirect(w, r, f.rp.AuthCodeURL(state, redirectURI), http.StatusFound)
	return nil
}

// Complete runs phase 2: it checks the callback state against the browser
// binding, exchanges the code once at the token endpoint, and verifies the
// returned access token.
//
// Errors:
//   - auth.ErrUpstreamDenied when the callback carries an error parameter
//   - auth.ErrCsrfMismatch when state is absent or does not match
//   - auth.ErrUpstreamUnavailable on transport failure, timeout or a 5xx answer
//   - auth.ErrInvalidToken when the code is rejected or the token does not verify
func (f *CodeFlow) Complete(ctx context.Context, w http.ResponseWriter, r *http.Request) (*auth.VerifiedToken, error) {
	ctx, span := telemetry.StartSpan(ctx, "authgate/authn", "authn.CodeFlow.Complete",
		attribute.String(telemetry.AttrRealm, f.realm.Realm),
	)
	defer span.End()

	q := r.URL.Query()
	if upstreamErr := q.Get(ErrorParam); upstreamErr != "" {
		f.rp.ClearStateCookie(w)
		err := fmt.Errorf("%w: %s: %s", auth.ErrUpstreamDenied, upstreamErr, q.Get(ErrorDescriptionParam))
		telemetry.RecordError(span, err)
		return nil, err
	}

	if err := f.rp.VerifyStateCookie(r, q.Get(StateParam)); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	// The state is single use.
	f.rp.ClearStateCookie(w)

	if f.exchangeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.exchangeTimeout)
		defer cancel()
	}

	start := time.Now()
	token, err := f.rp.Exchange(ctx, q.Get(CodeParam), CallbackRedirectURL(r))
	f.metrics.RecordExchange(ctx, err == nil, float64(time.Since(start).Milliseconds()))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	verified, err := f.verifier.Verify(ctx, token.AccessToken, f.realm)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			err = fmt.Errorf("%w: %w", auth.ErrInvalidToken, err)
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String(telemetry.AttrPrincipalName, verified.Username))
	return verified, nil
}

// RequestURL reconstructs the absolute URL the client requested.
func RequestURL(r *http.Request) string {
	u := url.URL{
		Scheme:   "http",
		Host:     r.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	if auth.IsSecureRequest(r) {
		u.Scheme = "https"
	}
	return u.String()
}

// CallbackRedirectURL returns the callback URL with the OAuth parameters
// removed, which is both the redirect_uri sent in phase 1 and the URL the
// browser is sent back to after login.
func CallbackRedirectURL(r *http.Request) string {
	u, err := url.Parse(RequestURL(r))
	if err != nil {
		return RequestURL(r)
	}
	q := u.Query()
	for _, p := range callbackParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
