package authn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/terraconstructs/authgate/internal/auth"
	"github.com/terraconstructs/authgate/internal/db/models"
	"github.com/terraconstructs/authgate/internal/services/session"
	"github.com/terraconstructs/authgate/internal/telemetry"
)

// Decision paths, used as the auth.method metric attribute.
const (
	MethodBearer  = "bearer"
	MethodSession = "session"
	MethodCode    = "code"
	MethodLogout  = "logout"
)

// SessionManager is the session lifecycle the decider drives.
type SessionManager interface {
	SessionStore
	Existing(ctx context.Context, r *http.Request) (*models.Session, error)
	Create(ctx context.Context, w http.ResponseWriter, r *http.Request, verified *auth.VerifiedToken) (*models.Session, error)
	Login(ctx context.Context, s *models.Session, username string) error
	Invalidate(ctx context.Context, id string) error
}

// Responder writes the denial for a request left unauthenticated.
type Responder func(w http.ResponseWriter, r *http.Request, err error)

// UnauthorizedResponder returns a Responder answering 401 with a Bearer
// challenge for realm.
func UnauthorizedResponder(realm string) Responder {
	return func(w http.ResponseWriter, _ *http.Request, _ error) {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", realm))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

// DeciderOptions wires a Decider.
type DeciderOptions struct {
	Bearer   *BearerAuthenticator
	Sessions SessionManager
	CodeFlow *CodeFlow
	Binder   *Binder
	Logout   http.Handler
	// Unauthenticated writes the denial for failed logins. Defaults to a 401
	// Bearer challenge.
	Unauthenticated Responder
	Logger          *zap.Logger
	Metrics         *telemetry.AuthMetrics
}

// Decider is the per-request authentication orchestrator. For each request
// it tries, in order: remote logout, bearer token, existing session, and
// finally the authorization-code flow.
type Decider struct {
	bearer          *BearerAuthenticator
	sessions        SessionManager
	flow            *CodeFlow
	binder          *Binder
	logout          http.Handler
	unauthenticated Responder
	logger          *zap.Logger
	metrics         *telemetry.AuthMetrics

	acquire func(http.ResponseWriter, *http.Request) *auth.RequestContext
}

// NewDecider creates a Decider from opts.
func NewDecider(opts DeciderOptions) *Decider {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	unauthenticated := opts.Unauthenticated
	if unauthenticated == nil {
		unauthenticated = UnauthorizedResponder("")
	}
	return &Decider{
		bearer:          opts.Bearer,
		sessions:        opts.Sessions,
		flow:            opts.CodeFlow,
		binder:          opts.Binder,
		logout:          opts.Logout,
		unauthenticated: unauthenticated,
		logger:          logger.Named("authn"),
		metrics:         opts.Metrics,
		acquire:         auth.AcquireRequestContext,
	}
}

// Decide authenticates r and, when a principal was bound, hands the request
// to next. Every other outcome writes its own response. The request context
// is released on every path.
func (d *Decider) Decide(w http.ResponseWriter, r *http.Request, next http.Handler) {
	rc := d.acquire(w, r)
	defer rc.Release()

	ctx := r.Context()

	// Step 1: remote logout
	if strings.HasSuffix(r.URL.Path, LogoutPathSuffix) {
		d.logout.ServeHTTP(w, r)
		return
	}

	// Step 2: bearer token, no challenge
	verified, err := d.bearer.Authenticate(ctx, false, r)
	if err != nil {
		d.fail(w, r, MethodBearer, err)
		return
	}
	if verified != nil {
		d.binder.Bind(rc, auth.FreshlyVerified{Verified: *verified})
		d.metrics.RecordDecision(ctx, MethodBearer, telemetry.OutcomeAuthenticated)
		next.ServeHTTP(rc.Writer, rc.Request)
		return
	}

	// Step 3: existing session, token not re-verified
	existing, err := d.sessions.Existing(ctx, r)
	switch {
	case err == nil && existing.Username != "":
		d.binder.Bind(rc, auth.SessionCached{Record: session.Record(existing)})
		d.metrics.RecordDecision(ctx, MethodSession, telemetry.OutcomeAuthenticated)
		next.ServeHTTP(rc.Writer, rc.Request)
		return
	case err == nil:
		// Created but never logged in; the code flow below replaces it.
		if err := d.sessions.Invalidate(ctx, existing.ID); err != nil {
			d.logger.Warn("failed to drop anonymous session", zap.String("session_id", existing.ID), zap.Error(err))
		}
	case !errors.Is(err, auth.ErrSessionNotFound):
		d.fail(w, r, MethodSession, err)
		return
	}

	// Step 4: authorization-code flow owns the response
	if !d.flow.IsCallback(r) {
		if err := d.flow.Challenge(w, r); err != nil {
			d.fail(w, r, MethodCode, err)
			return
		}
		d.metrics.RecordDecision(ctx, MethodCode, telemetry.OutcomeRedirect)
		return
	}

	verified, err = d.flow.Complete(ctx, w, r)
	if err != nil {
		d.fail(w, r, MethodCode, err)
		return
	}

	created, err := d.sessions.Create(ctx, w, r, verified)
	if err != nil {
		d.fail(w, r, MethodCode, fmt.Errorf("create session: %w", err))
		return
	}
	if err := d.sessions.Login(ctx, created, verified.Username); err != nil {
		// an unregistered session would escape per-user logout
		if invErr := d.sessions.Invalidate(ctx, created.ID); invErr != nil {
			d.logger.Error("discard unregistered session", zap.String("session_id", created.ID), zap.Error(invErr))
		}
		d.fail(w, r, MethodCode, err)
		return
	}

	d.binder.Bind(rc, auth.FreshlyVerified{Verified: *verified})
	d.metrics.RecordDecision(ctx, MethodCode, telemetry.OutcomeAuthenticated)
	d.logger.Info("login", zap.String("username", verified.Username), zap.String("session_id", created.ID))

	http.Redirect(w, rc.Request, CallbackRedirectURL(r), http.StatusFound)
}

// fail maps an authentication error to its response. Login failures are
// downgraded to unauthenticated and answered by the responder.
func (d *Decider) fail(w http.ResponseWriter, r *http.Request, method string, err error) {
	ctx := r.Context()
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		d.logger.Error("authorization server unavailable", fields...)
		d.metrics.RecordDecision(ctx, method, telemetry.OutcomeError)
		http.Error(w, "authorization server unavailable", http.StatusInternalServerError)
	case errors.Is(err, auth.ErrUpstreamDenied):
		d.logger.Warn("authorization denied by server", fields...)
		d.metrics.RecordDecision(ctx, method, telemetry.OutcomeDenied)
		http.Error(w, "authorization denied", http.StatusBadRequest)
	case errors.Is(err, auth.ErrForbidden):
		d.logger.Warn("authentication refused", fields...)
		d.metrics.RecordDecision(ctx, method, telemetry.OutcomeDenied)
		http.Error(w, "SSL required", http.StatusForbidden)
	case auth.IsLoginFailure(err):
		d.logger.Info("authentication failed", fields...)
		d.metrics.RecordDecision(ctx, method, telemetry.OutcomeDenied)
		d.unauthenticated(w, r, err)
	default:
		d.logger.Error("authentication error", fields...)
		d.metrics.RecordDecision(ctx, method, telemetry.OutcomeError)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
