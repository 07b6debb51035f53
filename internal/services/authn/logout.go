package authn

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/terraconstructs/authgate/internal/auth"
	"github.com/terraconstructs/authgate/internal/telemetry"
)

// LogoutPathSuffix marks a request as a remote logout call.
const LogoutPathSuffix = "j_oauth_remote_logout"

// LogoutUserParam selects a single user to log out.
const LogoutUserParam = "user"

// SessionStore is the session registry the logout procedure mutates.
type SessionStore interface {
	Logout(ctx context.Context, username string) error
	LogoutAll(ctx context.Context) error
}

// LogoutHandler serves the administrative remote logout endpoint.
//
// The caller must present a bearer token that is verified on this request
// (a session never suffices) and carry the admin role. A user parameter, in
// the query or a form body, logs out that user's sessions; an empty one logs
// out nobody. Without the parameter every session is logged out. Once the
// caller is authorized the response is 204 even if the store fails; the
// failure is logged in full.
type LogoutHandler struct {
	bearer   *BearerAuthenticator
	enforcer *auth.RoleEnforcer
	store    SessionStore
	realm    string
	logger   *zap.Logger
	metrics  *telemetry.AuthMetrics
}

// NewLogoutHandler creates the remote logout handler.
func NewLogoutHandler(bearer *BearerAuthenticator, enforcer *auth.RoleEnforcer, store SessionStore, realm string, logger *zap.Logger, metrics *telemetry.AuthMetrics) *LogoutHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogoutHandler{
		bearer:   bearer,
		enforcer: enforcer,
		store:    store,
		realm:    realm,
		logger:   logger.Named("logout"),
		metrics:  metrics,
	}
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "authgate/authn", "authn.RemoteLogout")
	defer span.End()

	// The user parameter may arrive in the query or a form body. Only an
	// absent parameter selects bulk logout; an empty value names no one.
	parseErr := r.ParseForm()
	single := r.Form.Has(LogoutUserParam)
	user := r.Form.Get(LogoutUserParam)
	scope := "all"
	if single || parseErr != nil {
		scope = "user"
		span.SetAttributes(attribute.String(telemetry.AttrLogoutUser, user))
	}

	// Step 1: the caller's own identity, verified cryptographically
	verified, err := h.bearer.Authenticate(ctx, true, r)
	if err != nil {
		h.logger.Info("remote logout: bearer failed", zap.Error(err))
		telemetry.RecordError(span, err)
		h.metrics.RecordLogout(ctx, scope, telemetry.OutcomeDenied)
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", h.realm))
		http.Error(w, "bearer failed", http.StatusUnauthorized)
		return
	}

	// Step 2: admin role
	principal := auth.FreshlyVerified{Verified: *verified}
	allowed, err := h.enforcer.Allowed(principal, auth.ObjectSessions, auth.ActionLogout)
	if err != nil || !allowed {
		if err == nil {
			err = fmt.Errorf("%w: %s lacks the admin role", auth.ErrForbidden, principal.Name())
		}
		h.logger.Warn("remote logout: forbidden", zap.String("caller", principal.Name()), zap.Error(err))
		telemetry.RecordError(span, err)
		h.metrics.RecordLogout(ctx, scope, telemetry.OutcomeDenied)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// A request whose parameters cannot be read never falls back to bulk logout.
	if parseErr != nil {
		h.logger.Warn("remote logout: malformed parameters", zap.String("caller", principal.Name()), zap.Error(parseErr))
		telemetry.RecordError(span, parseErr)
		h.metrics.RecordLogout(ctx, scope, telemetry.OutcomeError)
		http.Error(w, "malformed logout request", http.StatusBadRequest)
		return
	}

	// Step 3: single-user or bulk invalidation
	switch {
	case single && user == "":
		// names no one
	case single:
		err = h.store.Logout(ctx, user)
	default:
		err = h.store.LogoutAll(ctx)
	}

	// Step 4: always 204 once authorized
	outcome := telemetry.OutcomeAuthenticated
	if err != nil {
		outcome = telemetry.OutcomeError
		telemetry.RecordError(span, err)
		h.logger.Error("remote logout failed",
			zap.String("caller", principal.Name()),
			zap.String("scope", scope),
			zap.String("user", user),
			zap.Error(err),
		)
	} else {
		telemetry.AddEvent(span, "sessions.invalidated", attribute.String("scope", scope))
		h.logger.Info("remote logout",
			zap.String("caller", principal.Name()),
			zap.String("scope", scope),
			zap.String("user", user),
		)
	}
	h.metrics.RecordLogout(ctx, scope, outcome)
	w.WriteHeader(http.StatusNoContent)
}
