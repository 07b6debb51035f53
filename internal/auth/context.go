package auth

import "context"

// SessionContextAttribute is the request attribute key the session context is
// published under.
const SessionContextAttribute = "authgate.session-context"

// SessionContext carries the caller's raw token and the realm metadata so
// downstream code can propagate the caller's identity on outbound calls.
type SessionContext struct {
	Token string
	Realm RealmMetadata
}

type principalContextKey struct{}

type authTypeContextKey struct{}

type sessionContextKey struct{}

// SetPrincipalContext stores the bound principal and its auth type on the context.
func SetPrincipalContext(ctx context.Context, principal Principal, authType string) context.Context {
	ctx = context.WithValue(ctx, principalContextKey{}, principal)
	return context.WithValue(ctx, authTypeContextKey{}, authType)
}

// PrincipalFromContext retrieves the principal bound to the request.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}

// AuthTypeFromContext retrieves the auth-type tag bound with the principal.
func AuthTypeFromContext(ctx context.Context) string {
	authType, _ := ctx.Value(authTypeContextKey{}).(string)
	return authType
}

// SetSessionContext publishes the session context for downstream consumers.
func SetSessionContext(ctx context.Context, sc *SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sc)
}

// SessionContextFrom retrieves the published session context, if any.
func SessionContextFrom(ctx context.Context) (*SessionContext, bool) {
	sc, ok := ctx.Value(sessionContextKey{}).(*SessionContext)
	return sc, ok && sc != nil
}
