package auth

import "errors"

// Authentication error taxonomy. Callers match with errors.Is; producers wrap
// with fmt.Errorf("%w: ...") so the underlying cause stays visible in logs.
var (
	// ErrInvalidToken reports a malformed, expired or unverifiable credential.
	ErrInvalidToken = errors.New("invalid token")

	// ErrChallengeRequired reports that no bearer token was presented on a
	// path that demands one. It is never returned for a bad token.
	ErrChallengeRequired = errors.New("bearer token required")

	// ErrCsrfMismatch reports a callback whose state does not match the
	// value bound to the browser before the redirect.
	ErrCsrfMismatch = errors.New("state mismatch")

	// ErrUpstreamUnavailable reports a transport failure or timeout while
	// talking to the remote authorization server.
	ErrUpstreamUnavailable = errors.New("authorization server unavailable")

	// ErrConfiguration reports missing or invalid realm configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrForbidden reports an authenticated principal lacking a required role.
	ErrForbidden = errors.New("forbidden")

	// ErrSessionNotFound reports a session id with no live session behind it.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUpstreamDenied reports an error parameter returned by the
	// authorization server on the callback.
	ErrUpstreamDenied = errors.New("authorization denied")
)

// IsLoginFailure reports whether err belongs to the class of failures that
// downgrade a request to unauthenticated instead of surfacing as a server error.
func IsLoginFailure(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrCsrfMismatch) ||
		errors.Is(err, ErrChallengeRequired) ||
		errors.Is(err, ErrUpstreamDenied)
}
