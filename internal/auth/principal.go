package auth

import (
	"slices"
	"time"
)

// AuthTypeOAuth is the auth-type tag set on every request this gateway binds.
const AuthTypeOAuth = "OAUTH"

// VerifiedToken is the result of a successful token verification.
type VerifiedToken struct {
	// Username is preferred_username when present, sub otherwise.
	Username string
	// Subject is the raw sub claim.
	Subject string
	// Token is the raw bearer token that was verified.
	Token string
	// Roles is the role set resolved for the configured realm or resource.
	Roles []string
	// ExpiresAt is the exp claim; zero when the token carries none.
	ExpiresAt time.Time
	// Claims holds every claim of the token.
	Claims map[string]any
}

// SessionRecord is the principal cached on an established session.
type SessionRecord struct {
	SessionID string
	Username  string
	Token     string
	Roles     []string
	AuthType  string
	ExpiresAt time.Time
}

// Principal is an identity bound to a request. It is either FreshlyVerified
// (a token checked on this request) or SessionCached (read from a session).
type Principal interface {
	Name() string
	Roles() []string
	Token() string
	HasRole(role string) bool

	principal()
}

// FreshlyVerified wraps a token verified during this request.
type FreshlyVerified struct {
	Verified VerifiedToken
}

func (p FreshlyVerified) Name() string { return p.Verified.Username }
func (p FreshlyVerified) Roles() []string { return slices.Clone(p.Verified.Roles) }
func (p FreshlyVerified) Token() string { return p.Verified.Token }
func (p FreshlyVerified) HasRole(role string) bool { return slices.Contains(p.Verified.Roles, role) }
func (FreshlyVerified) principal() {}

// SessionCached wraps the principal stored on an existing session.
type SessionCached struct {
	Record SessionRecord
}

func (p SessionCached) Name() string { return p.Record.Username }
func (p SessionCached) Roles() []string { return slices.Clone(p.Record.Roles) }
func (p SessionCached) Token() string { return p.Record.Token }
func (p SessionCached) HasRole(role string) bool { return slices.Contains(p.Record.Roles, role) }
func (SessionCached) principal() {}
