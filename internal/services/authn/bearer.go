package authn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"

	"github.com/terraconstructs/authgate/internal/auth"
)

// AccessTokenParam is the query parameter a bearer token may be passed in
// when the Authorization header is absent.
const AccessTokenParam = "access_token"

// BearerAuthenticator authenticates a request from a presented bearer token.
// It never binds anything; binding is the caller's job.
type BearerAuthenticator struct {
	verifier auth.TokenVerifier
	realm    auth.RealmMetadata
}

// NewBearerAuthenticator creates a BearerAuthenticator verifying against realm.
func NewBearerAuthenticator(verifier auth.TokenVerifier, realm auth.RealmMetadata) *BearerAuthenticator {
	return &BearerAuthenticator{verifier: verifier, realm: realm}
}

// Authenticate verifies the bearer token carried by r.
//
// Returns:
//   - (nil, nil) if no token is present and challenge is false
//   - (nil, auth.ErrChallengeRequired) if no token is present and challenge is true
//   - (nil, auth.ErrInvalidToken) if the token fails verification
//   - (*VerifiedToken, nil) on success
func (b *BearerAuthenticator) Authenticate(ctx context.Context, challenge bool, r *http.Request) (*auth.VerifiedToken, error) {
	token := ExtractBearerToken(r)
	if token == "" {
		if challenge {
			return nil, auth.ErrChallengeRequired
		}
		return nil, nil
	}

	verified, err := b.verifier.Verify(ctx, token, b.realm)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidToken, err)
	}
	return verified, nil
}

// ExtractBearerToken returns the token from the Authorization: Bearer header,
// or else from the access_token query parameter. It returns "" when neither
// carries one.
func ExtractBearerToken(r *http.Request) string {
	tokenStrings := [][]options.TokenStringOption{
		{}, // Default: Authorization header
	}
	if token, err := oidctoken.GetTokenString(r.Header.Get, tokenStrings); err == nil {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(AccessTokenParam))
}
