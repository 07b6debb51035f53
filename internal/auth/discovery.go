package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"
)

// DiscoveryVerifier verifies tokens against the JWKS advertised by the realm
// issuer's OIDC discovery document.
type DiscoveryVerifier struct {
	tokenHandler *oidctoken.TokenHandler[map[string]any]
}

// NewDiscoveryVerifier creates a verifier for realm.Issuer. Keys are loaded
// lazily so the gateway can start before the issuer is reachable.
func NewDiscoveryVerifier(realm RealmMetadata) (*DiscoveryVerifier, error) {
	if realm.Issuer == "" {
		return nil, fmt.Errorf("%w: oidc issuer is required", ErrConfiguration)
	}

	oidcOpts := []options.Option{
		options.WithIssuer(realm.Issuer),
		options.WithLazyLoadJwks(true),
	}
	if realm.Audience != "" {
		oidcOpts = append(oidcOpts, options.WithRequiredAudience(realm.Audience))
	}

	tokenHandler, err := oidctoken.New[map[string]any](nil, oidcOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialize oidc token handler: %w", err)
	}
	return &DiscoveryVerifier{tokenHandler: tokenHandler}, nil
}

// Verify validates token and resolves its identity for realm.
func (v *DiscoveryVerifier) Verify(ctx context.Context, token string, realm RealmMetadata) (*VerifiedToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims, err := v.tokenHandler.ParseToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return VerifiedFromClaims(token, claims, realm)
}
