package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// TokenVerifier checks a raw bearer token against realm metadata and returns
// the verified identity. Every failure wraps ErrInvalidToken.
type TokenVerifier interface {
	Verify(ctx context.Context, token string, realm RealmMetadata) (*VerifiedToken, error)
}

// KeySource resolves the key that verifies a parsed token's signature.
type KeySource interface {
	Key(ctx context.Context, token *jwt.Token) (any, error)
}

// DefaultSigningMethods lists the asymmetric algorithms accepted by default.
var DefaultSigningMethods = []string{"RS256", "RS384", "RS512", "PS256", "ES256", "ES384", "EdDSA"}

// JWTVerifier verifies signed JWTs with golang-jwt against a KeySource.
type JWTVerifier struct {
	keys    KeySource
	leeway  time.Duration
	methods []string
}

// JWTVerifierOption customises a JWTVerifier.
type JWTVerifierOption func(*JWTVerifier)

// WithLeeway tolerates clock skew on exp, nbf and iat.
func WithLeeway(d time.Duration) JWTVerifierOption {
	return func(v *JWTVerifier) {
		v.leeway = d
	}
}

// WithSigningMethods restricts the accepted alg header values.
func WithSigningMethods(methods ...string) JWTVerifierOption {
	return func(v *JWTVerifier) {
		if len(methods) > 0 {
			v.methods = methods
		}
	}
}

// NewJWTVerifier builds a verifier backed by keys.
func NewJWTVerifier(keys KeySource, opts ...JWTVerifierOption) *JWTVerifier {
	v := &JWTVerifier{
		keys:    keys,
		leeway:  30 * time.Second,
		methods: DefaultSigningMethods,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify parses and validates token, then resolves its identity for realm.
func (v *JWTVerifier) Verify(ctx context.Context, token string, realm RealmMetadata) (*VerifiedToken, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if realm.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(realm.Issuer))
	}
	if realm.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(realm.Audience))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.keys.Key(ctx, t)
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token not valid", ErrInvalidToken)
	}

	return VerifiedFromClaims(token, claims, realm)
}

// tokenClaims is the subset of claims the gateway reads identity from.
type tokenClaims struct {
	Subject           string   `mapstructure:"sub"`
	PreferredUsername string   `mapstructure:"preferred_username"`
	Roles             []string `mapstructure:"roles"`
	RealmAccess       struct {
		Roles []string `mapstructure:"roles"`
	} `mapstructure:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `mapstructure:"roles"`
	} `mapstructure:"resource_access"`
}

// VerifiedFromClaims resolves username and roles from already verified claims.
// Resource roles are used when realm.ResourceName is set, realm roles
// otherwise; a flat roles claim is the fallback for both.
func VerifiedFromClaims(token string, claims map[string]any, realm RealmMetadata) (*VerifiedToken, error) {
	var tc tokenClaims
	if err := decodeClaims(claims, &tc); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %w", ErrInvalidToken, err)
	}

	username := tc.PreferredUsername
	if username == "" {
		username = tc.Subject
	}
	if username == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	var roles []string
	if realm.ResourceName != "" {
		roles = tc.ResourceAccess[realm.ResourceName].Roles
	} else {
		roles = tc.RealmAccess.Roles
	}
	if len(roles) == 0 {
		roles = tc.Roles
	}

	return &VerifiedToken{
		Username:  username,
		Subject:   tc.Subject,
		Token:     token,
		Roles:     append([]string(nil), roles...),
		ExpiresAt: expiryFromClaims(claims),
		Claims:    claims,
	}, nil
}

func decodeClaims(claims map[string]any, out *tokenClaims) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(claims)
}

func expiryFromClaims(claims map[string]any) time.Time {
	switch exp := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(exp), 0)
	case int64:
		return time.Unix(exp, 0)
	case json.Number:
		if n, err := exp.Int64(); err == nil {
			return time.Unix(n, 0)
		}
	case time.Time:
		return exp
	}
	return time.Time{}
}

// NewTokenVerifier picks the verification strategy configured for realm: a
// static realm key, a JWKS endpoint, or OIDC discovery on the issuer.
func NewTokenVerifier(realm RealmMetadata, client *http.Client) (TokenVerifier, error) {
	switch {
	case realm.PublicKeyPEM != "":
		keys, err := NewStaticKeySource(realm.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		return NewJWTVerifier(keys), nil
	case realm.JWKSURL != "":
		return NewJWTVerifier(NewJWKSKeySource(realm.JWKSURL, client)), nil
	case realm.Issuer != "":
		return NewDiscoveryVerifier(realm)
	default:
		return nil, errors.Join(ErrConfiguration,
			errors.New("realm needs one of public key, JWKS URL or issuer to verify tokens"))
	}
}
