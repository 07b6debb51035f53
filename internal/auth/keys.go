package auth

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// StaticKeySource verifies every token with one configured realm key.
type StaticKeySource struct {
	key any
}

// NewStaticKeySource parses a realm public key given either as PEM or as the
// bare base64 DER body realm consoles usually export.
func NewStaticKeySource(encoded string) (*StaticKeySource, error) {
	key, err := ParseRealmPublicKey(encoded)
	if err != nil {
		return nil, err
	}
	return &StaticKeySource{key: key}, nil
}

// Key returns the configured key regardless of the token's kid.
func (s *StaticKeySource) Key(_ context.Context, _ *jwt.Token) (any, error) {
	return s.key, nil
}

// ParseRealmPublicKey decodes a PKIX public key from PEM or bare base64 DER.
func ParseRealmPublicKey(encoded string) (any, error) {
	encoded = strings.TrimSpace(encoded)

	var der []byte
	if strings.Contains(encoded, "-----BEGIN") {
		block, _ := pem.Decode([]byte(encoded))
		if block == nil {
			return nil, fmt.Errorf("%w: realm public key is not valid PEM", ErrConfiguration)
		}
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: decode realm public key: %w", ErrConfiguration, err)
		}
		der = decoded
	}

	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse realm public key: %w", ErrConfiguration, err)
	}
	return key, nil
}

const (
	jwksCacheTTL        = 10 * time.Minute
	jwksMinRefreshDelay = 10 * time.Second
)

// JWKSKeySource resolves keys by kid from a remote JWKS document. Fetched
// sets are cached; an unknown kid triggers at most one refetch per
// jwksMinRefreshDelay.
type JWKSKeySource struct {
	url    string
	client *http.Client
	cache  *expirable.LRU[string, *jose.JSONWebKeySet]

	mu          sync.Mutex
	lastRefresh time.Time
}

// NewJWKSKeySource creates a key source for the JWKS served at url.
func NewJWKSKeySource(url string, client *http.Client) *JWKSKeySource {
	if client == nil {
		client = http.DefaultClient
	}
	return &JWKSKeySource{
		url:    url,
		client: client,
		cache:  expirable.NewLRU[string, *jose.JSONWebKeySet](1, nil, jwksCacheTTL),
	}
}

// Key returns the public key matching the token's kid header.
func (s *JWKSKeySource) Key(ctx context.Context, token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)

	set, err := s.keySet(ctx, false)
	if err != nil {
		return nil, err
	}
	if key, ok := lookupKey(set, kid); ok {
		return key, nil
	}

	// Signing keys rotate; refetch once before giving up on the kid.
	set, err = s.keySet(ctx, true)
	if err != nil {
		return nil, err
	}
	if key, ok := lookupKey(set, kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("no signing key for kid %q", kid)
}

func lookupKey(set *jose.JSONWebKeySet, kid string) (any, bool) {
	if kid == "" {
		if len(set.Keys) == 1 {
			return set.Keys[0].Key, true
		}
		return nil, false
	}
	keys := set.Key(kid)
	if len(keys) == 0 {
		return nil, false
	}
	return keys[0].Key, true
}

func (s *JWKSKeySource) keySet(ctx context.Context, force bool) (*jose.JSONWebKeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.cache.Get(s.url); ok {
		if !force || time.Since(s.lastRefresh) < jwksMinRefreshDelay {
			return set, nil
		}
	}

	set, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Add(s.url, set)
	s.lastRefresh = time.Now()
	return set, nil
}

func (s *JWKSKeySource) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	return &set, nil
}
