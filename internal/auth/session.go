package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// SessionCookieName carries the opaque session token.
	SessionCookieName = "authgate.session"

	// DefaultSessionTimeout is the idle lifetime of a session when none is configured.
	DefaultSessionTimeout = 30 * time.Minute

	// TokenLength is the length of generated session tokens in bytes
	TokenLength = 32
)

// GenerateSessionToken generates a cryptographically secure random session token.
// Returns: token (hex string), token hash (SHA256 hex), error
func GenerateSessionToken() (string, string, error) {
	tokenBytes := make([]byte, TokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("generate random token: %w", err)
	}

	token := hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken hashes a session token for storage/lookup
func HashSessionToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// CalculateExpiry returns the instant a session touched at t stops being valid.
func CalculateExpiry(t time.Time, timeout time.Duration) time.Time {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return t.Add(timeout)
}
