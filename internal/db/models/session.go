package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Session is an authenticated browser session established by the
// authorization-code flow.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:sess"`

	ID          string    `bun:"id,pk,type:varchar(36)"`
	TokenHash   string    `bun:"token_hash,notnull,unique"` // SHA256 hash of the session cookie token
	Username    string    `bun:"username,notnull"`          // Registered by login; "" until then
	AccessToken string    `bun:"access_token,type:text"`    // Raw token propagated downstream
	Roles       []string  `bun:"roles,type:jsonb"`
	AuthType    string    `bun:"auth_type,notnull"`
	ExpiresAt   time.Time `bun:"expires_at,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	LastUsedAt  time.Time `bun:"last_used_at,notnull,default:current_timestamp"`
	UserAgent   *string   `bun:"user_agent"`
	IPAddress   *string   `bun:"ip_address"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
