package repository

import (
	"context"
	"time"

	"github.com/terraconstructs/authgate/internal/db/models"
)

// SessionRepository defines the persistence contract for sessions.
// Lookups never return an expired session; deletes of missing rows are not errors.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	ListByUsername(ctx context.Context, username string) ([]models.Session, error)
	List(ctx context.Context) ([]models.Session, error)
	// SetUsername registers the session under username, replacing any previous owner.
	SetUsername(ctx context.Context, id, username string) error
	// Touch records use of the session and slides its expiry.
	Touch(ctx context.Context, id string, usedAt, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByUsername(ctx context.Context, username string) (int, error)
	DeleteAll(ctx context.Context) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
