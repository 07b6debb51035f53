package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/terraconstructs/authgate/internal/auth"
	"github.com/terraconstructs/authgate/internal/db/models"
	"github.com/uptrace/bun"
)

// BunSessionRepository implements SessionRepository using Bun ORM
type BunSessionRepository struct {
	db *bun.DB
}

// NewBunSessionRepository creates a new Bun-based session repository
func NewBunSessionRepository(db *bun.DB) *BunSessionRepository {
	return &BunSessionRepository{db: db}
}

// Create inserts a new session
func (r *BunSessionRepository) Create(ctx context.Context, session *models.Session) error {
	_, err := r.db.NewInsert().
		Model(session).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetByTokenHash retrieves a live session by its token hash
// This is the primary lookup method for authentication
func (r *BunSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	session := new(models.Session)
	err := r.db.NewSelect().
		Model(session).
		Where("token_hash = ?", tokenHash).
		Where("expires_at > ?", time.Now()).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return session, nil
}

// ListByUsername retrieves all live sessions registered for a user
func (r *BunSessionRepository) ListByUsername(ctx context.Context, username string) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.NewSelect().
		Model(&sessions).
		Where("username = ?", username).
		Where("expires_at > ?", time.Now()).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get user sessions: %w", err)
	}
	return sessions, nil
}

// List retrieves all live sessions (admin operation)
func (r *BunSessionRepository) List(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.NewSelect().
		Model(&sessions).
		Where("expires_at > ?", time.Now()).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// SetUsername registers the session under username
func (r *BunSessionRepository) SetUsername(ctx context.Context, id, username string) error {
	res, err := r.db.NewUpdate().
		Model((*models.Session)(nil)).
		Set("username = ?", username).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set session username: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrSessionNotFound
	}
	return nil
}

// Touch updates last_used_at and slides expires_at for a session
func (r *BunSessionRepository) Touch(ctx context.Context, id string, usedAt, expiresAt time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*models.Session)(nil)).
		Set("last_used_at = ?", usedAt).
		Set("expires_at = ?", expiresAt).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Delete removes a session; deleting a missing session is a no-op
func (r *BunSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUsername removes every session registered for a user
func (r *BunSessionRepository) DeleteByUsername(ctx context.Context, username string) (int, error) {
	// Sessions without a registered user are not owned by the empty name.
	if username == "" {
		return 0, nil
	}
	res, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("username = ?", username).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return affected(res), nil
}

// DeleteAll removes every session
func (r *BunSessionRepository) DeleteAll(ctx context.Context) (int, error) {
	res, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("1 = 1").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all sessions: %w", err)
	}
	return affected(res), nil
}

// DeleteExpired deletes all sessions expired at now
// Should be run periodically by a cleanup job
func (r *BunSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return affected(res), nil
}

func affected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
