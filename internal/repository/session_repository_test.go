package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/authgate/internal/auth"
	"github.com/terraconstructs/authgate/internal/db/bunx"
	"github.com/terraconstructs/authgate/internal/db/models"
	"github.com/terraconstructs/authgate/internal/migrations"
)

// repositories returns every SessionRepository implementation, each empty.
func repositories(t *testing.T) map[string]SessionRepository {
	t.Helper()

	db, err := bunx.NewDB(bunx.MemoryDSN, bunx.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	ctx := context.Background()
	_, err = migrations.Apply(ctx, db)
	require.NoError(t, err)

	bunRepo := NewBunSessionRepository(db)
	_, err = bunRepo.DeleteAll(ctx)
	require.NoError(t, err)

	return map[string]SessionRepository{
		"memory": NewMemorySessionRepository(100, time.Hour),
		"bun":    bunRepo,
	}
}

func newSession(username string, expiresIn time.Duration) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:          uuid.NewString(),
		TokenHash:   uuid.NewString(),
		Username:    username,
		AccessToken: username + "-token",
		Roles:       []string{"user"},
		AuthType:    auth.AuthTypeOAuth,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(expiresIn),
	}
}

func TestSessionRepository_CreateAndGet(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newSession("alice", time.Hour)
			require.NoError(t, repo.Create(ctx, s))

			got, err := repo.GetByTokenHash(ctx, s.TokenHash)
			require.NoError(t, err)
			assert.Equal(t, s.ID, got.ID)
			assert.Equal(t, "alice", got.Username)
			assert.Equal(t, "alice-token", got.AccessToken)
			assert.Equal(t, []string{"user"}, got.Roles)

			_, err = repo.GetByTokenHash(ctx, "unknown")
			assert.ErrorIs(t, err, auth.ErrSessionNotFound)

			expired := newSession("alice", -time.Minute)
			require.NoError(t, repo.Create(ctx, expired))
			_, err = repo.GetByTokenHash(ctx, expired.TokenHash)
			assert.ErrorIs(t, err, auth.ErrSessionNotFound, "expired sessions are never returned")
		})
	}
}

func TestSessionRepository_SetUsername(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newSession("", time.Hour)
			require.NoError(t, repo.Create(ctx, s))

			require.NoError(t, repo.SetUsername(ctx, s.ID, "alice"))
			require.NoError(t, repo.SetUsername(ctx, s.ID, "bob"))

			alice, err := repo.ListByUsername(ctx, "alice")
			require.NoError(t, err)
			assert.Empty(t, alice)

			bob, err := repo.ListByUsername(ctx, "bob")
			require.NoError(t, err)
			require.Len(t, bob, 1)
			assert.Equal(t, s.ID, bob[0].ID)

			assert.ErrorIs(t, repo.SetUsername(ctx, "missing", "carol"), auth.ErrSessionNotFound)
		})
	}
}

func TestSessionRepository_Touch(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newSession("alice", time.Minute)
			require.NoError(t, repo.Create(ctx, s))

			usedAt := time.Now()
			expiresAt := usedAt.Add(2 * time.Hour)
			require.NoError(t, repo.Touch(ctx, s.ID, usedAt, expiresAt))

			got, err := repo.GetByTokenHash(ctx, s.TokenHash)
			require.NoError(t, err)
			assert.WithinDuration(t, expiresAt, got.ExpiresAt, time.Second)
			assert.WithinDuration(t, usedAt, got.LastUsedAt, time.Second)

			assert.NoError(t, repo.Touch(ctx, "missing", usedAt, expiresAt))
		})
	}
}

func TestSessionRepository_Deletes(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a1 := newSession("alice", time.Hour)
			a2 := newSession("alice", time.Hour)
			b := newSession("bob", time.Hour)
			c := newSession("carol", time.Hour)
			pending := newSession("", time.Hour)
			for _, s := range []*models.Session{a1, a2, b, c, pending} {
				require.NoError(t, repo.Create(ctx, s))
			}

			removed, err := repo.DeleteByUsername(ctx, "")
			require.NoError(t, err)
			assert.Zero(t, removed, "the empty name owns no sessions")
			require.NoError(t, repo.Delete(ctx, pending.ID))

			removed, err = repo.DeleteByUsername(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			removed, err = repo.DeleteByUsername(ctx, "alice")
			require.NoError(t, err)
			assert.Zero(t, removed)

			require.NoError(t, repo.Delete(ctx, b.ID))
			require.NoError(t, repo.Delete(ctx, b.ID), "deleting a missing session is a no-op")

			all, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, c.ID, all[0].ID)

			removed, err = repo.DeleteAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			removed, err = repo.DeleteAll(ctx)
			require.NoError(t, err)
			assert.Zero(t, removed)
		})
	}
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stale := newSession("stale", -time.Minute)
			fresh := newSession("fresh", time.Hour)
			require.NoError(t, repo.Create(ctx, stale))
			require.NoError(t, repo.Create(ctx, fresh))

			removed, err := repo.DeleteExpired(ctx, time.Now())
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			staleSessions, err := repo.ListByUsername(ctx, "stale")
			require.NoError(t, err)
			assert.Empty(t, staleSessions)

			_, err = repo.GetByTokenHash(ctx, fresh.TokenHash)
			assert.NoError(t, err)
		})
	}
}

func TestMemorySessionRepository_Bounded(t *testing.T) {
	repo := NewMemorySessionRepository(2, time.Hour)
	ctx := context.Background()

	first := newSession("alice", time.Hour)
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, newSession("bob", time.Hour)))
	require.NoError(t, repo.Create(ctx, newSession("carol", time.Hour)))

	_, err := repo.GetByTokenHash(ctx, first.TokenHash)
	assert.ErrorIs(t, err, auth.ErrSessionNotFound, "least recently used session is evicted")

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	alice, err := repo.ListByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, alice)
}
