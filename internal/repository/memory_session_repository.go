package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/terraconstructs/authgate/internal/auth"
	"github.com/terraconstructs/authgate/internal/db/models"
)

// DefaultMaxSessions bounds the in-memory store when no size is configured.
const DefaultMaxSessions = 10000

// MemorySessionRepository keeps sessions in a bounded, expiring LRU keyed by
// token hash, plus a username index. It is the process-local store used when
// no database is configured.
type MemorySessionRepository struct {
	mu         sync.Mutex
	sessions   *expirable.LRU[string, *models.Session]
	byID       map[string]string              // id → token hash
	byUsername map[string]map[string]struct{} // username → token hashes
}

// NewMemorySessionRepository creates an in-memory repository holding at most
// maxSessions sessions; entries are dropped after ttl even if never swept.
func NewMemorySessionRepository(maxSessions int, ttl time.Duration) *MemorySessionRepository {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = auth.DefaultSessionTimeout
	}
	return &MemorySessionRepository{
		sessions:   expirable.NewLRU[string, *models.Session](maxSessions, nil, ttl),
		byID:       make(map[string]string),
		byUsername: make(map[string]map[string]struct{}),
	}
}

func (r *MemorySessionRepository) Create(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cloneSession(session)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if stored.LastUsedAt.IsZero() {
		stored.LastUsedAt = stored.CreatedAt
	}
	r.sessions.Add(stored.TokenHash, stored)
	r.byID[stored.ID] = stored.TokenHash
	r.index(stored.Username, stored.TokenHash)
	return nil
}

func (r *MemorySessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.live(tokenHash, time.Now())
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (r *MemorySessionRepository) ListByUsername(_ context.Context, username string) ([]models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	result := []models.Session{}
	for hash := range r.byUsername[username] {
		if session, ok := r.live(hash, now); ok {
			result = append(result, *cloneSession(session))
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (r *MemorySessionRepository) List(_ context.Context) ([]models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	result := []models.Session{}
	for _, hash := range r.sessions.Keys() {
		if session, ok := r.live(hash, now); ok {
			result = append(result, *cloneSession(session))
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (r *MemorySessionRepository) SetUsername(_ context.Context, id, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash, ok := r.byID[id]
	if !ok {
		return auth.ErrSessionNotFound
	}
	session, ok := r.sessions.Peek(hash)
	if !ok {
		r.forget(id, hash, "")
		return auth.ErrSessionNotFound
	}

	r.unindex(session.Username, hash)
	session.Username = username
	r.index(username, hash)
	return nil
}

func (r *MemorySessionRepository) Touch(_ context.Context, id string, usedAt, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash, ok := r.byID[id]
	if !ok {
		return nil
	}
	session, ok := r.sessions.Peek(hash)
	if !ok {
		return nil
	}
	session.LastUsedAt = usedAt
	session.ExpiresAt = expiresAt
	// Re-adding refreshes the LRU entry's own TTL alongside ExpiresAt.
	r.sessions.Add(hash, session)
	return nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash, ok := r.byID[id]
	if !ok {
		return nil
	}
	username := ""
	if session, ok := r.sessions.Peek(hash); ok {
		username = session.Username
	}
	r.sessions.Remove(hash)
	r.forget(id, hash, username)
	return nil
}

func (r *MemorySessionRepository) DeleteByUsername(_ context.Context, username string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for hash := range r.byUsername[username] {
		if session, ok := r.sessions.Peek(hash); ok {
			delete(r.byID, session.ID)
			if r.sessions.Remove(hash) {
				removed++
			}
		}
	}
	delete(r.byUsername, username)
	return removed, nil
}

func (r *MemorySessionRepository) DeleteAll(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.sessions.Len()
	r.sessions.Purge()
	clear(r.byID)
	clear(r.byUsername)
	return removed, nil
}

func (r *MemorySessionRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, hash := range r.byID {
		session, ok := r.sessions.Peek(hash)
		if !ok {
			// Evicted by the LRU already; only the indexes remain.
			r.forget(id, hash, "")
			continue
		}
		if session.Expired(now) {
			r.sessions.Remove(hash)
			r.forget(id, hash, session.Username)
			removed++
		}
	}
	for username, hashes := range r.byUsername {
		for hash := range hashes {
			if !r.sessions.Contains(hash) {
				delete(hashes, hash)
			}
		}
		if len(hashes) == 0 {
			delete(r.byUsername, username)
		}
	}
	return removed, nil
}

// live returns the session for hash when present and unexpired. Caller holds r.mu.
func (r *MemorySessionRepository) live(hash string, now time.Time) (*models.Session, bool) {
	session, ok := r.sessions.Get(hash)
	if !ok || session.Expired(now) {
		return nil, false
	}
	return session, true
}

func (r *MemorySessionRepository) index(username, hash string) {
	if username == "" {
		return
	}
	hashes, ok := r.byUsername[username]
	if !ok {
		hashes = make(map[string]struct{})
		r.byUsername[username] = hashes
	}
	hashes[hash] = struct{}{}
}

func (r *MemorySessionRepository) unindex(username, hash string) {
	if hashes, ok := r.byUsername[username]; ok {
		delete(hashes, hash)
		if len(hashes) == 0 {
			delete(r.byUsername, username)
		}
	}
}

func (r *MemorySessionRepository) forget(id, hash, username string) {
	delete(r.byID, id)
	if username != "" {
		r.unindex(username, hash)
	}
}

func cloneSession(s *models.Session) *models.Session {
	c := *s
	c.Roles = append([]string(nil), s.Roles...)
	return &c
}

func sortNewestFirst(sessions []models.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}
