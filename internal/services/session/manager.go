package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terraconstructs/authgate/internal/auth"
	"github.com/terraconstructs/authgate/internal/db/models"
	"github.com/terraconstructs/authgate/internal/repository"
)

// Options configures a Manager.
type Options struct {
	// Timeout is the idle lifetime of a session; each use slides it.
	Timeout time.Duration
	// SecureCookies forces the Secure flag on the session cookie.
	SecureCookies bool
	Logger        *zap.Logger
}

// Manager owns session lifecycle: it creates sessions behind an opaque
// cookie, resolves the session attached to a request, and tracks sessions by
// username so they can be invalidated per user or in bulk. It is safe for
// concurrent use; consistency comes from the repository.
type Manager struct {
	repo          repository.SessionRepository
	timeout       time.Duration
	secureCookies bool
	logger        *zap.Logger
	now           func() time.Time
}

// NewManager creates a Manager over repo.
func NewManager(repo repository.SessionRepository, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = auth.DefaultSessionTimeout
	}
	return &Manager{
		repo:          repo,
		timeout:       timeout,
		secureCookies: opts.SecureCookies,
		logger:        logger.Named("session"),
		now:           time.Now,
	}
}

// Existing returns the live session attached to r without creating one.
// It returns auth.ErrSessionNotFound when r has no cookie or the session is gone.
func (m *Manager) Existing(ctx context.Context, r *http.Request) (*models.Session, error) {
	cookie, err := r.Cookie(auth.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, auth.ErrSessionNotFound
	}

	session, err := m.repo.GetByTokenHash(ctx, auth.HashSessionToken(cookie.Value))
	if err != nil {
		return nil, err
	}

	now := m.now()
	expiresAt := auth.CalculateExpiry(now, m.timeout)
	if err := m.repo.Touch(ctx, session.ID, now, expiresAt); err != nil {
		// The session is still valid for this request; only the slide is lost.
		m.logger.Warn("touch session failed", zap.String("session_id", session.ID), zap.Error(err))
	} else {
		session.LastUsedAt = now
		session.ExpiresAt = expiresAt
	}
	return session, nil
}

// Create establishes a new session holding verified's token and roles and
// writes the session cookie. The session is not registered under a username
// until Login.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter, r *http.Request, verified *auth.VerifiedToken) (*models.Session, error) {
	token, tokenHash, err := auth.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := &models.Session{
		ID:          uuid.NewString(),
		TokenHash:   tokenHash,
		AccessToken: verified.Token,
		Roles:       append([]string(nil), verified.Roles...),
		AuthType:    auth.AuthTypeOAuth,
		ExpiresAt:   auth.CalculateExpiry(now, m.timeout),
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	if ua := r.UserAgent(); ua != "" {
		session.UserAgent = &ua
	}
	if ip := r.RemoteAddr; ip != "" {
		session.IPAddress = &ip
	}

	if err := m.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secureCookies || auth.IsSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})

	return session, nil
}

// Login registers session under username, replacing any previous owner.
func (m *Manager) Login(ctx context.Context, session *models.Session, username string) error {
	if err := m.repo.SetUsername(ctx, session.ID, username); err != nil {
		return fmt.Errorf("register session for %s: %w", username, err)
	}
	session.Username = username
	m.logger.Info("session registered", zap.String("username", username), zap.String("session_id", session.ID))
	return nil
}

// Logout invalidates every session of username. A user without sessions is a no-op.
// An empty username matches no one; sessions that never completed a login
// are not owned by it.
func (m *Manager) Logout(ctx context.Context, username string) error {
	if username == "" {
		return nil
	}
	removed, err := m.repo.DeleteByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("logout %s: %w", username, err)
	}
	m.logger.Info("user logged out", zap.String("username", username), zap.Int("sessions", removed))
	return nil
}

// LogoutAll invalidates every tracked session.
func (m *Manager) LogoutAll(ctx context.Context) error {
	removed, err := m.repo.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("logout all: %w", err)
	}
	m.logger.Info("all sessions logged out", zap.Int("sessions", removed))
	return nil
}

// Invalidate removes a single session. A session already gone is a no-op.
func (m *Manager) Invalidate(ctx context.Context, id string) error {
	if err := m.repo.Delete(ctx, id); err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
		return fmt.Errorf("invalidate session %s: %w", id, err)
	}
	return nil
}

// List returns every live session.
func (m *Manager) List(ctx context.Context) ([]models.Session, error) {
	return m.repo.List(ctx)
}

// Sweep deletes sessions that expired without an explicit logout.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	removed, err := m.repo.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := m.Sweep(ctx)
			if err != nil {
				m.logger.Error("session sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				m.logger.Debug("expired sessions removed", zap.Int("sessions", removed))
			}
		case <-ctx.Done():
			m.logger.Info("stopping session sweeper")
			return
		}
	}
}

// Record converts a stored session into the principal cached on it.
func Record(s *models.Session) auth.SessionRecord {
	return auth.SessionRecord{
		SessionID: s.ID,
		Username:  s.Username,
		Token:     s.AccessToken,
		Roles:     append([]string(nil), s.Roles...),
		AuthType:  s.AuthType,
		ExpiresAt: s.ExpiresAt,
	}
}
