package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/terraconstructs/authgate/internal/auth"
)

// WhoamiResponse describes the principal bound to the request.
type WhoamiResponse struct {
	Username  string     `json:"username"`
	AuthType  string     `json:"auth_type"`
	Source    string     `json:"source"`
	Roles     []string   `json:"roles"`
	SessionID string     `json:"session_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HandleHealth answers 200 OK, or 503 when ready reports an error.
func HandleHealth(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// HandleWhoAmI returns the bound principal as JSON.
func HandleWhoAmI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Extract principal from context (set by the authentication decider)
		principal, ok := auth.PrincipalFromContext(ctx)
		if !ok {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		resp := WhoamiResponse{
			Username: principal.Name(),
			AuthType: auth.AuthTypeFromContext(ctx),
			Roles:    principal.Roles(),
		}
		if resp.Roles == nil {
			resp.Roles = []string{}
		}

		switch p := principal.(type) {
		case auth.FreshlyVerified:
			resp.Source = "bearer"
			if !p.Verified.ExpiresAt.IsZero() {
				resp.ExpiresAt = &p.Verified.ExpiresAt
			}
		case auth.SessionCached:
			resp.Source = "session"
			resp.SessionID = p.Record.SessionID
			if !p.Record.ExpiresAt.IsZero() {
				resp.ExpiresAt = &p.Record.ExpiresAt
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
