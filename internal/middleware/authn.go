package middleware

import (
	"net/http"

	"github.com/terraconstructs/authgate/internal/services/authn"
)

// Authenticate runs every request through the authentication decider. Only
// requests that end with a bound principal reach next; the decider answers
// everything else (redirect, 401, 403, remote logout).
func Authenticate(decider *authn.Decider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decider.Decide(w, r, next)
		})
	}
}
