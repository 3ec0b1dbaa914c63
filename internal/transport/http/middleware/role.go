package middleware

import (
	"net/http"

	"github.com/go-api-notify/internal/domain"
)

// RequireRole admits callers whose token role is one of allowed. It must run
// after Auth.
func RequireRole(allowed ...domain.Role) func(http.Handler) http.Handler {
	set := make(map[domain.Role]bool, len(allowed))
	for _, role := range allowed {
		set[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !set[domain.Role(claims.Role)] {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
