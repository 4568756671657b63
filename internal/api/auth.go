package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ownerHeader carries the tenant identity on every request. The server trusts
// it after bearer auth; the deployment in front of it is responsible for
// mapping users to owner ids.
const ownerHeader = "X-Owner-ID"

func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ownerID extracts the tenant id from the request, or "" when missing.
func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ownerHeader))
}
