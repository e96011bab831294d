package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerAuth enforces a shared-secret bearer token, comparing it with
// crypto/subtle.ConstantTimeCompare in the style of the teacher's
// internal/adapter/httpserver Bearer-JWT guards, adapted to a single
// shared secret since this intake surface has no user accounts to
// authenticate.
func bearerAuth(secret string) func(http.Handler) http.Handler {
	if secret == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	expected := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			const prefix = "Bearer "
			if !strings.HasPrefix(authz, prefix) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			token := []byte(strings.TrimSpace(strings.TrimPrefix(authz, prefix)))
			if len(token) != len(expected) || subtle.ConstantTimeCompare(token, expected) != 1 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
