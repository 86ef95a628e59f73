package middleware

import (
	"crypto/subtle"
	"net/http"
)

// BasicAuth guards every route with a shared password. The username is
// ignored; comparison is constant-time.
func BasicAuth(password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, candidate, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(candidate), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="RailsBot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
