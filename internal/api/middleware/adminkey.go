package middleware

import (
	"log/slog"
	"net/http"

	"github.com/veridianlabs/veridian/internal/crypto"
)

// AdminAPIKey guards the admin API with a shared secret in the
// x-admin-api-key header, compared in constant time. An empty configured key
// disables the whole admin surface.
func AdminAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				http.Error(w, "admin API disabled", http.StatusNotFound)
				return
			}
			if !crypto.SecureCompare(r.Header.Get("x-admin-api-key"), key) {
				slog.Warn("admin API key rejected", "ip", r.RemoteAddr, "path", r.URL.Path)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
