package api

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireAdminToken guards destructive endpoints with a bearer token
// checked against the configured bcrypt hash. When no hash is
// configured the endpoints are disabled outright.
func (s *server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.AdminTokenHash == "" {
			writeJSON(w, http.StatusForbidden,
				errorResponse{"admin endpoints are disabled"})

			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"bearer token required"})

			return
		}

		token := authHeader[len("Bearer "):]

		if err := bcrypt.CompareHashAndPassword(
			[]byte(s.cfg.Server.AdminTokenHash), []byte(token),
		); err != nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid admin token"})

			return
		}

		next.ServeHTTP(w, r)
	})
}
