package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"wafflebrain/internal/auth"
)

// RequireAuth verifies the bearer token on every request before any endpoint
// logic runs. A missing or malformed Authorization header is a 401; a token
// that fails signature or claims verification is a 403.
func RequireAuth(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				writeAuthError(w, http.StatusUnauthorized, "malformed Authorization header")
				return
			}

			identity, err := verifier.Verify(tokenString)
			if err != nil {
				slog.Debug("rejected bearer token", "error", err)
				writeAuthError(w, http.StatusForbidden, "invalid bearer token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error": "` + message + `"}`))
}
