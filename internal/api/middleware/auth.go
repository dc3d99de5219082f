package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/renex-id/renex/internal/crypto"
	"github.com/renex-id/renex/internal/models"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware verifies bearer session tokens on authenticated endpoints.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware creates a new auth middleware for tokens signed with secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// RequireAuth rejects requests without a valid session and stores the
// caller's handle in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		subject, err := crypto.ParseSessionToken(m.secret, strings.TrimSpace(token))
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		handle := models.NormalizeHandle(subject)
		if !models.ValidHandle(handle) {
			jsonError(w, http.StatusUnauthorized, "invalid session subject")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, handle)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext returns the authenticated handle, or "" when the
// request is anonymous.
func GetUserFromContext(ctx context.Context) string {
	handle, _ := ctx.Value(UserContextKey).(string)
	return handle
}
