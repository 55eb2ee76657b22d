package middleware

import (
	"context"
	"net/http"

	"github.com/b4its/next-kepin/internal/auth"
	"github.com/b4its/next-kepin/internal/httpx"
)

type ctxKey struct{}

// SessionLookup resolves a session id to a user id, "" when unknown.
type SessionLookup interface {
	Get(ctx context.Context, sessionID string) (string, error)
}

// RequireAuth is middleware that validates the session cookie and
// injects the user id into the request context.
func RequireAuth(sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(auth.SessionCookie)
			if err != nil {
				httpx.Error(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			userID, err := sessions.Get(r.Context(), cookie.Value)
			if err != nil || userID == "" {
				httpx.Error(w, http.StatusUnauthorized, "session expired")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the authenticated user id, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// ScopedUser returns the session user after checking that a user id the
// client named (query or body) matches it. An empty claim is accepted.
// On mismatch it writes 403 and reports false.
func ScopedUser(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	userID := UserID(r.Context())
	if userID == "" {
		httpx.Error(w, http.StatusUnauthorized, "not authenticated")
		return "", false
	}
	if claimed != "" && claimed != userID {
		httpx.Error(w, http.StatusForbidden, "user mismatch")
		return "", false
	}
	return userID, true
}
