package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/pikoshi/pikoshi/internal/model"
)

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow our values.
type contextKey string

const userKey contextKey = "user"

// Session is the outcome of authenticating a request.
//
// When the access token had expired but the refresh token was still good,
// RefreshedAccess carries the newly minted access token and the caller must
// hand it back to the client.
type Session struct {
	User            *model.User
	AccessToken     string
	RefreshedAccess string
	AccessExpiresAt time.Time
}

// Refreshed reports whether a silent refresh happened.
func (s *Session) Refreshed() bool { return s.RefreshedAccess != "" }

// Authenticator resolves the cookies of a request to a live session.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken, refreshToken string) (*Session, error)
}

// RequireAuth is a middleware that enforces authentication on protected
// routes.
//
// It reads both session cookies and lets the Authenticator decide. A silent
// refresh rewrites the access cookie before the handler runs, so the handler
// never needs to know it happened. Any failure is a uniform 401.
func RequireAuth(authn Authenticator, cookies CookieWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := authn.Authenticate(r.Context(), cookieValue(r, AccessCookie), cookieValue(r, RefreshCookie))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}

			if session.Refreshed() {
				cookies.SetAccess(w, session.RefreshedAccess, session.AccessExpiresAt)
			}

			ctx := context.WithValue(r.Context(), userKey, session.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user stored by RequireAuth.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// WithUser stores a user in ctx. Handlers under test use it to skip the
// middleware.
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
