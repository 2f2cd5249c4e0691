package auth

import (
	"context"
	"net/http"

	"github.com/strefethen/music-central-go/internal/apperrors"
)

type contextKey string

const userKey contextKey = "authUser"

// Role is a user's authorization level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents the authenticated caller.
type User struct {
	ID    string
	Email string
	Role  Role
	Type  TokenType
}

// IsAdmin reports whether the caller may moderate content.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// WithUser stores an authenticated user in the context.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, if present.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	user, ok := ctx.Value(userKey).(User)
	return user, ok
}

// CurrentUser returns the caller of r or a 401 AppError.
func CurrentUser(r *http.Request) (User, error) {
	user, ok := UserFromContext(r.Context())
	if !ok || user.ID == "" {
		return User{}, apperrors.NewUnauthorizedError("Authentication required")
	}
	return user, nil
}
