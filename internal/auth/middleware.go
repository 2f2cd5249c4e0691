package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/apperrors"
	"github.com/strefethen/music-central-go/internal/config"
)

var publicRoutes = map[string]struct{}{
	"/v1/auth/signup":         {},
	"/v1/auth/login":          {},
	"/v1/auth/refresh":        {},
	"/v1/billing/webhook":     {},
	"/v1/subscriptions/tiers": {},
	"/v1/platforms":           {},
	"/v1/system/info":         {},
}

var publicPrefixes = []string{
	"/v1/health",
	"/v1/openapi",
	"/v1/media/",
}

// Middleware validates JWT tokens for protected routes.
func Middleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r) {
				next.ServeHTTP(w, r)
				return
			}

			if isTestModeRequest(r, cfg) {
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), testModeUser(r))))
				return
			}

			token, err := bearerToken(r)
			if err != nil {
				api.WriteError(w, r, err)
				return
			}

			payload, err := VerifyToken(cfg, token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					api.WriteError(w, r, apperrors.NewUnauthorizedError("Token has expired", apperrors.ErrorCodeAuthTokenExpired))
					return
				}
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeAuthTokenInvalid))
				return
			}

			if payload.Type != TokenTypeAccess {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token type", apperrors.ErrorCodeAuthTokenInvalid))
				return
			}

			user := User{
				ID:    payload.Sub,
				Email: payload.Email,
				Role:  payload.Role,
				Type:  payload.Type,
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := CurrentUser(r)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		if !user.IsAdmin() {
			api.WriteError(w, r, apperrors.NewForbiddenError("Admin access required", apperrors.ErrorCodeAdminRequired))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken reads the Authorization header. Websocket upgrades may pass
// the token as ?access_token= since browsers cannot set headers there.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return token, nil
			}
		}
		return "", apperrors.NewUnauthorizedError("Missing Authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
	}
	return token, nil
}

func isPublicRoute(r *http.Request) bool {
	path := r.URL.Path
	if _, ok := publicRoutes[path]; ok {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	// OAuth providers redirect the browser here without our token.
	if strings.HasPrefix(path, "/v1/platforms/") && strings.HasSuffix(path, "/callback") {
		return true
	}
	// Signed upload URLs carry their own authorization.
	if r.Method == http.MethodPut && strings.HasPrefix(path, "/v1/uploads/") && strings.HasSuffix(path, "/file") {
		return true
	}
	return false
}

func isTestModeRequest(r *http.Request, cfg config.Config) bool {
	if !cfg.AllowTestMode || !cfg.IsDevelopment() {
		return false
	}
	return r.Header.Get("x-test-mode") == "true"
}

func testModeUser(r *http.Request) User {
	user := User{
		ID:    r.Header.Get("x-test-user-id"),
		Email: r.Header.Get("x-test-user-email"),
		Role:  Role(r.Header.Get("x-test-role")),
		Type:  TokenTypeAccess,
	}
	if user.ID == "" {
		user.ID = "test-user"
	}
	if user.Email == "" {
		user.Email = "test@example.com"
	}
	if user.Role != RoleAdmin {
		user.Role = RoleUser
	}
	return user
}
