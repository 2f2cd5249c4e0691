package auth

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/apperrors"
)

// RegisterRoutes wires auth and profile routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/auth/signup", api.Handler(signup(service)))
	router.Method(http.MethodPost, "/v1/auth/login", api.Handler(login(service)))
	router.Method(http.MethodPost, "/v1/auth/refresh", api.Handler(refresh(service)))
	router.Method(http.MethodGet, "/v1/users/me", api.Handler(getMe(service)))
	router.Method(http.MethodPatch, "/v1/users/me", api.Handler(updateMe(service)))
}

func signup(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Name     string `json:"name"`
		}
		if err := api.DecodeJSON(r, &body); err != nil {
			return err
		}

		account, tokens, err := service.Signup(r.Context(), body.Email, body.Password, body.Name)
		if err != nil {
			return mapError(err)
		}

		return api.WriteResource(w, http.StatusCreated, map[string]any{
			"object":         api.ObjectTokenPair,
			"user":           FormatAccount(account),
			"access_token":   tokens.AccessToken,
			"refresh_token":  tokens.RefreshToken,
			"expires_in_sec": tokens.ExpiresInSec,
		})
	}
}

func login(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := api.DecodeJSON(r, &body); err != nil {
			return err
		}
		if body.Email == "" || body.Password == "" {
			return apperrors.NewValidationError("email and password are required", nil)
		}

		account, tokens, err := service.Login(r.Context(), body.Email, body.Password)
		if err != nil {
			return mapError(err)
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         api.ObjectTokenPair,
			"user":           FormatAccount(account),
			"access_token":   tokens.AccessToken,
			"refresh_token":  tokens.RefreshToken,
			"expires_in_sec": tokens.ExpiresInSec,
		})
	}
}

func refresh(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := api.DecodeJSON(r, &body); err != nil {
			return err
		}
		if body.RefreshToken == "" {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}

		accessToken, expiresIn, err := service.Refresh(body.RefreshToken)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				return apperrors.NewUnauthorizedError("Refresh token has expired", apperrors.ErrorCodeAuthTokenExpired)
			case errors.Is(err, ErrTokenType):
				return apperrors.NewUnauthorizedError("Invalid token: expected refresh token", apperrors.ErrorCodeAuthTokenInvalid)
			case errors.Is(err, ErrTokenInvalid):
				return apperrors.NewUnauthorizedError("Invalid refresh token", apperrors.ErrorCodeAuthTokenInvalid)
			default:
				return apperrors.NewInternalError("Failed to refresh token")
			}
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         api.ObjectTokenRefresh,
			"access_token":   accessToken,
			"expires_in_sec": expiresIn,
		})
	}
}

func getMe(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := CurrentUser(r)
		if err != nil {
			return err
		}
		account, err := service.Me(user.ID)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, FormatAccount(account))
	}
}

func updateMe(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := CurrentUser(r)
		if err != nil {
			return err
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := api.DecodeJSON(r, &body); err != nil {
			return err
		}
		account, err := service.UpdateProfile(user.ID, body.Name)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, FormatAccount(account))
	}
}

func mapError(err error) error {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		return apperrors.NewValidationError(validationErr.Error(), map[string]any{"field": validationErr.Field})
	case errors.Is(err, ErrEmailTaken):
		return apperrors.NewConflictError("An account with this email already exists", nil, apperrors.ErrorCodeEmailTaken)
	case errors.Is(err, ErrInvalidCredentials):
		return apperrors.NewUnauthorizedError("Invalid email or password", apperrors.ErrorCodeAuthInvalidCredentials)
	case errors.Is(err, ErrAccountNotFound):
		return apperrors.NewNotFoundResource("User", "")
	default:
		return apperrors.NewInternalError("Authentication request failed")
	}
}

// FormatAccount renders a user without its password hash.
func FormatAccount(account *Account) map[string]any {
	platforms := account.Platforms
	if platforms == nil {
		platforms = []string{}
	}
	return map[string]any{
		"object":     api.ObjectUser,
		"id":         account.ID,
		"email":      account.Email,
		"name":       account.Name,
		"role":       string(account.Role),
		"platforms":  platforms,
		"created_at": api.RFC3339Millis(account.CreatedAt),
		"updated_at": api.RFC3339Millis(account.UpdatedAt),
	}
}
