package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/strefethen/music-central-go/internal/config"
	"github.com/strefethen/music-central-go/internal/db"
)

func testConfig() config.Config {
	return config.Config{
		Env:                      "development",
		JWTSecret:                "this-is-a-development-secret-string-32chars",
		JWTAccessTokenExpirySec:  3600,
		JWTRefreshTokenExpirySec: 7200,
		AdminEmails:              []string{"boss@example.com"},
	}
}

func setupService(t *testing.T) *Service {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	service := NewService(testConfig(), dbPair, nil, nil)
	service.bcryptCost = bcrypt.MinCost
	return service
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := testConfig()
	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "u1", Email: "a@b.co", Role: RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, 3600, pair.ExpiresInSec)

	payload, err := VerifyToken(cfg, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "u1", payload.Sub)
	require.Equal(t, RoleAdmin, payload.Role)
	require.Equal(t, TokenTypeAccess, payload.Type)

	_, _, err = RefreshAccessToken(cfg, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenType)

	access, _, err := RefreshAccessToken(cfg, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, access)
}

func TestVerifyTokenRejectsForeignTokens(t *testing.T) {
	cfg := testConfig()

	other := cfg
	other.JWTSecret = strings.Repeat("x", 40)
	pair, err := GenerateTokenPair(other, TokenPayload{Sub: "u1", Email: "a@b.co", Role: RoleUser})
	require.NoError(t, err)
	_, err = VerifyToken(cfg, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)

	claims := tokenClaims{
		Email: "a@b.co",
		Role:  RoleUser,
		Type:  TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    tokenIssuer,
			Audience:  []string{tokenAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	require.NoError(t, err)
	_, err = VerifyToken(cfg, expired)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestSignupAndLogin(t *testing.T) {
	service := setupService(t)
	ctx := context.Background()

	account, tokens, err := service.Signup(ctx, "  Listener@Example.com ", "password123", "Lis")
	require.NoError(t, err)
	require.Equal(t, "listener@example.com", account.Email)
	require.Equal(t, RoleUser, account.Role)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEqual(t, "password123", account.PasswordHash)

	_, _, err = service.Signup(ctx, "listener@example.com", "password123", "Again")
	require.ErrorIs(t, err, ErrEmailTaken)

	_, _, err = service.Login(ctx, "LISTENER@example.com", "password123")
	require.NoError(t, err)

	_, _, err = service.Login(ctx, "listener@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = service.Login(ctx, "nobody@example.com", "password123")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignupValidation(t *testing.T) {
	service := setupService(t)

	var validationErr *ValidationError
	_, _, err := service.Signup(context.Background(), "not-an-email", "password123", "")
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "email", validationErr.Field)

	_, _, err = service.Signup(context.Background(), "a@example.com", "short", "")
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "password", validationErr.Field)

	_, _, err = service.Signup(context.Background(), "a@example.com", strings.Repeat("p", 80), "")
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "password", validationErr.Field)

	_, _, err = service.Signup(context.Background(), "a@example.com", strings.Repeat("p", MaxPasswordBytes), "")
	require.NoError(t, err)
	_, _, err = service.Login(context.Background(), "a@example.com", strings.Repeat("p", 80))
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignupGrantsAdminFromConfig(t *testing.T) {
	service := setupService(t)

	account, tokens, err := service.Signup(context.Background(), "Boss@Example.com", "password123", "Boss")
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, account.Role)

	payload, err := VerifyToken(service.cfg, tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, payload.Role)
}

func TestRefreshRereadsAccount(t *testing.T) {
	service := setupService(t)

	_, tokens, err := service.Signup(context.Background(), "a@example.com", "password123", "A")
	require.NoError(t, err)

	access, expiresIn, err := service.Refresh(tokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, 3600, expiresIn)
	payload, err := VerifyToken(service.cfg, access)
	require.NoError(t, err)
	require.Equal(t, TokenTypeAccess, payload.Type)

	_, _, err = service.Refresh(tokens.AccessToken)
	require.ErrorIs(t, err, ErrTokenType)
}

func TestAccountsSetPlatforms(t *testing.T) {
	service := setupService(t)
	account, _, err := service.Signup(context.Background(), "a@example.com", "password123", "A")
	require.NoError(t, err)
	require.Empty(t, account.Platforms)

	updated, err := service.Accounts().SetPlatforms(account.ID, []string{"spotify", "youtube_music"})
	require.NoError(t, err)
	require.Equal(t, []string{"spotify", "youtube_music"}, updated.Platforms)
}

func newTestRouter(service *Service) http.Handler {
	router := chi.NewRouter()
	router.Use(Middleware(service.cfg))
	RegisterRoutes(router, service)
	router.With(RequireAdmin).Get("/v1/admin/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return router
}

func TestRoutes_SignupMeAndAdmin(t *testing.T) {
	service := setupService(t)
	router := newTestRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/signup",
		strings.NewReader(`{"email":"fan@example.com","password":"password123","name":"Fan"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var signupBody struct {
		AccessToken  string         `json:"access_token"`
		RefreshToken string         `json:"refresh_token"`
		User         map[string]any `json:"user"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&signupBody))
	require.Equal(t, "fan@example.com", signupBody.User["email"])
	require.NotContains(t, signupBody.User, "password_hash")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/signup",
		strings.NewReader(`{"email":"fan@example.com","password":"password123"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "EMAIL_TAKEN")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPatch, "/v1/users/me", strings.NewReader(`{"name":"Super Fan"}`))
	req.Header.Set("Authorization", "Bearer "+signupBody.AccessToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"Super Fan"`)

	req = httptest.NewRequest(http.MethodGet, "/v1/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+signupBody.AccessToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "ADMIN_REQUIRED")

	req = httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+signupBody.RefreshToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutes_SignupRejectsLongPassword(t *testing.T) {
	router := newTestRouter(setupService(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/signup",
		strings.NewReader(`{"email":"long@example.com","password":"`+strings.Repeat("x", 80)+`"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestRoutes_LoginFailure(t *testing.T) {
	router := newTestRouter(setupService(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/login",
		strings.NewReader(`{"email":"ghost@example.com","password":"password123"}`)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "AUTH_INVALID_CREDENTIALS")
}

func TestMiddleware_PublicAndTestMode(t *testing.T) {
	cfg := testConfig()
	cfg.AllowTestMode = true

	var seen User
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
	}))

	for _, path := range []string{"/v1/health/ready", "/v1/platforms/spotify/callback", "/v1/billing/webhook", "/v1/media/a/b.mp3"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/platforms/spotify/status", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/music/history", nil)
	req.Header.Set("x-test-mode", "true")
	req.Header.Set("x-test-role", "admin")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "test-user", seen.ID)
	require.True(t, seen.IsAdmin())
}

func TestMiddleware_WebsocketQueryToken(t *testing.T) {
	cfg := testConfig()
	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "u9", Email: "ws@example.com", Role: RoleUser})
	require.NoError(t, err)

	var seen User
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/uploads?access_token="+pair.AccessToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u9", seen.ID)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/music/history?access_token="+pair.AccessToken, nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
