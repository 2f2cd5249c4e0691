package subscriptions

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
	"github.com/stretchr/testify/require"

	"github.com/strefethen/music-central-go/internal/audit"
	"github.com/strefethen/music-central-go/internal/auth"
	"github.com/strefethen/music-central-go/internal/db"
)

func setupService(t *testing.T) (*Service, *auth.AccountsRepository) {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	accounts := auth.NewAccountsRepository(dbPair)
	service, err := NewService(dbPair, accounts, audit.NewService(dbPair, nil), nil)
	require.NoError(t, err)
	return service, accounts
}

func TestCatalog_Defaults(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	require.Equal(t, "free", catalog.FreeTier().ID)
	premium, ok := catalog.TierByID("premium")
	require.True(t, ok)
	require.Equal(t, 3, premium.PlatformLimit)
	require.Equal(t, 9.99, premium.Price)
	require.True(t, premium.Popular)

	pro, ok := catalog.TierByID("pro")
	require.True(t, ok)
	require.Equal(t, 5, pro.PlatformLimit)

	_, ok = catalog.TierByID("platinum")
	require.False(t, ok)

	available := catalog.AvailablePlatforms()
	require.Len(t, available, 2)
	require.Equal(t, PlatformSpotify, available[0].ID)
	require.Equal(t, PlatformYouTubeMusic, available[1].ID)
}

func TestParseCatalog_RejectsEmpty(t *testing.T) {
	_, err := ParseCatalog([]byte("tiers: []\n"))
	require.Error(t, err)

	_, err = ParseCatalog([]byte("tiers:\n  - id: free\n"))
	require.Error(t, err)
}

func TestService_CreateSubscription(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	_, err := service.CreateSubscription(ctx, "user-1", "platinum")
	require.ErrorIs(t, err, ErrInvalidTier)

	sub, err := service.CreateSubscription(ctx, "user-1", "premium")
	require.NoError(t, err)
	require.Equal(t, StatusActive, sub.Status)
	require.Equal(t, 3, sub.PlatformLimit)

	again, err := service.CreateSubscription(ctx, "user-1", "pro")
	require.NoError(t, err)
	require.Equal(t, sub.ID, again.ID)
	require.Equal(t, "pro", again.TierID)
	require.Equal(t, 5, again.PlatformLimit)
}

func TestService_GetUserSubscription_ActiveOnly(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	_, err := service.CreateSubscription(ctx, "user-1", "premium")
	require.NoError(t, err)

	past := StatusPastDue
	_, err = service.Repository().ApplyStripeUpdate("user-1", StripeUpdate{Status: &past}, time.Now())
	require.NoError(t, err)

	sub, err := service.GetUserSubscription("user-1")
	require.NoError(t, err)
	require.Nil(t, sub)
}

func TestService_CanConnectPlatform(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	check, err := service.CanConnectPlatform("user-1")
	require.NoError(t, err)
	require.Equal(t, ConnectCheck{CanConnect: true, CurrentCount: 0, Limit: 1}, check)

	_, err = service.ConnectPlatform(ctx, "user-1", PlatformSpotify, map[string]any{"username": "listener"})
	require.NoError(t, err)

	check, err = service.CanConnectPlatform("user-1")
	require.NoError(t, err)
	require.False(t, check.CanConnect)
	require.Equal(t, 1, check.CurrentCount)

	_, err = service.CreateSubscription(ctx, "user-1", "premium")
	require.NoError(t, err)
	check, err = service.CanConnectPlatform("user-1")
	require.NoError(t, err)
	require.True(t, check.CanConnect)
	require.Equal(t, 3, check.Limit)
}

func TestService_ConnectDisconnect(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	connection, err := service.ConnectPlatform(ctx, "user-1", PlatformYouTubeMusic, nil)
	require.NoError(t, err)
	require.Equal(t, ConnectionConnected, connection.Status)
	require.NotNil(t, connection.ConnectedAt)

	connected, err := service.IsConnected("user-1", PlatformYouTubeMusic)
	require.NoError(t, err)
	require.True(t, connected)

	require.NoError(t, service.DisconnectPlatform(ctx, "user-1", PlatformYouTubeMusic))
	connections, err := service.ListConnections("user-1")
	require.NoError(t, err)
	require.Len(t, connections, 1)
	require.Equal(t, ConnectionDisconnected, connections[0].Status)
	require.NotNil(t, connections[0].DisconnectedAt)

	// Reconnecting reuses the row.
	again, err := service.ConnectPlatform(ctx, "user-1", PlatformYouTubeMusic, nil)
	require.NoError(t, err)
	require.Equal(t, connection.ID, again.ID)
	require.Nil(t, again.DisconnectedAt)

	require.NoError(t, service.DisconnectPlatform(ctx, "user-1", "never-connected"))
}

func TestService_GetUserTierInfo(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	_, err := service.ConnectPlatform(ctx, "user-1", PlatformSpotify, nil)
	require.NoError(t, err)

	info, err := service.GetUserTierInfo("user-1")
	require.NoError(t, err)
	require.Equal(t, "free", info.Tier.ID)
	require.Nil(t, info.Subscription)
	require.Empty(t, info.Connections)

	_, err = service.CreateSubscription(ctx, "user-1", "pro")
	require.NoError(t, err)
	info, err = service.GetUserTierInfo("user-1")
	require.NoError(t, err)
	require.Equal(t, "pro", info.Tier.ID)
	require.Len(t, info.Connections, 1)
}

func TestService_UpdateUserPlatforms(t *testing.T) {
	service, accounts := setupService(t)
	account, err := accounts.Create("fan@example.com", "Fan", "hash", auth.RoleUser)
	require.NoError(t, err)

	updated, err := service.UpdateUserPlatforms(account.ID, []string{PlatformSpotify, PlatformYouTubeMusic, PlatformSpotify})
	require.NoError(t, err)
	require.Equal(t, []string{PlatformSpotify, PlatformYouTubeMusic}, updated.Platforms)

	var platformErr *PlatformError
	_, err = service.UpdateUserPlatforms(account.ID, []string{"tidal"})
	require.ErrorAs(t, err, &platformErr)
	require.Equal(t, "tidal", platformErr.PlatformID)

	_, err = service.UpdateUserPlatforms(account.ID, []string{"napster"})
	require.ErrorAs(t, err, &platformErr)

	_, err = service.UpdateUserPlatforms("missing", []string{PlatformSpotify})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_ExpireEnded(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	for _, userID := range []string{"ended", "future", "active"} {
		_, err := service.CreateSubscription(ctx, userID, "premium")
		require.NoError(t, err)
	}
	cancelled := StatusCancelled
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)
	_, err := service.Repository().ApplyStripeUpdate("ended", StripeUpdate{Status: &cancelled, EndDate: &yesterday}, now)
	require.NoError(t, err)
	_, err = service.Repository().ApplyStripeUpdate("future", StripeUpdate{Status: &cancelled, EndDate: &tomorrow}, now)
	require.NoError(t, err)

	require.NoError(t, service.ExpireEnded(ctx))

	for userID, want := range map[string]Status{"ended": StatusExpired, "future": StatusCancelled, "active": StatusActive} {
		sub, err := service.Repository().GetByUserID(userID)
		require.NoError(t, err)
		require.Equal(t, want, sub.Status, userID)
	}
}

func TestRepository_ApplyStripeUpdate_Missing(t *testing.T) {
	service, _ := setupService(t)
	active := StatusActive
	sub, err := service.Repository().ApplyStripeUpdate("nobody", StripeUpdate{Status: &active}, time.Now())
	require.NoError(t, err)
	require.Nil(t, sub)
}

func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), auth.User{ID: userID, Role: auth.RoleUser, Type: "access"}))
}

func TestRoutes(t *testing.T) {
	service, accounts := setupService(t)
	router := chi.NewRouter()
	RegisterRoutes(router, service)
	account, err := accounts.Create("fan@example.com", "Fan", "hash", auth.RoleUser)
	require.NoError(t, err)

	t.Run("tiers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/subscriptions/tiers", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data []map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Data, 3)
		require.Equal(t, "tier", body.Data[0]["object"])
	})

	t.Run("available platforms", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/platforms?available=true", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data []map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Data, 2)
	})

	t.Run("me requires auth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/subscriptions/me", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("me on free tier", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/v1/subscriptions/me", nil), account.ID))
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "free", body["tier"].(map[string]any)["id"])
		require.Nil(t, body["subscription"])
	})

	t.Run("can connect", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/v1/subscriptions/me/can-connect", nil), account.ID))
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"can_connect":true,"current_count":0,"limit":1}`, rec.Body.String())
	})

	t.Run("update platforms", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/v1/users/me/platforms", strings.NewReader(`{"platforms":["spotify"]}`))
		router.ServeHTTP(rec, withUser(req, account.ID))
		require.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodPut, "/v1/users/me/platforms", strings.NewReader(`{"platforms":["deezer"]}`))
		router.ServeHTTP(rec, withUser(req, account.ID))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "PLATFORM_UNAVAILABLE")
	})
}
