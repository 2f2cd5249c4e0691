package system

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/music-central-go/internal/auth"
	"github.com/strefethen/music-central-go/internal/db"
	"github.com/strefethen/music-central-go/internal/subscriptions"
)

type fakeScheduler bool

func (f fakeScheduler) Running() bool { return bool(f) }

type fakePlatforms []string

func (f fakePlatforms) ConfiguredPlatforms() []string { return f }

type brokenDB struct {
	*db.DBPair
}

func (brokenDB) Ping(ctx context.Context) error { return errors.New("disk on fire") }

func newDB(t *testing.T) *db.DBPair {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	return dbPair
}

func serve(router http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthRoutes(t *testing.T) {
	service := NewService(newDB(t), fakeScheduler(true), fakePlatforms{"spotify"}, nil)
	router := chi.NewRouter()
	RegisterRoutes(router, service)

	rec := serve(router, "/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	require.Equal(t, "healthy", health["status"])
	require.Equal(t, ServiceName, health["service"])
	_, err := time.Parse(time.RFC3339, health["timestamp"].(string))
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(router, "/v1/health/live").Code)
	require.Equal(t, http.StatusOK, serve(router, "/v1/health/ready").Code)

	rec = serve(router, "/v1/system/info")
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	require.Equal(t, "system_info", info["object"])
	require.Equal(t, Version, info["version"])
	require.Equal(t, true, info["database_connected"])
	require.Equal(t, true, info["scheduler_running"])
	require.Equal(t, []any{"spotify"}, info["configured_platforms"])
}

func TestReadyFailsWhenDatabaseUnreachable(t *testing.T) {
	service := NewService(brokenDB{newDB(t)}, nil, nil, nil)
	router := chi.NewRouter()
	RegisterRoutes(router, service)

	rec := serve(router, "/v1/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "SERVICE_UNAVAILABLE")

	info := service.Info(context.Background())
	require.False(t, info.DatabaseConnected)
	require.False(t, info.SchedulerRunning)
	require.Empty(t, info.ConfiguredPlatforms)
	require.NotNil(t, info.ConfiguredPlatforms)
}

func TestStats(t *testing.T) {
	dbPair := newDB(t)
	accounts := auth.NewAccountsRepository(dbPair)
	subs, err := subscriptions.NewService(dbPair, accounts, nil, nil)
	require.NoError(t, err)

	for _, email := range []string{"a@example.com", "b@example.com"} {
		account, err := accounts.Create(email, "", "hash", auth.RoleUser)
		require.NoError(t, err)
		_, err = subs.CreateSubscription(context.Background(), account.ID, "premium")
		require.NoError(t, err)
	}

	service := NewService(dbPair, nil, nil, nil)
	stats, err := service.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Users)
	require.Zero(t, stats.ContentItems)
	require.Equal(t, 2, stats.ActiveSubscriptions["premium"])
	require.Empty(t, stats.UploadsByStatus)

	router := chi.NewRouter()
	RegisterAdminRoutes(router, service)
	rec := serve(router, "/v1/admin/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"users":2`)
}
