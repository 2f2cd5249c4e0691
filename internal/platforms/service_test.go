package platforms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/strefethen/music-central-go/internal/audit"
	"github.com/strefethen/music-central-go/internal/auth"
	"github.com/strefethen/music-central-go/internal/config"
	"github.com/strefethen/music-central-go/internal/db"
	"github.com/strefethen/music-central-go/internal/subscriptions"
)

type fixture struct {
	service  *Service
	subs     *subscriptions.Service
	accounts *auth.AccountsRepository
	dbPair   *db.DBPair
	refresh  atomic.Int32
}

// newFixture wires a service against a fake OAuth provider and YouTube API.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	f := &fixture{dbPair: dbPair, accounts: auth.NewAccountsRepository(dbPair)}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`))
		case "refresh_token":
			f.refresh.Add(1)
			_, _ = w.Write([]byte(`{"access_token":"at-refreshed","token_type":"Bearer","expires_in":3600}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"id": "UC123", "snippet": map[string]any{"title": "Test Channel"}}},
		})
	})
	provider := httptest.NewServer(mux)
	t.Cleanup(provider.Close)

	cfg := config.Config{
		AppURL:               "http://app.test",
		YouTubeClientID:      "yt-client",
		YouTubeClientSecret:  "yt-secret",
		YouTubeAPIURL:        provider.URL,
		YouTubeAuthURL:       provider.URL + "/auth",
		YouTubeTokenURL:      provider.URL + "/token",
		OAuthStateTTLSeconds: 600,
	}
	auditService := audit.NewService(dbPair, nil)
	f.subs, err = subscriptions.NewService(dbPair, f.accounts, auditService, nil)
	require.NoError(t, err)
	f.service = NewService(cfg, dbPair, f.subs, auditService, nil)
	f.service.SetHTTPClient(provider.Client())
	return f
}

func (f *fixture) createUser(t *testing.T, email string) string {
	t.Helper()
	account, err := f.accounts.Create(email, "Test", "hash", auth.RoleUser)
	require.NoError(t, err)
	return account.ID
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestStateStore_ConsumeOnce(t *testing.T) {
	f := newFixture(t)
	store := f.service.States()

	state, err := store.Issue("user-1", subscriptions.PlatformSpotify)
	require.NoError(t, err)

	_, err = store.Consume(state, subscriptions.PlatformYouTubeMusic)
	require.ErrorIs(t, err, ErrInvalidState)

	// A platform mismatch still burns the state.
	_, err = store.Consume(state, subscriptions.PlatformSpotify)
	require.ErrorIs(t, err, ErrInvalidState)

	state, err = store.Issue("user-1", subscriptions.PlatformSpotify)
	require.NoError(t, err)
	userID, err := store.Consume(state, subscriptions.PlatformSpotify)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)

	_, err = store.Consume(state, subscriptions.PlatformSpotify)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestStateStore_Expiry(t *testing.T) {
	f := newFixture(t)
	store := f.service.States()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	expired, err := store.Issue("user-1", subscriptions.PlatformSpotify)
	require.NoError(t, err)
	live, err := store.Issue("user-2", subscriptions.PlatformSpotify)
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(11 * time.Minute) }
	_, err = store.Consume(expired, subscriptions.PlatformSpotify)
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, store.PurgeExpired(context.Background()))
	store.now = func() time.Time { return base }
	_, err = store.Consume(live, subscriptions.PlatformSpotify)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestService_AuthorizationURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t, "auth@example.com")

	_, err := f.service.AuthorizationURL(ctx, userID, "tidal")
	require.ErrorIs(t, err, ErrUnsupportedPlatform)

	_, err = f.service.AuthorizationURL(ctx, userID, "spotify")
	require.ErrorIs(t, err, ErrNotConfigured)

	authURL, err := f.service.AuthorizationURL(ctx, userID, "youtube")
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, "yt-client", parsed.Query().Get("client_id"))
	require.Equal(t, "offline", parsed.Query().Get("access_type"))
	require.Equal(t, "consent", parsed.Query().Get("prompt"))
	require.Equal(t, "http://app.test/v1/platforms/youtube_music/callback", parsed.Query().Get("redirect_uri"))
}

func TestService_AuthorizationURLRespectsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t, "limit@example.com")

	_, err := f.subs.ConnectPlatform(ctx, userID, subscriptions.PlatformSpotify, nil)
	require.NoError(t, err)

	_, err = f.service.AuthorizationURL(ctx, userID, subscriptions.PlatformYouTubeMusic)
	require.ErrorIs(t, err, ErrPlatformLimit)

	_, err = f.subs.CreateSubscription(ctx, userID, "premium")
	require.NoError(t, err)
	_, err = f.service.AuthorizationURL(ctx, userID, subscriptions.PlatformYouTubeMusic)
	require.NoError(t, err)
}

func TestService_CallbackFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t, "flow@example.com")

	var hookUser string
	f.service.OnDisconnect(func(id string) { hookUser = id })

	authURL, err := f.service.AuthorizationURL(ctx, userID, subscriptions.PlatformYouTubeMusic)
	require.NoError(t, err)
	state := stateFrom(t, authURL)

	target := f.service.HandleCallback(ctx, "youtube_music", "good-code", state, "")
	require.Equal(t, "http://app.test/platforms/connect?platforms=youtube_music&success=youtube_connected", target)

	status, err := f.service.Status(userID, "youtube")
	require.NoError(t, err)
	require.True(t, status.Connected)
	require.Equal(t, "UC123", *status.ServiceUserID)
	require.Equal(t, "Test Channel", *status.ServiceUsername)

	connected, err := f.subs.IsConnected(userID, subscriptions.PlatformYouTubeMusic)
	require.NoError(t, err)
	require.True(t, connected)

	// Replaying the callback fails because the state was consumed.
	target = f.service.HandleCallback(ctx, "youtube_music", "good-code", state, "")
	require.Equal(t, "http://app.test/auth?error=invalid_state", target)

	require.NoError(t, f.service.Disconnect(ctx, userID, "youtube_music"))
	require.Equal(t, userID, hookUser)
	status, err = f.service.Status(userID, "youtube_music")
	require.NoError(t, err)
	require.False(t, status.Connected)

	_, err = f.service.Client(ctx, userID, "youtube_music")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestService_CallbackErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t, "errors@example.com")

	require.Equal(t, "http://app.test/auth?error=unsupported_platform",
		f.service.HandleCallback(ctx, "napster", "code", "state", ""))
	require.Equal(t, "http://app.test/auth?error=youtube_auth_failed",
		f.service.HandleCallback(ctx, "youtube_music", "", "", "access_denied"))
	require.Equal(t, "http://app.test/auth?error=spotify_auth_failed",
		f.service.HandleCallback(ctx, "spotify", "", "", "access_denied"))
	require.Equal(t, "http://app.test/auth?error=missing_params",
		f.service.HandleCallback(ctx, "youtube_music", "", "state", ""))
	require.Equal(t, "http://app.test/auth?error=invalid_state",
		f.service.HandleCallback(ctx, "youtube_music", "code", "bogus", ""))

	authURL, err := f.service.AuthorizationURL(ctx, userID, subscriptions.PlatformYouTubeMusic)
	require.NoError(t, err)
	require.Equal(t, "http://app.test/auth?error=callback_failed",
		f.service.HandleCallback(ctx, "youtube_music", "bad-code", stateFrom(t, authURL), ""))

	connected, err := f.subs.IsConnected(userID, subscriptions.PlatformYouTubeMusic)
	require.NoError(t, err)
	require.False(t, connected)
}

func TestService_RefreshExpiring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t, "refresh@example.com")
	tokens := NewTokenRepository(f.dbPair)

	require.NoError(t, tokens.Save(userID, subscriptions.PlatformYouTubeMusic, &oauth2.Token{
		AccessToken:  "at-old",
		RefreshToken: "rt-1",
		Expiry:       time.Now().Add(2 * time.Minute),
	}, Profile{ID: "UC123"}))

	other := f.createUser(t, "fresh@example.com")
	require.NoError(t, tokens.Save(other, subscriptions.PlatformYouTubeMusic, &oauth2.Token{
		AccessToken:  "at-fresh",
		RefreshToken: "rt-2",
		Expiry:       time.Now().Add(time.Hour),
	}, Profile{ID: "UC456"}))

	require.NoError(t, f.service.RefreshExpiring(ctx))
	require.Equal(t, int32(1), f.refresh.Load())

	stored, err := tokens.Get(userID, subscriptions.PlatformYouTubeMusic)
	require.NoError(t, err)
	require.Equal(t, "at-refreshed", stored.AccessToken)
	require.Equal(t, "rt-1", stored.RefreshToken)
	require.True(t, stored.ExpiresAt.After(time.Now().Add(30*time.Minute)))

	untouched, err := tokens.Get(other, subscriptions.PlatformYouTubeMusic)
	require.NoError(t, err)
	require.Equal(t, "at-fresh", untouched.AccessToken)
}

func TestTokenRepository_SaveKeepsRefreshToken(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "tokens@example.com")
	tokens := NewTokenRepository(f.dbPair)

	require.NoError(t, tokens.Save(userID, subscriptions.PlatformSpotify, &oauth2.Token{AccessToken: "a", RefreshToken: "r"}, Profile{ID: "sp-1"}))
	deactivated, err := tokens.Deactivate(userID, subscriptions.PlatformSpotify)
	require.NoError(t, err)
	require.True(t, deactivated)

	active, err := tokens.GetActive(userID, subscriptions.PlatformSpotify)
	require.NoError(t, err)
	require.Nil(t, active)

	require.NoError(t, tokens.Save(userID, subscriptions.PlatformSpotify, &oauth2.Token{AccessToken: "b"}, Profile{ID: "sp-1"}))
	active, err = tokens.GetActive(userID, subscriptions.PlatformSpotify)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, "b", active.AccessToken)
	require.Equal(t, "r", active.RefreshToken)
	require.Equal(t, "Bearer", active.TokenType)
	require.Nil(t, active.ExpiresAt)

	deactivated, err = tokens.Deactivate(userID, "missing")
	require.NoError(t, err)
	require.False(t, deactivated)
}

func TestRoutes_ConnectAndCallback(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "routes@example.com")

	router := chi.NewRouter()
	RegisterRoutes(router, f.service)
	withUser := func(req *http.Request) *http.Request {
		return req.WithContext(auth.WithUser(req.Context(), auth.User{ID: userID, Role: auth.RoleUser, Type: auth.TokenTypeAccess}))
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/v1/platforms/youtube_music/connect", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "authorization_url", body["object"])
	state := stateFrom(t, body["url"].(string))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/platforms/youtube_music/callback?code=good-code&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "success=youtube_connected")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/v1/platforms/youtube/status", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["connected"])
	require.Equal(t, "youtube_music", body["platform"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/v1/platforms/spotify/connect", nil)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "PLATFORM_UNAVAILABLE")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/v1/platforms/spotify/liked-tracks", nil)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/v1/platforms/youtube/search", nil)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
