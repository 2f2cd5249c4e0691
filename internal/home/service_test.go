package home

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/music-central-go/internal/auth"
	"github.com/strefethen/music-central-go/internal/platforms"
)

func tracks(platform, prefix string, n int) []platforms.Track {
	out := make([]platforms.Track, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, platforms.Track{
			Platform:   platform,
			ExternalID: fmt.Sprintf("%s%d", prefix, i),
			Title:      fmt.Sprintf("%s track %d", prefix, i),
			Artists:    []string{"Artist"},
		})
	}
	return out
}

type fakeSpotify struct {
	top, recent, recs []platforms.Track
	err               error

	mu    sync.Mutex
	seeds []string
}

func (f *fakeSpotify) TopTracks(ctx context.Context, limit int) ([]platforms.Track, error) {
	return f.top, f.err
}

func (f *fakeSpotify) RecentlyPlayed(ctx context.Context) ([]platforms.Track, error) {
	return f.recent, f.err
}

func (f *fakeSpotify) Recommendations(ctx context.Context, seeds []string, limit int) ([]platforms.Track, error) {
	f.mu.Lock()
	f.seeds = seeds
	f.mu.Unlock()
	return f.recs, f.err
}

type fakeYouTube struct {
	trending, popular []platforms.Track
	err               error
}

func (f *fakeYouTube) MostPopular(ctx context.Context, region string, limit int) ([]platforms.Track, error) {
	if f.err != nil {
		return nil, f.err
	}
	if region == "" {
		return f.trending, nil
	}
	return f.popular, nil
}

type fakeClients struct {
	spotify      *fakeSpotify
	youtube      *fakeYouTube
	spotifyCalls atomic.Int32
	youtubeCalls atomic.Int32
}

func (f *fakeClients) Spotify(ctx context.Context, userID string) (SpotifyFeed, error) {
	f.spotifyCalls.Add(1)
	if f.spotify == nil {
		return nil, platforms.ErrNotConnected
	}
	return f.spotify, nil
}

func (f *fakeClients) YouTube(ctx context.Context, userID string) (YouTubeFeed, error) {
	f.youtubeCalls.Add(1)
	if f.youtube == nil {
		return nil, platforms.ErrNotConnected
	}
	return f.youtube, nil
}

func connectedClients() *fakeClients {
	return &fakeClients{
		spotify: &fakeSpotify{
			top:    tracks("spotify", "top", 8),
			recent: tracks("spotify", "recent", 10),
			recs:   tracks("spotify", "rec", 10),
		},
		youtube: &fakeYouTube{
			trending: tracks("youtube", "trend", 10),
			popular:  tracks("youtube", "pop", 3),
		},
	}
}

func ids(list []platforms.Track) []string {
	out := make([]string, 0, len(list))
	for _, track := range list {
		out = append(out, track.ExternalID)
	}
	return out
}

func TestHomeDataAssemblesSections(t *testing.T) {
	clients := connectedClients()
	service := NewService(clients, time.Hour, nil)

	data, err := service.HomeData(context.Background(), "user-1")
	require.NoError(t, err)

	require.Len(t, data.Spotify.TopTracks, 8)
	require.Len(t, data.Spotify.FeaturedPlaylists, 10)
	require.Empty(t, data.Spotify.NewReleases)
	require.NotNil(t, data.Spotify.NewReleases)
	require.Empty(t, data.YouTube.TopCharts)
	require.Equal(t, []string{"top0", "top1", "top2", "top3", "top4"}, clients.spotify.seeds)

	require.Len(t, data.ContinueListening, 12)
	require.Equal(t, "recent0", data.ContinueListening[0].ExternalID)
	require.Equal(t, "trend0", data.ContinueListening[6].ExternalID)

	require.Len(t, data.MadeForYou, 9)
	require.Equal(t, []string{"rec0", "rec1", "rec2", "rec3", "rec4", "rec5", "pop0", "pop1", "pop2"}, ids(data.MadeForYou))
}

func TestHomeDataUnconnectedPlatformsAreEmpty(t *testing.T) {
	clients := &fakeClients{}
	service := NewService(clients, time.Hour, nil)

	data, err := service.HomeData(context.Background(), "user-1")
	require.NoError(t, err)
	require.Empty(t, data.Spotify.TopTracks)
	require.Empty(t, data.YouTube.TrendingVideos)
	require.Empty(t, data.ContinueListening)
	require.Empty(t, data.MadeForYou)

	// Not cached, so connecting later shows up immediately.
	clients.spotify = &fakeSpotify{top: tracks("spotify", "top", 2)}
	data, err = service.HomeData(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, data.Spotify.TopTracks, 2)
}

func TestHomeDataUsesCache(t *testing.T) {
	clients := connectedClients()
	service := NewService(clients, time.Hour, nil)

	_, err := service.HomeData(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = service.HomeData(context.Background(), "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, clients.spotifyCalls.Load())
	require.EqualValues(t, 1, clients.youtubeCalls.Load())

	_, err = service.HomeData(context.Background(), "user-2")
	require.NoError(t, err)
	require.EqualValues(t, 2, clients.spotifyCalls.Load())

	service.ClearUserCache("user-1")
	_, err = service.HomeData(context.Background(), "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, clients.spotifyCalls.Load())

	service.ClearAll()
	require.Zero(t, service.spotify.Len())
	require.Zero(t, service.youtube.Len())
}

func TestHomeDataServesStaleOnError(t *testing.T) {
	clients := connectedClients()
	service := NewService(clients, time.Hour, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	service.spotify.now = func() time.Time { return now }
	service.youtube.now = func() time.Time { return now }

	first, err := service.HomeData(context.Background(), "user-1")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	clients.spotify.err = errors.New("spotify down")
	clients.youtube.err = errors.New("youtube down")

	second, err := service.HomeData(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, ids(first.Spotify.TopTracks), ids(second.Spotify.TopTracks))
	require.Equal(t, ids(first.YouTube.PopularMusic), ids(second.YouTube.PopularMusic))
	require.EqualValues(t, 2, clients.spotifyCalls.Load())
}

func TestHomeDataErrorWithoutCacheIsEmpty(t *testing.T) {
	clients := connectedClients()
	clients.spotify.err = errors.New("spotify down")
	service := NewService(clients, time.Hour, nil)

	data, err := service.HomeData(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, data.Spotify.TopTracks)
	require.Empty(t, data.Spotify.TopTracks)
	require.Len(t, data.YouTube.TrendingVideos, 10)
}

func TestMixCapsAtTwelve(t *testing.T) {
	require.Len(t, mix(tracks("a", "a", 3), tracks("b", "b", 20)), 9)
	require.Len(t, mix(tracks("a", "a", 20), tracks("b", "b", 20)), 12)
	require.Empty(t, mix(nil, nil))
}

func TestCacheGetOrFetch(t *testing.T) {
	cache := NewCache[int](time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	value, err := cache.GetOrFetch("k", -1, func() (int, error) { return 1, nil })
	require.NoError(t, err)
	require.Equal(t, 1, value)

	value, err = cache.GetOrFetch("k", -1, func() (int, error) { return 2, nil })
	require.NoError(t, err)
	require.Equal(t, 1, value)

	now = now.Add(2 * time.Minute)
	boom := errors.New("boom")
	value, err = cache.GetOrFetch("k", -1, func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, value)

	value, err = cache.GetOrFetch("other", -1, func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, -1, value)
}

func TestHomeRoute(t *testing.T) {
	service := NewService(connectedClients(), time.Hour, nil)
	router := chi.NewRouter()
	RegisterRoutes(router, service)

	req := httptest.NewRequest(http.MethodGet, "/v1/home", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = req.WithContext(auth.WithUser(req.Context(), auth.User{ID: "user-1", Role: auth.RoleUser}))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Object  string `json:"object"`
		Spotify struct {
			TopTracks []map[string]any `json:"top_tracks"`
		} `json:"spotify"`
		YouTube struct {
			TopCharts []map[string]any `json:"top_charts"`
		} `json:"youtube"`
		ContinueListening []map[string]any `json:"continue_listening"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "home", body.Object)
	require.Len(t, body.Spotify.TopTracks, 8)
	require.NotNil(t, body.YouTube.TopCharts)
	require.Len(t, body.ContinueListening, 12)
	require.Equal(t, "spotify_recent0", body.ContinueListening[0]["id"])
}
