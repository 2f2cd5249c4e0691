package home

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/auth"
	"github.com/strefethen/music-central-go/internal/platforms"
)

// RegisterRoutes wires the home feed route.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/home", api.Handler(getHome(service)))
}

func getHome(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		data, err := service.HomeData(r.Context(), user.ID)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, FormatHome(data))
	}
}

// FormatHome renders the feed for the API.
func FormatHome(data Data) map[string]any {
	return map[string]any{
		"object": api.ObjectHome,
		"spotify": map[string]any{
			"top_tracks":         platforms.FormatTracks(data.Spotify.TopTracks),
			"new_releases":       platforms.FormatTracks(data.Spotify.NewReleases),
			"featured_playlists": platforms.FormatTracks(data.Spotify.FeaturedPlaylists),
			"trending":           platforms.FormatTracks(data.Spotify.Trending),
			"recently_played":    platforms.FormatTracks(data.Spotify.RecentlyPlayed),
		},
		"youtube": map[string]any{
			"trending_videos": platforms.FormatTracks(data.YouTube.TrendingVideos),
			"popular_music":   platforms.FormatTracks(data.YouTube.PopularMusic),
			"new_releases":    platforms.FormatTracks(data.YouTube.NewReleases),
			"top_charts":      platforms.FormatTracks(data.YouTube.TopCharts),
		},
		"continue_listening": platforms.FormatTracks(data.ContinueListening),
		"made_for_you":       platforms.FormatTracks(data.MadeForYou),
	}
}
