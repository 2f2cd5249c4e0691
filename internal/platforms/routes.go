package platforms

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/apperrors"
	"github.com/strefethen/music-central-go/internal/auth"
)

// RegisterRoutes wires platform connection routes.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/platforms/{platform}/connect", api.Handler(connect(service)))
	router.Method(http.MethodGet, "/v1/platforms/{platform}/callback", api.Handler(callback(service)))
	router.Method(http.MethodGet, "/v1/platforms/{platform}/status", api.Handler(status(service)))
	router.Method(http.MethodPost, "/v1/platforms/{platform}/disconnect", api.Handler(disconnect(service)))
	router.Method(http.MethodGet, "/v1/platforms/{platform}/liked-tracks", api.Handler(likedTracks(service)))
	router.Method(http.MethodGet, "/v1/platforms/{platform}/search", api.Handler(search(service)))
	router.Method(http.MethodGet, "/v1/platforms/{platform}/playlists", api.Handler(playlists(service)))
	router.Method(http.MethodGet, "/v1/platforms/{platform}/playlists/{playlist_id}/tracks", api.Handler(playlistTracks(service)))
}

func connect(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		platform := chi.URLParam(r, "platform")
		authURL, err := service.AuthorizationURL(r.Context(), user.ID, platform)
		if err != nil {
			return mapError(err, platform)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":   api.ObjectAuthorizationURL,
			"platform": platform,
			"url":      authURL,
		})
	}
}

func callback(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		q := r.URL.Query()
		target := service.HandleCallback(r.Context(), chi.URLParam(r, "platform"),
			q.Get("code"), q.Get("state"), q.Get("error"))
		http.Redirect(w, r, target, http.StatusFound)
		return nil
	}
}

func status(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		platform := chi.URLParam(r, "platform")
		st, err := service.Status(user.ID, platform)
		if err != nil {
			return mapError(err, platform)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":           api.ObjectPlatformStatus,
			"platform":         st.Platform,
			"connected":        st.Connected,
			"service_user_id":  st.ServiceUserID,
			"service_username": st.ServiceUsername,
		})
	}
}

func disconnect(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		platform := chi.URLParam(r, "platform")
		if err := service.Disconnect(r.Context(), user.ID, platform); err != nil {
			return mapError(err, platform)
		}
		return api.WriteAction(w, http.StatusOK, map[string]any{
			"disconnected": true,
			"platform":     platform,
		})
	}
}

func likedTracks(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		limit, err := api.QueryInt(r, "limit", 50, 50)
		if err != nil {
			return err
		}
		platform := chi.URLParam(r, "platform")
		client, err := service.Client(r.Context(), user.ID, platform)
		if err != nil {
			return mapError(err, platform)
		}
		page, err := client.LikedTracks(r.Context(), limit, r.URL.Query().Get("cursor"))
		if err != nil {
			return mapError(err, platform)
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"object":      "list",
			"url":         r.URL.Path,
			"data":        FormatTracks(page.Tracks),
			"has_more":    page.Next != "",
			"next_cursor": page.Next,
		})
	}
}

func search(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			return apperrors.NewValidationError("q is required", map[string]any{"field": "q"})
		}
		limit, err := api.QueryInt(r, "limit", 20, 50)
		if err != nil {
			return err
		}
		platform := chi.URLParam(r, "platform")
		client, err := service.SearchClient(r.Context(), user.ID, platform)
		if err != nil {
			return mapError(err, platform)
		}
		tracks, err := client.SearchTracks(r.Context(), query, limit)
		if err != nil {
			return mapError(err, platform)
		}
		return api.WriteList(w, r.URL.Path, FormatTracks(tracks), false)
	}
}

func playlists(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		limit, err := api.QueryInt(r, "limit", 50, 50)
		if err != nil {
			return err
		}
		platform := chi.URLParam(r, "platform")
		client, err := service.Client(r.Context(), user.ID, platform)
		if err != nil {
			return mapError(err, platform)
		}
		lists, err := client.Playlists(r.Context(), limit)
		if err != nil {
			return mapError(err, platform)
		}
		data := make([]map[string]any, 0, len(lists))
		for i := range lists {
			data = append(data, FormatPlaylist(&lists[i]))
		}
		return api.WriteList(w, r.URL.Path, data, false)
	}
}

func playlistTracks(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		limit, err := api.QueryInt(r, "limit", 50, 100)
		if err != nil {
			return err
		}
		platform := chi.URLParam(r, "platform")
		client, err := service.Client(r.Context(), user.ID, platform)
		if err != nil {
			return mapError(err, platform)
		}
		tracks, err := client.PlaylistTracks(r.Context(), chi.URLParam(r, "playlist_id"), limit)
		if err != nil {
			return mapError(err, platform)
		}
		return api.WriteList(w, r.URL.Path, FormatTracks(tracks), false)
	}
}

func mapError(err error, platform string) error {
	details := map[string]any{"platform": platform}
	switch {
	case errors.Is(err, ErrUnsupportedPlatform):
		return apperrors.NewBadRequest(apperrors.ErrorCodePlatformUnavailable, "Platform is not supported: "+platform, details)
	case errors.Is(err, ErrNotConfigured):
		return apperrors.NewAppError(apperrors.ErrorCodePlatformUnavailable, "Platform is not configured: "+platform, http.StatusServiceUnavailable, details, nil)
	case errors.Is(err, ErrPlatformLimit):
		return apperrors.NewForbiddenError("Platform limit reached for your subscription tier", apperrors.ErrorCodePlatformLimitReached).
			WithRemediation(&apperrors.Remediation{
				Action:     "upgrade_subscription",
				Endpoint:   "/v1/billing/checkout-session",
				UserAction: "Upgrade your plan or disconnect another platform",
			})
	case errors.Is(err, ErrNotConnected):
		return apperrors.NewBadRequest(apperrors.ErrorCodePlatformNotConnected, "Platform is not connected: "+platform, details).
			WithRemediation(&apperrors.Remediation{
				Action:   "connect_platform",
				Endpoint: "/v1/platforms/" + platform + "/connect",
			})
	case errors.Is(err, ErrTrackNotFound):
		return apperrors.NewAppError(apperrors.ErrorCodeTrackNotFound, "Track not found", http.StatusNotFound, details, nil)
	default:
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return apperrors.NewRateLimitError("Platform rate limit exceeded")
		}
		return apperrors.NewUpstreamError("Platform request failed: " + platform)
	}
}

// FormatTracks renders platform tracks.
func FormatTracks(tracks []Track) []map[string]any {
	result := make([]map[string]any, 0, len(tracks))
	for i := range tracks {
		result = append(result, FormatTrack(&tracks[i]))
	}
	return result
}

// FormatTrack renders a platform track.
func FormatTrack(track *Track) map[string]any {
	artists := track.Artists
	if artists == nil {
		artists = []string{}
	}
	return map[string]any{
		"object":       api.ObjectTrack,
		"id":           track.Platform + "_" + track.ExternalID,
		"platform":     track.Platform,
		"external_id":  track.ExternalID,
		"title":        track.Title,
		"artists":      artists,
		"album":        track.Album,
		"duration":     track.DurationSec,
		"artwork":      track.ArtworkURL,
		"isrc":         track.ISRC,
		"explicit":     track.Explicit,
		"external_url": track.ExternalURL,
	}
}

// FormatPlaylist renders a platform playlist.
func FormatPlaylist(playlist *Playlist) map[string]any {
	return map[string]any{
		"object":      "playlist",
		"id":          playlist.ID,
		"platform":    playlist.Platform,
		"name":        playlist.Name,
		"description": playlist.Description,
		"owner":       playlist.Owner,
		"artwork":     playlist.ArtworkURL,
		"track_count": playlist.TrackCount,
		"public":      playlist.Public,
	}
}
