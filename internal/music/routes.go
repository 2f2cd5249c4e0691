package music

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/apperrors"
	"github.com/strefethen/music-central-go/internal/auth"
	"github.com/strefethen/music-central-go/internal/catalog"
	"github.com/strefethen/music-central-go/internal/platforms"
)

// RegisterRoutes wires the unified music routes.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/music/search", api.Handler(search(service)))
	router.Method(http.MethodGet, "/v1/music/tracks/{track_id}", api.Handler(getTrack(service)))
	router.Method(http.MethodPost, "/v1/music/plays", api.Handler(recordPlay(service)))
	router.Method(http.MethodGet, "/v1/music/history", api.Handler(history(service)))
}

func search(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			return apperrors.NewValidationError("Query parameter q is required", map[string]any{"field": "q"})
		}
		limit, err := api.QueryInt(r, "limit", DefaultSearchLimit, MaxSearchLimit)
		if err != nil {
			return err
		}

		tracks, err := service.SearchTracks(r.Context(), user.ID, query, limit)
		if err != nil {
			return mapError(err)
		}
		data := make([]map[string]any, 0, len(tracks))
		for i := range tracks {
			data = append(data, FormatTrack(&tracks[i]))
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"object":   "list",
			"url":      "/v1/music/search",
			"query":    query,
			"data":     data,
			"total":    len(data),
			"has_more": false,
		})
	}
}

func getTrack(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		trackID := chi.URLParam(r, "track_id")
		track, err := service.GetTrackDetails(r.Context(), user.ID, trackID)
		if err != nil {
			if errors.Is(err, ErrTrackNotFound) {
				return apperrors.NewAppError(apperrors.ErrorCodeTrackNotFound, "Track not found: "+trackID, http.StatusNotFound,
					map[string]any{"track_id": trackID}, nil)
			}
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, FormatTrack(track))
	}
}

func recordPlay(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		var input RecordPlayInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		play, err := service.RecordPlay(r.Context(), user.ID, input)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusCreated, FormatPlay(play))
	}
}

func history(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		limit, err := api.QueryInt(r, "limit", DefaultHistoryLimit, 100)
		if err != nil {
			return err
		}
		entries, err := service.ListeningHistory(r.Context(), user.ID, limit)
		if err != nil {
			return mapError(err)
		}
		data := make([]map[string]any, 0, len(entries))
		for i := range entries {
			formatted := FormatPlay(&entries[i].Play)
			formatted["track"] = FormatTrack(&entries[i].Track)
			data = append(data, formatted)
		}
		return api.WriteList(w, "/v1/music/history", data, false)
	}
}

func mapError(err error) error {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		return apperrors.NewValidationError(validationErr.Message, map[string]any{"field": validationErr.Field})
	case errors.Is(err, ErrTrackNotFound), errors.Is(err, platforms.ErrTrackNotFound):
		return apperrors.NewAppError(apperrors.ErrorCodeTrackNotFound, "Track not found", http.StatusNotFound, nil, nil)
	case errors.Is(err, platforms.ErrUnsupportedPlatform), errors.Is(err, platforms.ErrNotConfigured),
		errors.Is(err, platforms.ErrNotConnected):
		return apperrors.NewAppError(apperrors.ErrorCodePlatformUnavailable, "Platform is not available", http.StatusServiceUnavailable, nil, nil)
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var apiErr *platforms.APIError
	if errors.As(err, &apiErr) {
		return apperrors.NewUpstreamError("Platform request failed")
	}
	return err
}

// FormatTrack renders a playable track.
func FormatTrack(track *PlayableTrack) map[string]any {
	var source any
	if track.PlayableSource != nil {
		source = catalog.FormatSource(track.PlayableSource)
	}
	return map[string]any{
		"object":              api.ObjectTrack,
		"id":                  track.ID,
		"title":               track.Title,
		"artists":             track.Artists,
		"album":               nullable(track.Album),
		"duration":            track.Duration,
		"artwork":             track.Artwork,
		"playable_source":     source,
		"content_item_id":     nullable(track.ContentItemID),
		"resolved_by":         nullable(string(track.ResolvedBy)),
		"match_score":         track.MatchScore,
		"spotify_id":          nullable(track.SpotifyID),
		"youtube_video_id":    nullable(track.YouTubeVideoID),
		"spotify_url":         nullable(track.SpotifyURL),
		"youtube_url":         nullable(track.YouTubeURL),
		"genre":               nullable(track.Genre),
		"isrc":                nullable(track.ISRC),
		"explicit":            track.Explicit,
		"available_platforms": track.AvailablePlatforms,
		"primary_platform":    track.PrimaryPlatform,
	}
}

// FormatPlay renders a listening event.
func FormatPlay(play *Play) map[string]any {
	return map[string]any{
		"object":          api.ObjectPlay,
		"id":              play.ID,
		"content_item_id": play.ContentItemID,
		"source_id":       play.SourceID,
		"platform":        play.Platform,
		"ms_listened":     play.MsListened,
		"completed":       play.Completed,
		"started_at":      api.RFC3339Millis(play.StartedAt),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
