package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/apperrors"
)

// RegisterRoutes wires read-only catalog routes.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/catalog/items", api.Handler(listItems(service)))
	router.Method(http.MethodGet, "/v1/catalog/items/{item_id}", api.Handler(getItem(service)))
	router.Method(http.MethodGet, "/v1/catalog/matches", api.Handler(getMatch(service)))
}

// RegisterAdminRoutes wires catalog write routes. Callers mount them behind
// admin auth.
func RegisterAdminRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/catalog/items", api.Handler(createItem(service)))
	router.Method(http.MethodPost, "/v1/catalog/items/{item_id}/sources", api.Handler(addSource(service)))
	router.Method(http.MethodPost, "/v1/catalog/matches", api.Handler(createMatch(service)))
	router.Method(http.MethodPatch, "/v1/catalog/sources/{source_id}", api.Handler(updateSource(service)))
}

func listItems(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		limit, err := api.QueryInt(r, "limit", 50, 100)
		if err != nil {
			return err
		}
		offset, err := api.QueryOffset(r)
		if err != nil {
			return err
		}

		items, total, err := service.ListItems(limit, offset)
		if err != nil {
			return apperrors.NewInternalError("Failed to list content items")
		}

		formatted := make([]map[string]any, 0, len(items))
		for i := range items {
			formatted = append(formatted, FormatItem(&items[i]))
		}
		return api.WriteList(w, "/v1/catalog/items", formatted, offset+len(items) < total)
	}
}

func getItem(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		itemID := chi.URLParam(r, "item_id")
		item, sources, err := service.GetItem(itemID)
		if err != nil {
			return mapError(err, itemID)
		}

		formattedSources := make([]map[string]any, 0, len(sources))
		for i := range sources {
			formattedSources = append(formattedSources, FormatSource(&sources[i]))
		}
		result := FormatItem(item)
		result["sources"] = formattedSources
		return api.WriteResource(w, http.StatusOK, result)
	}
}

func getMatch(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		externalID := r.URL.Query().Get("external_id")
		platform := r.URL.Query().Get("platform")
		if externalID == "" || platform == "" {
			return apperrors.NewValidationError("external_id and platform are required", nil)
		}

		match, err := service.GetContentMatch(externalID, platform)
		if err != nil {
			return apperrors.NewInternalError("Failed to load content match")
		}
		if match == nil {
			return apperrors.NewNotFoundResource("Content match", platform+":"+externalID)
		}
		return api.WriteResource(w, http.StatusOK, FormatMatch(match))
	}
}

func createItem(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input CreateContentItemInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		item, err := service.CreateItem(input)
		if err != nil {
			return mapError(err, "")
		}
		return api.WriteResource(w, http.StatusCreated, FormatItem(item))
	}
}

func addSource(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		itemID := chi.URLParam(r, "item_id")
		var input CreateSourceInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		source, err := service.AddSource(itemID, input)
		if err != nil {
			return mapError(err, itemID)
		}
		return api.WriteResource(w, http.StatusCreated, FormatSource(source))
	}
}

func createMatch(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input CreateMatchInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		match, err := service.CreateContentMatch(input)
		if err != nil {
			return mapError(err, input.ContentItemID)
		}
		return api.WriteResource(w, http.StatusOK, FormatMatch(match))
	}
}

func updateSource(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		sourceID := chi.URLParam(r, "source_id")
		var body struct {
			Status SourceStatus `json:"status"`
		}
		if err := api.DecodeJSON(r, &body); err != nil {
			return err
		}
		source, err := service.SetSourceStatus(sourceID, body.Status)
		if err != nil {
			return mapError(err, sourceID)
		}
		return api.WriteResource(w, http.StatusOK, FormatSource(source))
	}
}

func mapError(err error, id string) error {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		return apperrors.NewValidationError(validationErr.Error(), map[string]any{"field": validationErr.Field})
	case errors.Is(err, ErrItemNotFound):
		return apperrors.NewNotFoundResource("Content item", id)
	case errors.Is(err, ErrSourceNotFound):
		return apperrors.NewNotFoundResource("Source", id)
	case errors.Is(err, ErrSourceMismatch):
		return apperrors.NewValidationError(err.Error(), nil)
	default:
		return apperrors.NewInternalError("Catalog request failed")
	}
}

// FormatItem renders a content item.
func FormatItem(item *ContentItem) map[string]any {
	external := item.External
	if external == nil {
		external = map[string]string{}
	}
	artists := item.Artists
	if artists == nil {
		artists = []string{}
	}
	return map[string]any{
		"object":       api.ObjectContentItem,
		"id":           item.ID,
		"title":        item.Title,
		"artists":      artists,
		"album":        item.Album,
		"duration_ms":  item.DurationMs,
		"isrc":         item.ISRC,
		"release_date": item.ReleaseDate,
		"genre":        item.Genre,
		"language":     item.Language,
		"explicit":     item.Explicit,
		"thumbnails":   item.Thumbnails,
		"external":     external,
		"created_at":   api.RFC3339Millis(item.CreatedAt),
		"updated_at":   api.RFC3339Millis(item.UpdatedAt),
	}
}

// FormatSource renders an audio source.
func FormatSource(source *AudioSource) map[string]any {
	return map[string]any{
		"object":           api.ObjectAudioSource,
		"id":               source.ID,
		"content_item_id":  source.ContentItemID,
		"kind":             string(source.Kind),
		"url":              source.URL,
		"storage_key":      source.StorageKey,
		"license":          source.License,
		"bitrate":          source.Bitrate,
		"format":           source.Format,
		"hls_manifest_url": source.HLSManifestURL,
		"status":           string(source.Status),
		"uploaded_by":      source.UploadedBy,
		"created_at":       api.RFC3339Millis(source.CreatedAt),
		"updated_at":       api.RFC3339Millis(source.UpdatedAt),
	}
}

// FormatMatch renders a content match.
func FormatMatch(match *ContentMatch) map[string]any {
	return map[string]any{
		"object":            api.ObjectContentMatch,
		"id":                match.ID,
		"external_id":       match.ExternalID,
		"external_platform": match.ExternalPlatform,
		"content_item_id":   match.ContentItemID,
		"source_id":         match.SourceID,
		"match_confidence":  match.MatchConfidence,
		"match_method":      string(match.MatchMethod),
		"created_at":        api.RFC3339Millis(match.CreatedAt),
	}
}
