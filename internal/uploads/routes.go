package uploads

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/apperrors"
	"github.com/strefethen/music-central-go/internal/auth"
	"github.com/strefethen/music-central-go/internal/catalog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RegisterRoutes wires upload, media and progress routes.
func RegisterRoutes(router chi.Router, service *Service, hub *Hub) {
	router.Method(http.MethodPost, "/v1/uploads", api.Handler(startUpload(service)))
	router.Method(http.MethodGet, "/v1/uploads", api.Handler(listUploads(service)))
	router.Method(http.MethodGet, "/v1/uploads/metadata", api.Handler(extractMetadata()))
	router.Method(http.MethodPut, "/v1/uploads/{upload_id}/file", api.Handler(storeFile(service)))
	router.Method(http.MethodPost, "/v1/uploads/{upload_id}/complete", api.Handler(completeUpload(service)))
	router.Method(http.MethodGet, "/v1/uploads/{upload_id}/progress", api.Handler(getProgress(service)))
	router.Method(http.MethodGet, "/v1/sources/{source_id}/audio-url", api.Handler(getAudioURL(service)))
	router.Method(http.MethodGet, "/v1/media/*", api.Handler(serveMedia(service)))
	router.HandleFunc("/ws/uploads", websocketHandler(hub))
}

// RegisterAdminRoutes wires moderation routes. Callers mount them behind
// admin auth.
func RegisterAdminRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/admin/sources/{source_id}/approve", api.Handler(approveSource(service)))
	router.Method(http.MethodPost, "/v1/admin/sources/{source_id}/reject", api.Handler(rejectSource(service)))
}

type startUploadRequest struct {
	File     FileInfo `json:"file"`
	Metadata Metadata `json:"metadata"`
}

func startUpload(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		var req startUploadRequest
		if err := api.DecodeJSON(r, &req); err != nil {
			return err
		}
		result, err := service.StartUpload(r.Context(), user.ID, req.File, req.Metadata)
		if err != nil {
			return mapError(err)
		}
		resource := FormatUpload(result.Upload)
		resource["upload_url"] = result.UploadURL
		resource["upload_url_expires_at"] = api.RFC3339Millis(result.ExpiresAt)
		return api.WriteResource(w, http.StatusCreated, resource)
	}
}

func listUploads(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		details, err := service.ListUserUploads(user.ID)
		if err != nil {
			return mapError(err)
		}
		data := make([]map[string]any, 0, len(details))
		for i := range details {
			resource := FormatUpload(&details[i].Upload)
			if details[i].Item != nil {
				resource["content_item"] = catalog.FormatItem(details[i].Item)
			}
			if details[i].Source != nil {
				resource["source"] = catalog.FormatSource(details[i].Source)
			}
			data = append(data, resource)
		}
		return api.WriteList(w, "/v1/uploads", data, false)
	}
}

func extractMetadata() func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		filename := r.URL.Query().Get("filename")
		if filename == "" {
			return apperrors.NewValidationError("filename is required", map[string]any{"field": "filename"})
		}
		metadata := ExtractMetadata(filename)
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         "upload_metadata",
			"title":          metadata.Title,
			"artists":        metadata.Artists,
			"explicit":       metadata.Explicit,
			"license":        metadata.License,
			"license_type":   metadata.LicenseType,
			"commercial_use": metadata.CommercialUse,
		})
	}
}

func storeFile(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		query := r.URL.Query()
		upload, err := service.StoreFile(chi.URLParam(r, "upload_id"), query.Get("expires"), query.Get("sig"), r.Body)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, FormatUpload(upload))
	}
}

func completeUpload(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		upload, err := service.CompleteUpload(r.Context(), user.ID, chi.URLParam(r, "upload_id"))
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, FormatUpload(upload))
	}
}

func getProgress(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		progress, err := service.Progress(user.ID, chi.URLParam(r, "upload_id"))
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, FormatProgress(progress))
	}
}

func getAudioURL(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		sourceID := chi.URLParam(r, "source_id")
		audioURL, expiresAt, err := service.SourceAudioURL(sourceID, user)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":     "audio_url",
			"source_id":  sourceID,
			"url":        audioURL,
			"expires_at": api.RFC3339Millis(expiresAt),
		})
	}
}

func serveMedia(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		// The route param is already decoded, so unescape the raw path once.
		escaped, ok := strings.CutPrefix(r.URL.EscapedPath(), "/v1/media/")
		if !ok {
			return apperrors.NewNotFoundResource("Media", "")
		}
		key, err := url.PathUnescape(escaped)
		if err != nil {
			return apperrors.NewNotFoundResource("Media", "")
		}
		query := r.URL.Query()
		file, err := service.OpenMedia(key, query.Get("expires"), query.Get("sig"))
		if err != nil {
			return mapError(err)
		}
		defer file.Close()
		info, err := file.Stat()
		if err != nil {
			return err
		}
		w.Header().Set("Cache-Control", "private, max-age=3600")
		http.ServeContent(w, r, info.Name(), info.ModTime(), file)
		return nil
	}
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func approveSource(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		source, err := service.Approve(r.Context(), chi.URLParam(r, "source_id"), user)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, catalog.FormatSource(source))
	}
}

func rejectSource(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		var req rejectRequest
		if err := api.DecodeJSON(r, &req); err != nil {
			return err
		}
		if req.Reason == "" {
			return apperrors.NewValidationError("reason is required", map[string]any{"field": "reason"})
		}
		source, err := service.Reject(r.Context(), chi.URLParam(r, "source_id"), user, req.Reason)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, catalog.FormatSource(source))
	}
}

func websocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := auth.CurrentUser(r)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the response.
			return
		}
		hub.Register(user.ID, conn)
	}
}

func mapError(err error) error {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		return apperrors.NewAppError(apperrors.ErrorCodeUploadInvalid, "Upload validation failed", http.StatusBadRequest,
			map[string]any{"errors": validationErr.Errors}, nil)
	case errors.Is(err, ErrUploadNotFound):
		return apperrors.NewAppError(apperrors.ErrorCodeUploadNotFound, "Upload not found", http.StatusNotFound, nil, nil)
	case errors.Is(err, ErrInvalidState):
		return apperrors.NewConflictError(err.Error(), nil)
	case errors.Is(err, ErrFileMissing):
		return apperrors.NewBadRequest(apperrors.ErrorCodeUploadInvalid, "Upload file has not been received", nil)
	case errors.Is(err, ErrFileTooLarge):
		return apperrors.NewAppError(apperrors.ErrorCodeUploadInvalid, "Upload file is too large", http.StatusRequestEntityTooLarge, nil, nil)
	case errors.Is(err, ErrInvalidSignature):
		return apperrors.NewForbiddenError("Invalid or expired signature")
	case errors.Is(err, ErrAdminRequired):
		return apperrors.NewForbiddenError("Admin access required", apperrors.ErrorCodeAdminRequired)
	case errors.Is(err, ErrInvalidKey), errors.Is(err, catalog.ErrSourceNotFound):
		return apperrors.NewNotFoundResource("Source", "")
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.NewInternalError("Upload request failed")
}

// FormatUpload renders an upload.
func FormatUpload(upload *Upload) map[string]any {
	artists := upload.Metadata.Artists
	if artists == nil {
		artists = []string{}
	}
	return map[string]any{
		"object":            api.ObjectUpload,
		"id":                upload.ID,
		"original_filename": upload.OriginalFilename,
		"file_size":         upload.FileSize,
		"content_type":      upload.ContentType,
		"status":            string(upload.Status),
		"progress":          ProgressFor(upload.Status),
		"error":             upload.Error,
		"duration_ms":       upload.DurationMs,
		"content_item_id":   upload.ContentItemID,
		"source_id":         upload.SourceID,
		"metadata": map[string]any{
			"title":        upload.Metadata.Title,
			"artists":      artists,
			"album":        upload.Metadata.Album,
			"genre":        upload.Metadata.Genre,
			"explicit":     upload.Metadata.Explicit,
			"license":      upload.Metadata.License,
			"license_type": upload.Metadata.LicenseType,
		},
		"created_at": api.RFC3339Millis(upload.CreatedAt),
		"updated_at": api.RFC3339Millis(upload.UpdatedAt),
	}
}

// FormatProgress renders upload progress.
func FormatProgress(progress Progress) map[string]any {
	return map[string]any{
		"object":    api.ObjectUploadProgress,
		"upload_id": progress.UploadID,
		"status":    string(progress.Status),
		"progress":  progress.Progress,
		"error":     progress.Error,
	}
}
