package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/apperrors"
)

// RegisterRoutes wires the public health and info routes.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(health(service)))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(ready(service)))
	router.Method(http.MethodGet, "/v1/system/info", api.Handler(info(service)))
}

// RegisterAdminRoutes wires admin-only routes.
func RegisterAdminRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/admin/stats", api.Handler(stats(service)))
}

func health(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"object":    api.ObjectHealth,
			"status":    "healthy",
			"service":   ServiceName,
			"timestamp": api.RFC3339Millis(service.now()),
		})
	}
}

func ready(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		if err := service.Ready(r.Context()); err != nil {
			service.logger.Warn("readiness check failed", "error", err)
			return apperrors.NewServiceUnavailableError("Database unreachable")
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}
}

func info(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteResource(w, http.StatusOK, FormatInfo(service.Info(r.Context())))
	}
}

func stats(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		result, err := service.Stats(r.Context())
		if err != nil {
			service.logger.Error("stats query failed", "error", err)
			return apperrors.NewInternalError("Failed to load stats")
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":                 api.ObjectAdminStats,
			"users":                  result.Users,
			"content_items":          result.ContentItems,
			"sources_pending_review": result.SourcesPendingReview,
			"active_subscriptions":   result.ActiveSubscriptions,
			"uploads_by_status":      result.UploadsByStatus,
		})
	}
}

// FormatInfo renders server info.
func FormatInfo(info Info) map[string]any {
	return map[string]any{
		"object":               api.ObjectSystemInfo,
		"version":              info.Version,
		"uptime_seconds":       info.UptimeSeconds,
		"memory_mb":            info.MemoryMB,
		"database_connected":   info.DatabaseConnected,
		"scheduler_running":    info.SchedulerRunning,
		"configured_platforms": info.ConfiguredPlatforms,
	}
}
