package scheduler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/apperrors"
)

// RegisterRoutes wires the admin scheduler routes. The caller guards them
// with the admin middleware.
func RegisterRoutes(router chi.Router, s *Scheduler) {
	router.Method(http.MethodGet, "/v1/admin/scheduler/jobs", api.Handler(listJobs(s)))
	router.Method(http.MethodPost, "/v1/admin/scheduler/jobs/{name}/run", api.Handler(runJob(s)))
}

func listJobs(s *Scheduler) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		jobs := s.Jobs()
		data := make([]map[string]any, 0, len(jobs))
		for i := range jobs {
			data = append(data, FormatJob(&jobs[i]))
		}
		return api.WriteList(w, "/v1/admin/scheduler/jobs", data, false)
	}
}

func runJob(s *Scheduler) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		name := chi.URLParam(r, "name")
		runErr := s.RunNow(r.Context(), name)
		if errors.Is(runErr, ErrJobNotFound) {
			return apperrors.NewNotFoundResource("Scheduled job", name)
		}
		if errors.Is(runErr, ErrJobRunning) {
			return apperrors.NewConflictError("Scheduled job is already running", map[string]any{"name": name})
		}
		status, err := s.Job(name)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, FormatJob(&status))
	}
}

// FormatJob renders a job status.
func FormatJob(status *JobStatus) map[string]any {
	var lastError any
	if status.LastError != "" {
		lastError = status.LastError
	}
	return map[string]any{
		"object":           api.ObjectScheduledJob,
		"name":             status.Name,
		"schedule":         status.Spec,
		"next_run_at":      api.RFC3339MillisPtr(status.NextRunAt),
		"last_run_at":      api.RFC3339MillisPtr(status.LastRunAt),
		"last_duration_ms": status.LastDuration.Milliseconds(),
		"last_error":       lastError,
		"runs":             status.Runs,
		"failures":         status.Failures,
	}
}
