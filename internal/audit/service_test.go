package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/music-central-go/internal/api"
)

func TestService_RecordUsesRequestID(t *testing.T) {
	service := NewService(setupTestDB(t), nil)

	ctx := api.WithRequestID(context.Background(), "req-abc")
	service.Record(ctx, WriteEventInput{Type: EventUserSignedUp, UserID: Ptr("u1"), Message: "signed up"})

	events, total, hasMore, err := service.QueryEvents(EventQueryFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.False(t, hasMore)
	require.Equal(t, "req-abc", *events[0].RequestID)
}

func TestService_RecordOnNilService(t *testing.T) {
	var service *Service
	require.NotPanics(t, func() {
		service.Record(context.Background(), WriteEventInput{Type: EventSystemError, Message: "x"})
	})
}

func TestService_QueryEvents_ClampsLimit(t *testing.T) {
	service := NewService(setupTestDB(t), nil)
	for i := 0; i < 3; i++ {
		_, err := service.RecordEvent(WriteEventInput{Type: EventSystemStartup, Message: "x"})
		require.NoError(t, err)
	}

	events, total, hasMore, err := service.QueryEvents(EventQueryFilters{Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, 3, total)
	require.True(t, hasMore)

	_, _, _, err = service.QueryEvents(EventQueryFilters{Limit: MaxQueryLimit + 500})
	require.NoError(t, err)
}

func TestService_GetEvent_NotFound(t *testing.T) {
	service := NewService(setupTestDB(t), nil)

	_, err := service.GetEvent("missing")
	var notFound *EventNotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "missing", notFound.EventID)
}

func TestService_PruneUsesRetention(t *testing.T) {
	dbPair := setupTestDB(t)
	service := NewService(dbPair, nil)
	_, err := service.RecordEvent(WriteEventInput{Type: EventSystemStartup, Message: "x"})
	require.NoError(t, err)

	service.now = func() time.Time { return time.Now().AddDate(0, 0, DefaultRetentionDays+1) }
	require.NoError(t, service.Prune(context.Background()))

	_, total, _, err := service.QueryEvents(EventQueryFilters{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.True(t, service.IsHealthy())
}

func TestService_HealthDegradesAfterFailures(t *testing.T) {
	dbPair := setupTestDB(t)
	service := NewService(dbPair, nil)
	require.NoError(t, dbPair.Close())

	for i := 0; i < MaxConsecutiveFailures; i++ {
		_, err := service.RecordEvent(WriteEventInput{Type: EventSystemError, Message: "x"})
		require.Error(t, err)
	}
	require.False(t, service.IsHealthy())
}

func TestRoutes_QueryAndGet(t *testing.T) {
	service := NewService(setupTestDB(t), nil)
	event, err := service.RecordEvent(WriteEventInput{Type: EventSourceApproved, Level: EventLevelInfo, ResourceID: Ptr("src-1"), Message: "approved"})
	require.NoError(t, err)

	router := chi.NewRouter()
	RegisterRoutes(router, service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events?type=SOURCE_APPROVED&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"object":"list"`)
	require.Contains(t, rec.Body.String(), `"resource_id":"src-1"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events/"+event.EventID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"object":"audit_event"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events?level=LOUD", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
