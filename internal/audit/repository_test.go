package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/music-central-go/internal/db"
)

func setupTestDB(t *testing.T) *db.DBPair {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	return dbPair
}

func TestRepository_InsertEvent(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	event, err := repo.InsertEvent(WriteEventInput{
		Type:      EventPlatformConnected,
		RequestID: Ptr("req-123"),
		UserID:    Ptr("user-1"),
		Platform:  Ptr("spotify"),
		Message:   "spotify connected",
		Payload:   map[string]any{"username": "listener"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, event.EventID)
	require.Equal(t, EventPlatformConnected, event.Type)
	require.Equal(t, EventLevelInfo, event.Level)
	require.Equal(t, "req-123", *event.RequestID)
	require.Equal(t, "user-1", *event.UserID)
	require.Equal(t, "spotify", *event.Platform)
	require.Nil(t, event.ResourceID)
	require.Equal(t, "listener", event.Payload["username"])
	require.False(t, event.Timestamp.IsZero())
}

func TestRepository_InsertEvent_NilPayload(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	event, err := repo.InsertEvent(WriteEventInput{Type: EventSystemStartup, Message: "No payload"})
	require.NoError(t, err)
	require.NotNil(t, event.Payload)
	require.Empty(t, event.Payload)
}

func TestRepository_GetEvent_NotFound(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	event, err := repo.GetEvent("missing")
	require.NoError(t, err)
	require.Nil(t, event)
}

func TestRepository_QueryEvents_Filters(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	_, err := repo.InsertEvent(WriteEventInput{Type: EventUploadStarted, UserID: Ptr("u1"), ResourceID: Ptr("up-1"), Message: "a"})
	require.NoError(t, err)
	_, err = repo.InsertEvent(WriteEventInput{Type: EventUploadFailed, Level: EventLevelError, UserID: Ptr("u1"), ResourceID: Ptr("up-1"), Message: "b"})
	require.NoError(t, err)
	_, err = repo.InsertEvent(WriteEventInput{Type: EventUploadStarted, UserID: Ptr("u2"), Message: "c"})
	require.NoError(t, err)

	eventType := EventUploadStarted
	events, total, err := repo.QueryEvents(EventQueryFilters{Type: &eventType})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, events, 2)

	level := EventLevelError
	events, total, err = repo.QueryEvents(EventQueryFilters{Level: &level})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, EventUploadFailed, events[0].Type)

	events, total, err = repo.QueryEvents(EventQueryFilters{UserID: Ptr("u1"), ResourceID: Ptr("up-1")})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, events, 2)

	events, total, err = repo.QueryEvents(EventQueryFilters{UserID: Ptr("nobody")})
	require.NoError(t, err)
	require.Zero(t, total)
	require.NotNil(t, events)
	require.Empty(t, events)
}

func TestRepository_QueryEvents_PaginationAndOrder(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	for _, message := range []string{"first", "second", "third"} {
		_, err := repo.InsertEvent(WriteEventInput{Type: EventUserLoggedIn, Message: message})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	events, total, err := repo.QueryEvents(EventQueryFilters{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, events, 2)
	require.Equal(t, "third", events[0].Message)
	require.Equal(t, "second", events[1].Message)

	events, _, err = repo.QueryEvents(EventQueryFilters{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "first", events[0].Message)
}

func TestRepository_QueryEvents_DateFilters(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	_, err := repo.InsertEvent(WriteEventInput{Type: EventSystemStartup, Message: "now"})
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	events, _, err := repo.QueryEvents(EventQueryFilters{StartDate: &future})
	require.NoError(t, err)
	require.Empty(t, events)

	past := time.Now().Add(-time.Hour)
	events, _, err = repo.QueryEvents(EventQueryFilters{StartDate: &past, EndDate: &future})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRepository_Prune(t *testing.T) {
	dbPair := setupTestDB(t)
	repo := NewRepository(dbPair)

	_, err := dbPair.Writer().Exec(`
		INSERT INTO audit_events (event_id, timestamp, type, level, message, payload)
		VALUES ('old', ?, 'SYSTEM_STARTUP', 'INFO', 'old', '{}')
	`, db.FormatTime(time.Now().AddDate(0, 0, -100)))
	require.NoError(t, err)
	_, err = repo.InsertEvent(WriteEventInput{Type: EventSystemStartup, Message: "fresh"})
	require.NoError(t, err)

	count, err := repo.Prune(time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	old, err := repo.GetEvent("old")
	require.NoError(t, err)
	require.Nil(t, old)
}
