package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestService_CreateItem_Validation(t *testing.T) {
	service := NewService(setupTestDB(t), nil)

	_, err := service.CreateItem(CreateContentItemInput{Title: "   "})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "title", validationErr.Field)

	item, err := service.CreateItem(CreateContentItemInput{Title: " Song ", Artists: []string{" A ", "", "B"}})
	require.NoError(t, err)
	require.Equal(t, "Song", item.Title)
	require.Equal(t, []string{"A", "B"}, item.Artists)
}

func TestService_AddSource_Defaults(t *testing.T) {
	service := NewService(setupTestDB(t), nil)
	item, err := service.CreateItem(CreateContentItemInput{Title: "Song"})
	require.NoError(t, err)

	source, err := service.AddSource(item.ID, CreateSourceInput{Kind: SourceKindPublicDomain})
	require.NoError(t, err)
	require.Equal(t, SourceStatusPendingReview, source.Status)
	require.Equal(t, "commercial", source.License)
	require.Equal(t, "mp3", source.Format)

	_, err = service.AddSource(item.ID, CreateSourceInput{Kind: "bootleg"})
	require.Error(t, err)

	_, err = service.AddSource("missing", CreateSourceInput{Kind: SourceKindOpenCC})
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestService_CreateContentMatch(t *testing.T) {
	service := NewService(setupTestDB(t), nil)
	item, err := service.CreateItem(CreateContentItemInput{Title: "Song"})
	require.NoError(t, err)
	source, err := service.AddSource(item.ID, CreateSourceInput{Kind: SourceKindOpenCC, Status: SourceStatusActive})
	require.NoError(t, err)

	t.Run("metadata only without source", func(t *testing.T) {
		match, err := service.CreateContentMatch(CreateMatchInput{ExternalID: "yt-1", ExternalPlatform: "youtube", ContentItemID: item.ID})
		require.NoError(t, err)
		require.Equal(t, 0.0, match.MatchConfidence)
		require.Equal(t, MatchMethodMetadataOnly, match.MatchMethod)
		require.Nil(t, match.SourceID)
	})

	t.Run("manual with source", func(t *testing.T) {
		match, err := service.CreateContentMatch(CreateMatchInput{ExternalID: "sp-1", ExternalPlatform: "spotify", ContentItemID: item.ID, SourceID: &source.ID})
		require.NoError(t, err)
		require.Equal(t, 1.0, match.MatchConfidence)
		require.Equal(t, MatchMethodManual, match.MatchMethod)
	})

	t.Run("source from another item", func(t *testing.T) {
		other, err := service.CreateItem(CreateContentItemInput{Title: "Other"})
		require.NoError(t, err)
		_, err = service.CreateContentMatch(CreateMatchInput{ExternalID: "sp-2", ExternalPlatform: "spotify", ContentItemID: other.ID, SourceID: &source.ID})
		require.ErrorIs(t, err, ErrSourceMismatch)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := service.CreateContentMatch(CreateMatchInput{ExternalID: "sp-3", ExternalPlatform: "spotify", ContentItemID: "missing"})
		require.ErrorIs(t, err, ErrItemNotFound)
	})

	t.Run("unknown platform", func(t *testing.T) {
		var validationErr *ValidationError
		_, err := service.CreateContentMatch(CreateMatchInput{ExternalID: "yt-2", ExternalPlatform: "youtube_music", ContentItemID: item.ID})
		require.ErrorAs(t, err, &validationErr)
		require.Equal(t, "external_platform", validationErr.Field)

		match, err := service.GetContentMatch("yt-2", "youtube_music")
		require.NoError(t, err)
		require.Nil(t, match)
	})
}

func newTestRouter(t *testing.T) (*chi.Mux, *Service) {
	t.Helper()
	service := NewService(setupTestDB(t), nil)
	router := chi.NewRouter()
	RegisterRoutes(router, service)
	RegisterAdminRoutes(router, service)
	return router, service
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRoutes_ItemLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/catalog/items",
		strings.NewReader(`{"title":"Song","artists":["Artist"],"duration_ms":180000}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	item := decodeBody(t, rec)
	require.Equal(t, "content_item", item["object"])
	itemID := item["id"].(string)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/catalog/items/"+itemID+"/sources",
		strings.NewReader(`{"kind":"open_cc","url":"https://cdn.example.com/a.mp3"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	source := decodeBody(t, rec)
	require.Equal(t, "pending_review", source["status"])
	sourceID := source["id"].(string)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/v1/catalog/sources/"+sourceID,
		strings.NewReader(`{"status":"active"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "active", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/catalog/items/"+itemID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	loaded := decodeBody(t, rec)
	require.Len(t, loaded["sources"], 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/catalog/items", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody(t, rec)
	require.Equal(t, "list", list["object"])
	require.Len(t, list["data"], 1)
}

func TestRoutes_Matches(t *testing.T) {
	router, service := newTestRouter(t)
	item, err := service.CreateItem(CreateContentItemInput{Title: "Song"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/catalog/matches",
		strings.NewReader(`{"external_id":"sp-1","external_platform":"spotify","content_item_id":"`+item.ID+`"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "metadata_only", decodeBody(t, rec)["match_method"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/catalog/matches?external_id=sp-1&platform=spotify", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, item.ID, decodeBody(t, rec)["content_item_id"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/catalog/matches?external_id=sp-1", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/catalog/matches?external_id=nope&platform=spotify", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_NotFoundAndValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/catalog/items/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/catalog/items", strings.NewReader(`{"title":""}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "VALIDATION_ERROR", body["error"].(map[string]any)["code"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/v1/catalog/sources/missing", strings.NewReader(`{"status":"active"}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
