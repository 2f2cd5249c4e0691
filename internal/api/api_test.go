package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/music-central-go/internal/apperrors"
)

func TestHandlerWritesStripeError(t *testing.T) {
	handler := Handler(func(w http.ResponseWriter, r *http.Request) error {
		return apperrors.NewNotFoundResource("Track", "own_9")
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/music/tracks/own_9", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body StripeErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, apperrors.ErrorTypeInvalidRequest, body.Error.Type)
	require.Equal(t, "NOT_FOUND", body.Error.Code)
	require.Equal(t, "Track not found: own_9", body.Error.Message)
}

func TestHandlerHidesPlainErrors(t *testing.T) {
	handler := Handler(func(w http.ResponseWriter, r *http.Request) error {
		return errors.New("sql: connection refused")
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	handler.ServeHTTP(rec, req)
	require.Equal(t, "req-abc", seen)
	require.Equal(t, "req-abc", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.NotEqual(t, "req-abc", seen)
}

func TestRecovererMiddleware(t *testing.T) {
	var logs bytes.Buffer
	logger := log.New(&logs)
	handler := RecovererMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, logs.String(), "panic recovered")
}

func TestWriteList(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteList(rec, "/v1/uploads", []string{"a", "b"}, true))

	var body StripeListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "list", body.Object)
	require.True(t, body.HasMore)
	require.Equal(t, "/v1/uploads", body.URL)
	require.Len(t, body.Data, 2)
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Ada"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	require.Equal(t, "Ada", dst.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	require.NoError(t, DecodeJSON(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	err := DecodeJSON(req, &dst)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, apperrors.EnsureAppError(err).StatusCode)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	limit, err := QueryInt(req, "limit", 20, 50)
	require.NoError(t, err)
	require.Equal(t, 50, limit)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	limit, err = QueryInt(req, "limit", 20, 50)
	require.NoError(t, err)
	require.Equal(t, 20, limit)

	req = httptest.NewRequest(http.MethodGet, "/?limit=abc", nil)
	_, err = QueryInt(req, "limit", 20, 50)
	require.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/?offset=-1", nil)
	_, err = QueryOffset(req)
	require.Error(t, err)
}
