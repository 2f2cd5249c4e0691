package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/strefethen/music-central-go/internal/apperrors"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// DecodeJSON decodes the request body into dst. An empty body leaves dst
// untouched; malformed JSON becomes a validation error.
func DecodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.NewValidationError("invalid request body", map[string]any{"reason": err.Error()})
	}
	return nil
}

// QueryInt parses an integer query parameter, clamped to [1, max].
func QueryInt(r *http.Request, key string, fallback, max int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, apperrors.NewValidationError(key+" must be a non-negative integer", map[string]any{key: raw})
	}
	if value == 0 {
		return fallback, nil
	}
	if max > 0 && value > max {
		value = max
	}
	return value, nil
}

// QueryOffset parses an offset query parameter, defaulting to zero.
func QueryOffset(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("offset")
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, apperrors.NewValidationError("offset must be a non-negative integer", map[string]any{"offset": raw})
	}
	return value, nil
}
