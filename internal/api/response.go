package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/strefethen/music-central-go/internal/apperrors"
)

// Object names used in the "object" field of resources.
const (
	ObjectTrack            = "track"
	ObjectContentItem      = "content_item"
	ObjectAudioSource      = "audio_source"
	ObjectContentMatch     = "content_match"
	ObjectPlay             = "play"
	ObjectSubscription     = "subscription"
	ObjectTier             = "subscription_tier"
	ObjectPlatform         = "platform"
	ObjectConnection       = "platform_connection"
	ObjectUser             = "user"
	ObjectTokenPair        = "token_pair"
	ObjectTokenRefresh     = "token_refresh"
	ObjectUpload           = "upload"
	ObjectUploadProgress   = "upload_progress"
	ObjectCheckoutSession  = "checkout_session"
	ObjectPortalSession    = "billing_portal_session"
	ObjectHome             = "home"
	ObjectAuditEvent       = "audit_event"
	ObjectPlatformStatus   = "platform_status"
	ObjectAuthorizationURL = "authorization_url"
	ObjectScheduledJob     = "scheduled_job"
	ObjectHealth           = "health"
	ObjectSystemInfo       = "system_info"
	ObjectAdminStats       = "admin_stats"
)

// StripeListResponse is the Stripe-style list response for all collection endpoints.
// Example: {"object": "list", "data": [...], "has_more": false, "url": "/v1/uploads"}
type StripeListResponse struct {
	Object  string `json:"object"`
	Data    any    `json:"data"`
	HasMore bool   `json:"has_more"`
	URL     string `json:"url"`
}

// StripeErrorResponse wraps errors in Stripe format.
type StripeErrorResponse struct {
	Error apperrors.StripeErrorBody `json:"error"`
}

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes an AppError into the Stripe-style error response.
// Response format: {"error": {"type": "...", "code": "...", "message": "..."}}
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)
	_ = WriteJSON(w, appErr.StatusCode, StripeErrorResponse{Error: appErr.StripeErrorBody()})
}

// WriteList writes a Stripe-style list response.
func WriteList(w http.ResponseWriter, url string, data any, hasMore bool) error {
	return WriteJSON(w, http.StatusOK, StripeListResponse{
		Object:  "list",
		Data:    data,
		HasMore: hasMore,
		URL:     url,
	})
}

// WriteResource writes a single resource directly. The resource should
// already carry its "object" field.
func WriteResource(w http.ResponseWriter, status int, resource any) error {
	return WriteJSON(w, status, resource)
}

// WriteAction writes an action result directly.
func WriteAction(w http.ResponseWriter, status int, result any) error {
	return WriteJSON(w, status, result)
}

// RFC3339Millis formats a timestamp with millisecond precision in UTC.
func RFC3339Millis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// RFC3339MillisPtr formats an optional timestamp, returning nil when absent.
func RFC3339MillisPtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	formatted := RFC3339Millis(*t)
	return &formatted
}
