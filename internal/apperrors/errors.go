package apperrors

import "errors"

// =============================================================================
// Error Codes
// =============================================================================

type ErrorCode string

const (
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError    ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrorCodeConflict           ErrorCode = "CONFLICT"
	ErrorCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeUpstream           ErrorCode = "UPSTREAM_ERROR"

	ErrorCodeAuthTokenExpired       ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid       ErrorCode = "AUTH_TOKEN_INVALID"
	ErrorCodeAuthInvalidCredentials ErrorCode = "AUTH_INVALID_CREDENTIALS"
	ErrorCodeEmailTaken             ErrorCode = "EMAIL_TAKEN"
	ErrorCodeAdminRequired          ErrorCode = "ADMIN_REQUIRED"

	ErrorCodePlatformLimitReached ErrorCode = "PLATFORM_LIMIT_REACHED"
	ErrorCodePlatformNotConnected ErrorCode = "PLATFORM_NOT_CONNECTED"
	ErrorCodePlatformUnavailable  ErrorCode = "PLATFORM_UNAVAILABLE"
	ErrorCodeOAuthStateInvalid    ErrorCode = "OAUTH_STATE_INVALID"

	ErrorCodeInvalidTier             ErrorCode = "INVALID_TIER"
	ErrorCodeInvalidBillingCycle     ErrorCode = "INVALID_BILLING_CYCLE"
	ErrorCodeSubscriptionNotFound    ErrorCode = "SUBSCRIPTION_NOT_FOUND"
	ErrorCodeWebhookSignatureInvalid ErrorCode = "WEBHOOK_SIGNATURE_INVALID"

	ErrorCodeTrackNotFound  ErrorCode = "TRACK_NOT_FOUND"
	ErrorCodeUploadInvalid  ErrorCode = "UPLOAD_INVALID"
	ErrorCodeUploadNotFound ErrorCode = "UPLOAD_NOT_FOUND"
)

// Remediation provides guidance on how to fix an error.
type Remediation struct {
	Action     string `json:"action"`
	Endpoint   string `json:"endpoint,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

// =============================================================================
// Stripe API Error Types
// =============================================================================

// ErrorType categorizes errors following Stripe API conventions.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates invalid parameters, missing required fields, etc.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAPIError indicates an internal API error.
	ErrorTypeAPIError ErrorType = "api_error"
	// ErrorTypeAuthError indicates authentication or authorization failure.
	ErrorTypeAuthError ErrorType = "authentication_error"
)

// StripeErrorBody is the Stripe-style error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type StripeErrorBody struct {
	Type        ErrorType      `json:"type"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Remediation *Remediation   `json:"remediation,omitempty"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code        ErrorCode
	Message     string
	StatusCode  int
	Details     map[string]any
	Remediation *Remediation
}

func (err *AppError) Error() string {
	return err.Message
}

// StripeErrorBody returns the error in Stripe API format.
func (err *AppError) StripeErrorBody() StripeErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == 401 || err.StatusCode == 403:
		errType = ErrorTypeAuthError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	}

	return StripeErrorBody{
		Type:        errType,
		Code:        string(err.Code),
		Message:     err.Message,
		Details:     err.Details,
		Remediation: err.Remediation,
	}
}

// WithRemediation attaches remediation guidance and returns the error.
func (err *AppError) WithRemediation(remediation *Remediation) *AppError {
	err.Remediation = remediation
	return err
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any, remediation *Remediation) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		Details:     details,
		Remediation: remediation,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, 400, details, nil)
}

// NewBadRequest builds a 400 with a domain-specific code.
func NewBadRequest(code ErrorCode, message string, details map[string]any) *AppError {
	return NewAppError(code, message, 400, details, nil)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, 401, nil, nil)
}

func NewForbiddenError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeForbidden
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, 403, nil, nil)
}

func NewNotFoundError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeNotFound, message, 404, details, nil)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{
		"resource": resource,
	}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	return NewAppError(ErrorCodeNotFound, message, 404, details, nil)
}

func NewConflictError(message string, details map[string]any, code ...ErrorCode) *AppError {
	errCode := ErrorCodeConflict
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, 409, details, nil)
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(ErrorCodeRateLimited, message, 429, nil, nil)
}

func NewUpstreamError(message string) *AppError {
	return NewAppError(ErrorCodeUpstream, message, 502, nil, nil)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrorCodeServiceUnavailable, message, 503, nil, nil)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, 500, nil, nil)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error")
}
