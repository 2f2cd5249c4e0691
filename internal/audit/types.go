package audit

import "time"

// EventType represents the type of audit event.
type EventType string

const (
	EventUserSignedUp            EventType = "USER_SIGNED_UP"
	EventUserLoggedIn            EventType = "USER_LOGGED_IN"
	EventPlatformConnected       EventType = "PLATFORM_CONNECTED"
	EventPlatformDisconnected    EventType = "PLATFORM_DISCONNECTED"
	EventPlatformTokenRefreshed  EventType = "PLATFORM_TOKEN_REFRESHED"
	EventPlatformTokenFailed     EventType = "PLATFORM_TOKEN_REFRESH_FAILED"
	EventSubscriptionCreated     EventType = "SUBSCRIPTION_CREATED"
	EventSubscriptionUpdated     EventType = "SUBSCRIPTION_UPDATED"
	EventSubscriptionCancelled   EventType = "SUBSCRIPTION_CANCELLED"
	EventSubscriptionReactivated EventType = "SUBSCRIPTION_REACTIVATED"
	EventSubscriptionExpired     EventType = "SUBSCRIPTION_EXPIRED"
	EventPaymentSucceeded        EventType = "PAYMENT_SUCCEEDED"
	EventPaymentFailed           EventType = "PAYMENT_FAILED"
	EventWebhookIgnored          EventType = "WEBHOOK_IGNORED"
	EventUploadStarted           EventType = "UPLOAD_STARTED"
	EventUploadCompleted         EventType = "UPLOAD_COMPLETED"
	EventUploadFailed            EventType = "UPLOAD_FAILED"
	EventSourceApproved          EventType = "SOURCE_APPROVED"
	EventSourceRejected          EventType = "SOURCE_REJECTED"
	EventSystemStartup           EventType = "SYSTEM_STARTUP"
	EventSystemError             EventType = "SYSTEM_ERROR"
)

// EventLevel represents the severity level of an audit event.
type EventLevel string

const (
	EventLevelDebug EventLevel = "DEBUG"
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
	EventLevelError EventLevel = "ERROR"
)

// AuditEvent represents a single audit event.
type AuditEvent struct {
	EventID    string
	Timestamp  time.Time
	Type       EventType
	Level      EventLevel
	RequestID  *string
	UserID     *string
	Platform   *string
	ResourceID *string
	Message    string
	Payload    map[string]any
}

// WriteEventInput contains the fields for creating a new audit event.
type WriteEventInput struct {
	Type       EventType
	Level      EventLevel
	RequestID  *string
	UserID     *string
	Platform   *string
	ResourceID *string
	Message    string
	Payload    map[string]any
}

// EventQueryFilters contains optional filters for querying events.
type EventQueryFilters struct {
	Type       *EventType
	Level      *EventLevel
	StartDate  *time.Time
	EndDate    *time.Time
	UserID     *string
	Platform   *string
	ResourceID *string
	Limit      int
	Offset     int
}
