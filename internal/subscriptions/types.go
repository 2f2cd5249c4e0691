package subscriptions

import "time"

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusTrial     Status = "trial"
	StatusPastDue   Status = "past_due"
	StatusPending   Status = "pending"
)

// ConnectionStatus is the state of a platform connection.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionPending      ConnectionStatus = "pending"
)

// UserSubscription is a user's tier and billing state. One per user.
type UserSubscription struct {
	ID                   string
	UserID               string
	TierID               string
	Status               Status
	StartDate            time.Time
	EndDate              *time.Time
	PlatformLimit        int
	StripeCustomerID     *string
	StripeSubscriptionID *string
	StripePriceID        *string
	BillingCycle         *string
	NextBillingDate      *time.Time
	CancelAtPeriodEnd    bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PlatformConnection records whether a user has linked a platform.
type PlatformConnection struct {
	ID             string
	UserID         string
	PlatformID     string
	Status         ConnectionStatus
	ConnectedAt    *time.Time
	DisconnectedAt *time.Time
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StripeUpdate carries billing fields copied from a Stripe subscription.
// Nil fields are left unchanged.
type StripeUpdate struct {
	Status               *Status
	StripeCustomerID     *string
	StripeSubscriptionID *string
	StripePriceID        *string
	BillingCycle         *string
	NextBillingDate      *time.Time
	EndDate              *time.Time
	CancelAtPeriodEnd    *bool
}

// ConnectCheck reports whether another platform may be connected.
type ConnectCheck struct {
	CanConnect   bool
	CurrentCount int
	Limit        int
}

// TierInfo is the user's tier together with their connections.
type TierInfo struct {
	Tier         Tier
	Subscription *UserSubscription
	Connections  []PlatformConnection
}
