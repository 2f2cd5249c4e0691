package billing

import (
	"context"
	"errors"
)

// Billing cycles offered at checkout.
const (
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"
)

var (
	// ErrInvalidTier is returned for tiers that cannot be bought.
	ErrInvalidTier = errors.New("invalid tier")
	// ErrInvalidBillingCycle is returned for cycles other than monthly and yearly.
	ErrInvalidBillingCycle = errors.New("invalid billing cycle")
	// ErrPriceNotConfigured is returned when no Stripe price exists for a tier and cycle.
	ErrPriceNotConfigured = errors.New("stripe price not configured")
	// ErrNotConfigured is returned when Stripe credentials are missing.
	ErrNotConfigured = errors.New("billing not configured")
	// ErrMissingSignature is returned for webhooks without a Stripe-Signature header.
	ErrMissingSignature = errors.New("missing stripe signature")
	// ErrInvalidSignature is returned when webhook verification fails.
	ErrInvalidSignature = errors.New("invalid stripe signature")
)

// CheckoutRequest describes a subscription checkout for one price.
type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CheckoutSession is the hosted checkout page created for a user.
type CheckoutSession struct {
	ID  string
	URL string
}

// Gateway is the subset of the Stripe API the service calls.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error
}
