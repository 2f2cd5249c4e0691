package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/strefethen/music-central-go/internal/audit"
	"github.com/strefethen/music-central-go/internal/auth"
	"github.com/strefethen/music-central-go/internal/config"
	"github.com/strefethen/music-central-go/internal/subscriptions"
)

// Service sells subscriptions through Stripe and applies Stripe's
// webhooks to local subscription state.
type Service struct {
	cfg       config.Config
	gateway   Gateway
	customers *CustomerRepository
	events    *EventRepository
	subs      *subscriptions.Service
	accounts  *auth.AccountsRepository
	audit     *audit.Service
	logger    *log.Logger
	now       func() time.Time
}

// NewService creates a billing service. A nil gateway disables calls to
// Stripe; webhooks still verify against the configured secret.
func NewService(cfg config.Config, dbPair DBPair, gateway Gateway, subs *subscriptions.Service, accounts *auth.AccountsRepository, auditService *audit.Service, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:       cfg,
		gateway:   gateway,
		customers: NewCustomerRepository(dbPair),
		events:    NewEventRepository(dbPair),
		subs:      subs,
		accounts:  accounts,
		audit:     auditService,
		logger:    logger,
		now:       time.Now,
	}
}

// GetPriceID returns the Stripe price for a paid tier and cycle. The free
// tier and unknown tiers have none.
func (s *Service) GetPriceID(tierID, cycle string) (string, bool) {
	if tierID == "free" {
		return "", false
	}
	cycles, ok := s.cfg.StripePriceIDs[tierID]
	if !ok {
		return "", false
	}
	priceID := cycles[cycle]
	return priceID, priceID != ""
}

// CreateCheckoutSession creates a Stripe checkout for tierID billed every
// cycle. Empty URLs default to the app's subscription pages.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, tierID, cycle, successURL, cancelURL string) (CheckoutSession, error) {
	if tierID != "premium" && tierID != "pro" {
		return CheckoutSession{}, ErrInvalidTier
	}
	if cycle != CycleMonthly && cycle != CycleYearly {
		return CheckoutSession{}, ErrInvalidBillingCycle
	}
	if s.gateway == nil {
		return CheckoutSession{}, ErrNotConfigured
	}
	priceID, ok := s.GetPriceID(tierID, cycle)
	if !ok {
		return CheckoutSession{}, ErrPriceNotConfigured
	}
	if successURL == "" {
		successURL = s.cfg.AppURL + "/subscription?success=true&session_id={CHECKOUT_SESSION_ID}"
	}
	if cancelURL == "" {
		cancelURL = s.cfg.AppURL + "/premium?canceled=true"
	}

	customerID, err := s.getOrCreateCustomer(ctx, userID)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata: map[string]string{
			"userId":       userID,
			"tierId":       tierID,
			"billingCycle": cycle,
		},
	})
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	s.logger.Info("checkout session created", "user_id", userID, "tier", tierID, "cycle", cycle)
	return session, nil
}

// CreatePortalSession returns the billing portal URL for the user.
func (s *Service) CreatePortalSession(ctx context.Context, userID, returnURL string) (string, error) {
	if s.gateway == nil {
		return "", ErrNotConfigured
	}
	if returnURL == "" {
		returnURL = s.cfg.AppURL + "/subscription"
	}
	customerID, err := s.getOrCreateCustomer(ctx, userID)
	if err != nil {
		return "", err
	}
	url, err := s.gateway.CreatePortalSession(ctx, customerID, returnURL)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return url, nil
}

func (s *Service) getOrCreateCustomer(ctx context.Context, userID string) (string, error) {
	customerID, err := s.customers.Get(userID)
	if err != nil || customerID != "" {
		return customerID, err
	}

	account, err := s.accounts.GetByID(userID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", subscriptions.ErrUserNotFound
	}
	customerID, err = s.gateway.CreateCustomer(ctx, account.Email, account.Name, userID)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	if err := s.customers.Save(userID, customerID, account.Email); err != nil {
		return "", err
	}
	return customerID, nil
}

// CancelSubscription cancels the user's Stripe subscription at the end of
// the current period.
func (s *Service) CancelSubscription(ctx context.Context, userID string) (*subscriptions.UserSubscription, error) {
	return s.setCancelAtPeriodEnd(ctx, userID, true)
}

// ReactivateSubscription undoes a pending cancellation.
func (s *Service) ReactivateSubscription(ctx context.Context, userID string) (*subscriptions.UserSubscription, error) {
	return s.setCancelAtPeriodEnd(ctx, userID, false)
}

func (s *Service) setCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) (*subscriptions.UserSubscription, error) {
	sub, err := s.subs.Repository().GetByUserID(userID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.StripeSubscriptionID == nil {
		return nil, subscriptions.ErrSubscriptionNotFound
	}
	if s.gateway == nil {
		return nil, ErrNotConfigured
	}
	if err := s.gateway.SetCancelAtPeriodEnd(ctx, *sub.StripeSubscriptionID, cancel); err != nil {
		return nil, fmt.Errorf("update stripe subscription: %w", err)
	}

	updated, err := s.subs.Repository().ApplyStripeUpdate(userID, subscriptions.StripeUpdate{CancelAtPeriodEnd: &cancel}, s.now())
	if err != nil {
		return nil, err
	}

	eventType, message := audit.EventSubscriptionReactivated, "subscription reactivated"
	if cancel {
		eventType, message = audit.EventSubscriptionCancelled, "subscription set to cancel at period end"
	}
	s.audit.Record(ctx, audit.WriteEventInput{
		Type:       eventType,
		Level:      audit.EventLevelInfo,
		UserID:     audit.Ptr(userID),
		ResourceID: sub.StripeSubscriptionID,
		Message:    message,
	})
	return updated, nil
}
