package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/strefethen/music-central-go/internal/audit"
	"github.com/strefethen/music-central-go/internal/subscriptions"
)

// MapStripeStatus converts a Stripe subscription status to a local one.
func MapStripeStatus(status stripe.SubscriptionStatus) subscriptions.Status {
	switch status {
	case stripe.SubscriptionStatusActive:
		return subscriptions.StatusActive
	case stripe.SubscriptionStatusCanceled:
		return subscriptions.StatusCancelled
	case stripe.SubscriptionStatusIncomplete:
		return subscriptions.StatusPending
	case stripe.SubscriptionStatusIncompleteExpired, stripe.SubscriptionStatusUnpaid:
		return subscriptions.StatusExpired
	case stripe.SubscriptionStatusPastDue:
		return subscriptions.StatusPastDue
	case stripe.SubscriptionStatusTrialing:
		return subscriptions.StatusTrial
	}
	return subscriptions.StatusPending
}

// HandleWebhook verifies and applies a Stripe webhook. Events already
// processed are acknowledged without being applied again.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if s.cfg.StripeWebhookSecret == "" {
		return ErrNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.Warn("stripe webhook rejected", "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	seen, err := s.events.Seen(event.ID)
	if err != nil {
		return err
	}
	if seen {
		s.logger.Debug("duplicate stripe webhook", "event_id", event.ID, "type", event.Type)
		return nil
	}

	if err := s.dispatch(ctx, event); err != nil {
		return err
	}
	return s.events.MarkProcessed(event.ID, string(event.Type))
}

func (s *Service) dispatch(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.handleSubscriptionChange(ctx, event, &sub)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.handleSubscriptionDeleted(ctx, event, &sub)

	case stripe.EventTypeInvoicePaymentSucceeded, stripe.EventTypeInvoicePaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return s.handleInvoice(ctx, event, &invoice)
	}

	s.logger.Debug("unhandled stripe event", "type", event.Type, "event_id", event.ID)
	return nil
}

func (s *Service) handleSubscriptionChange(ctx context.Context, event stripe.Event, sub *stripe.Subscription) error {
	userID := sub.Metadata["userId"]
	tierID := sub.Metadata["tierId"]
	if userID == "" || tierID == "" {
		s.ignore(ctx, event, "subscription metadata missing userId or tierId")
		return nil
	}

	if _, err := s.subs.CreateSubscription(ctx, userID, tierID); err != nil {
		if errors.Is(err, subscriptions.ErrInvalidTier) {
			s.ignore(ctx, event, "subscription metadata names unknown tier "+tierID)
			return nil
		}
		return err
	}

	status := MapStripeStatus(sub.Status)
	update := subscriptions.StripeUpdate{
		Status:               &status,
		StripeSubscriptionID: &sub.ID,
		CancelAtPeriodEnd:    &sub.CancelAtPeriodEnd,
		NextBillingDate:      unixTime(sub.CurrentPeriodEnd),
	}
	if sub.Customer != nil && sub.Customer.ID != "" {
		update.StripeCustomerID = &sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		update.StripePriceID = &sub.Items.Data[0].Price.ID
	}
	if cycle := sub.Metadata["billingCycle"]; cycle != "" {
		update.BillingCycle = &cycle
	}
	if _, err := s.subs.Repository().ApplyStripeUpdate(userID, update, s.now()); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.WriteEventInput{
		Type:       audit.EventSubscriptionUpdated,
		Level:      audit.EventLevelInfo,
		UserID:     audit.Ptr(userID),
		ResourceID: audit.Ptr(sub.ID),
		Message:    "subscription synced from stripe",
		Payload:    map[string]any{"event_id": event.ID, "tier_id": tierID, "status": string(status)},
	})
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event, sub *stripe.Subscription) error {
	userID, err := s.userForSubscription(sub)
	if err != nil {
		return err
	}
	if userID == "" {
		s.ignore(ctx, event, "cancelled subscription has no known user")
		return nil
	}

	status := subscriptions.StatusCancelled
	endDate := unixTime(sub.CanceledAt)
	if endDate == nil {
		now := s.now()
		endDate = &now
	}
	if _, err := s.subs.Repository().ApplyStripeUpdate(userID, subscriptions.StripeUpdate{
		Status:  &status,
		EndDate: endDate,
	}, s.now()); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.WriteEventInput{
		Type:       audit.EventSubscriptionCancelled,
		Level:      audit.EventLevelInfo,
		UserID:     audit.Ptr(userID),
		ResourceID: audit.Ptr(sub.ID),
		Message:    "subscription cancelled in stripe",
		Payload:    map[string]any{"event_id": event.ID},
	})
	return nil
}

func (s *Service) handleInvoice(ctx context.Context, event stripe.Event, invoice *stripe.Invoice) error {
	if invoice.Subscription == nil {
		s.logger.Debug("invoice without subscription", "event_id", event.ID)
		return nil
	}
	userID, err := s.userForSubscription(invoice.Subscription)
	if err != nil {
		return err
	}
	if userID == "" {
		s.ignore(ctx, event, "invoice subscription has no known user")
		return nil
	}

	update := subscriptions.StripeUpdate{}
	eventType, level, message := audit.EventPaymentSucceeded, audit.EventLevelInfo, "payment succeeded"
	if event.Type == stripe.EventTypeInvoicePaymentSucceeded {
		status := subscriptions.StatusActive
		update.Status = &status
		update.NextBillingDate = invoicePeriodEnd(invoice)
	} else {
		status := subscriptions.StatusPastDue
		update.Status = &status
		eventType, level, message = audit.EventPaymentFailed, audit.EventLevelWarn, "payment failed"
	}
	if _, err := s.subs.Repository().ApplyStripeUpdate(userID, update, s.now()); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.WriteEventInput{
		Type:       eventType,
		Level:      level,
		UserID:     audit.Ptr(userID),
		ResourceID: audit.Ptr(invoice.ID),
		Message:    message,
		Payload:    map[string]any{"event_id": event.ID, "amount_due": invoice.AmountDue},
	})
	return nil
}

// userForSubscription finds the local user from metadata, falling back to
// the stored Stripe subscription id.
func (s *Service) userForSubscription(sub *stripe.Subscription) (string, error) {
	if userID := sub.Metadata["userId"]; userID != "" {
		return userID, nil
	}
	if sub.ID == "" {
		return "", nil
	}
	local, err := s.subs.Repository().GetByStripeSubscriptionID(sub.ID)
	if err != nil || local == nil {
		return "", err
	}
	return local.UserID, nil
}

func (s *Service) ignore(ctx context.Context, event stripe.Event, reason string) {
	s.logger.Warn("stripe webhook ignored", "event_id", event.ID, "type", event.Type, "reason", reason)
	s.audit.Record(ctx, audit.WriteEventInput{
		Type:       audit.EventWebhookIgnored,
		Level:      audit.EventLevelWarn,
		ResourceID: audit.Ptr(event.ID),
		Message:    reason,
		Payload:    map[string]any{"type": string(event.Type)},
	})
}

func invoicePeriodEnd(invoice *stripe.Invoice) *time.Time {
	if invoice.Subscription != nil && invoice.Subscription.CurrentPeriodEnd > 0 {
		return unixTime(invoice.Subscription.CurrentPeriodEnd)
	}
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line != nil && line.Period != nil && line.Period.End > 0 {
				return unixTime(line.Period.End)
			}
		}
	}
	return nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
