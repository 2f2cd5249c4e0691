package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/apperrors"
	"github.com/strefethen/music-central-go/internal/auth"
	"github.com/strefethen/music-central-go/internal/subscriptions"
)

// maxWebhookBytes bounds webhook payloads.
const maxWebhookBytes = 1 << 16

// RegisterRoutes wires billing routes. The webhook route must be public.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/billing/checkout-session", api.Handler(createCheckout(service)))
	router.Method(http.MethodPost, "/v1/billing/portal-session", api.Handler(createPortal(service)))
	router.Method(http.MethodPost, "/v1/billing/webhook", api.Handler(handleWebhook(service)))
	router.Method(http.MethodPost, "/v1/billing/subscription/cancel", api.Handler(cancelSubscription(service)))
	router.Method(http.MethodPost, "/v1/billing/subscription/reactivate", api.Handler(reactivateSubscription(service)))
}

type checkoutRequest struct {
	TierID       string `json:"tier_id"`
	BillingCycle string `json:"billing_cycle"`
	SuccessURL   string `json:"success_url"`
	CancelURL    string `json:"cancel_url"`
}

func createCheckout(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		var req checkoutRequest
		if err := api.DecodeJSON(r, &req); err != nil {
			return err
		}
		if req.BillingCycle == "" {
			req.BillingCycle = CycleMonthly
		}
		session, err := service.CreateCheckoutSession(r.Context(), user.ID, req.TierID, req.BillingCycle, req.SuccessURL, req.CancelURL)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":        api.ObjectCheckoutSession,
			"id":            session.ID,
			"session_id":    session.ID,
			"url":           session.URL,
			"tier_id":       req.TierID,
			"billing_cycle": req.BillingCycle,
		})
	}
}

func createPortal(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		var req struct {
			ReturnURL string `json:"return_url"`
		}
		if err := api.DecodeJSON(r, &req); err != nil {
			return err
		}
		url, err := service.CreatePortalSession(r.Context(), user.ID, req.ReturnURL)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object": api.ObjectPortalSession,
			"url":    url,
		})
	}
}

func handleWebhook(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			return apperrors.NewValidationError("could not read webhook body", nil)
		}
		if err := service.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
			return mapError(err)
		}
		return api.WriteAction(w, http.StatusOK, map[string]any{"received": true})
	}
}

func cancelSubscription(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		sub, err := service.CancelSubscription(r.Context(), user.ID)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, subscriptions.FormatSubscription(sub))
	}
}

func reactivateSubscription(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		sub, err := service.ReactivateSubscription(r.Context(), user.ID)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, subscriptions.FormatSubscription(sub))
	}
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidTier):
		return apperrors.NewBadRequest(apperrors.ErrorCodeInvalidTier, "tier_id must be premium or pro", map[string]any{"field": "tier_id"})
	case errors.Is(err, ErrInvalidBillingCycle):
		return apperrors.NewBadRequest(apperrors.ErrorCodeInvalidBillingCycle, "billing_cycle must be monthly or yearly", map[string]any{"field": "billing_cycle"})
	case errors.Is(err, ErrMissingSignature):
		return apperrors.NewBadRequest(apperrors.ErrorCodeWebhookSignatureInvalid, "Missing stripe signature", nil)
	case errors.Is(err, ErrInvalidSignature):
		return apperrors.NewBadRequest(apperrors.ErrorCodeWebhookSignatureInvalid, "Webhook signature verification failed", nil)
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrPriceNotConfigured):
		return apperrors.NewServiceUnavailableError("Billing is not configured")
	case errors.Is(err, subscriptions.ErrSubscriptionNotFound):
		return apperrors.NewAppError(apperrors.ErrorCodeSubscriptionNotFound, "No Stripe subscription found", http.StatusNotFound, nil, nil)
	case errors.Is(err, subscriptions.ErrUserNotFound):
		return apperrors.NewNotFoundResource("User", "")
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.NewUpstreamError("Billing request failed")
}
