package subscriptions

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/apperrors"
	"github.com/strefethen/music-central-go/internal/auth"
)

// RegisterRoutes wires subscription and platform catalog routes.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/subscriptions/tiers", api.Handler(listTiers(service)))
	router.Method(http.MethodGet, "/v1/platforms", api.Handler(listPlatforms(service)))
	router.Method(http.MethodGet, "/v1/subscriptions/me", api.Handler(getMySubscription(service)))
	router.Method(http.MethodGet, "/v1/subscriptions/me/connections", api.Handler(listMyConnections(service)))
	router.Method(http.MethodGet, "/v1/subscriptions/me/can-connect", api.Handler(canConnect(service)))
	router.Method(http.MethodPut, "/v1/users/me/platforms", api.Handler(updateMyPlatforms(service)))
}

func listTiers(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		tiers := service.Catalog().Tiers
		data := make([]map[string]any, 0, len(tiers))
		for _, tier := range tiers {
			data = append(data, FormatTier(tier))
		}
		return api.WriteList(w, "/v1/subscriptions/tiers", data, false)
	}
}

func listPlatforms(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		platforms := service.Catalog().Platforms
		if r.URL.Query().Get("available") == "true" {
			platforms = service.Catalog().AvailablePlatforms()
		}
		data := make([]map[string]any, 0, len(platforms))
		for _, platform := range platforms {
			data = append(data, FormatPlatform(platform))
		}
		return api.WriteList(w, "/v1/platforms", data, false)
	}
}

func getMySubscription(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		info, err := service.GetUserTierInfo(user.ID)
		if err != nil {
			return mapError(err)
		}

		connections := make([]map[string]any, 0, len(info.Connections))
		for i := range info.Connections {
			connections = append(connections, FormatConnection(&info.Connections[i]))
		}
		var subscription any
		if info.Subscription != nil {
			subscription = FormatSubscription(info.Subscription)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":       api.ObjectSubscription,
			"tier":         FormatTier(info.Tier),
			"subscription": subscription,
			"connections":  connections,
		})
	}
}

func listMyConnections(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		connections, err := service.ListConnections(user.ID)
		if err != nil {
			return apperrors.NewInternalError("Failed to load platform connections")
		}
		data := make([]map[string]any, 0, len(connections))
		for i := range connections {
			data = append(data, FormatConnection(&connections[i]))
		}
		return api.WriteList(w, "/v1/subscriptions/me/connections", data, false)
	}
}

func canConnect(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		check, err := service.CanConnectPlatform(user.ID)
		if err != nil {
			return apperrors.NewInternalError("Failed to check platform limit")
		}
		return api.WriteAction(w, http.StatusOK, map[string]any{
			"can_connect":   check.CanConnect,
			"current_count": check.CurrentCount,
			"limit":         check.Limit,
		})
	}
}

func updateMyPlatforms(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.CurrentUser(r)
		if err != nil {
			return err
		}
		var body struct {
			Platforms []string `json:"platforms"`
		}
		if err := api.DecodeJSON(r, &body); err != nil {
			return err
		}
		if body.Platforms == nil {
			return apperrors.NewValidationError("platforms is required", map[string]any{"field": "platforms"})
		}

		account, err := service.UpdateUserPlatforms(user.ID, body.Platforms)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, auth.FormatAccount(account))
	}
}

func mapError(err error) error {
	var platformErr *PlatformError
	switch {
	case errors.As(err, &platformErr):
		return apperrors.NewBadRequest(apperrors.ErrorCodePlatformUnavailable, platformErr.Error(),
			map[string]any{"platform": platformErr.PlatformID})
	case errors.Is(err, ErrInvalidTier):
		return apperrors.NewBadRequest(apperrors.ErrorCodeInvalidTier, err.Error(), nil)
	case errors.Is(err, ErrUserNotFound):
		return apperrors.NewNotFoundResource("User", "")
	case errors.Is(err, ErrSubscriptionNotFound):
		return apperrors.NewAppError(apperrors.ErrorCodeSubscriptionNotFound, err.Error(), http.StatusNotFound, nil, nil)
	default:
		return apperrors.NewInternalError("Subscription request failed")
	}
}

// FormatTier renders a tier.
func FormatTier(tier Tier) map[string]any {
	features := tier.Features
	if features == nil {
		features = []string{}
	}
	return map[string]any{
		"object":         api.ObjectTier,
		"id":             tier.ID,
		"name":           tier.Name,
		"price":          tier.Price,
		"billing_cycle":  tier.BillingCycle,
		"platform_limit": tier.PlatformLimit,
		"features":       features,
		"popular":        tier.Popular,
	}
}

// FormatPlatform renders a catalog platform.
func FormatPlatform(platform Platform) map[string]any {
	features := platform.Features
	if features == nil {
		features = []string{}
	}
	return map[string]any{
		"object":        api.ObjectPlatform,
		"id":            platform.ID,
		"name":          platform.Name,
		"description":   platform.Description,
		"color":         platform.Color,
		"features":      features,
		"is_available":  platform.Available,
		"requires_auth": platform.RequiresAuth,
	}
}

// FormatSubscription renders a user subscription.
func FormatSubscription(sub *UserSubscription) map[string]any {
	return map[string]any{
		"object":                 api.ObjectSubscription,
		"id":                     sub.ID,
		"user_id":                sub.UserID,
		"tier_id":                sub.TierID,
		"status":                 string(sub.Status),
		"start_date":             api.RFC3339Millis(sub.StartDate),
		"end_date":               api.RFC3339MillisPtr(sub.EndDate),
		"platform_limit":         sub.PlatformLimit,
		"stripe_customer_id":     sub.StripeCustomerID,
		"stripe_subscription_id": sub.StripeSubscriptionID,
		"stripe_price_id":        sub.StripePriceID,
		"billing_cycle":          sub.BillingCycle,
		"next_billing_date":      api.RFC3339MillisPtr(sub.NextBillingDate),
		"cancel_at_period_end":   sub.CancelAtPeriodEnd,
	}
}

// FormatConnection renders a platform connection.
func FormatConnection(connection *PlatformConnection) map[string]any {
	return map[string]any{
		"object":          api.ObjectConnection,
		"id":              connection.ID,
		"platform_id":     connection.PlatformID,
		"status":          string(connection.Status),
		"connected_at":    api.RFC3339MillisPtr(connection.ConnectedAt),
		"disconnected_at": api.RFC3339MillisPtr(connection.DisconnectedAt),
		"metadata":        connection.Metadata,
	}
}
