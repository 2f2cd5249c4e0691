package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/strefethen/music-central-go/internal/audit"
	"github.com/strefethen/music-central-go/internal/auth"
)

var (
	// ErrInvalidTier is returned for tier ids missing from the catalog.
	ErrInvalidTier = errors.New("invalid subscription tier")
	// ErrSubscriptionNotFound is returned when the user has no subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrUserNotFound is returned when the account does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// PlatformError reports a platform id that is unknown or not available.
type PlatformError struct {
	PlatformID string
	Reason     string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform %s %s", e.PlatformID, e.Reason)
}

// Service manages tiers, subscriptions and platform connections.
type Service struct {
	repo     *Repository
	accounts *auth.AccountsRepository
	catalog  *Catalog
	audit    *audit.Service
	logger   *log.Logger
	now      func() time.Time
}

// NewService creates a subscriptions service backed by the embedded catalog.
func NewService(dbPair DBPair, accounts *auth.AccountsRepository, auditService *audit.Service, logger *log.Logger) (*Service, error) {
	catalog, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		repo:     NewRepository(dbPair),
		accounts: accounts,
		catalog:  catalog,
		audit:    auditService,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Catalog returns the tier and platform catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Repository exposes persistence for the billing webhook.
func (s *Service) Repository() *Repository {
	return s.repo
}

// GetUserSubscription returns the user's active subscription, or nil.
func (s *Service) GetUserSubscription(userID string) (*UserSubscription, error) {
	sub, err := s.repo.GetByUserID(userID)
	if err != nil || sub == nil {
		return nil, err
	}
	if sub.Status != StatusActive {
		return nil, nil
	}
	return sub, nil
}

// CreateSubscription puts the user on tierID with an active status.
func (s *Service) CreateSubscription(ctx context.Context, userID, tierID string) (*UserSubscription, error) {
	tier, ok := s.catalog.TierByID(tierID)
	if !ok {
		return nil, ErrInvalidTier
	}
	sub, err := s.repo.Upsert(userID, tier, s.now())
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.WriteEventInput{
		Type:       audit.EventSubscriptionCreated,
		UserID:     audit.Ptr(userID),
		ResourceID: audit.Ptr(sub.ID),
		Message:    "subscription set to " + tier.ID,
		Payload:    map[string]any{"tier_id": tier.ID, "platform_limit": tier.PlatformLimit},
	})
	return sub, nil
}

// ListConnections returns the user's platform connections.
func (s *Service) ListConnections(userID string) ([]PlatformConnection, error) {
	return s.repo.ListConnections(userID)
}

// ConnectPlatform marks a platform connected.
func (s *Service) ConnectPlatform(ctx context.Context, userID, platformID string, metadata map[string]any) (*PlatformConnection, error) {
	connection, err := s.repo.UpsertConnected(userID, platformID, metadata, s.now())
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.WriteEventInput{
		Type:     audit.EventPlatformConnected,
		UserID:   audit.Ptr(userID),
		Platform: audit.Ptr(platformID),
		Message:  platformID + " connected",
		Payload:  metadata,
	})
	return connection, nil
}

// DisconnectPlatform marks a platform disconnected. Disconnecting a
// platform that was never connected is a no-op.
func (s *Service) DisconnectPlatform(ctx context.Context, userID, platformID string) error {
	changed, err := s.repo.MarkDisconnected(userID, platformID, s.now())
	if err != nil {
		return err
	}
	if changed {
		s.audit.Record(ctx, audit.WriteEventInput{
			Type:     audit.EventPlatformDisconnected,
			UserID:   audit.Ptr(userID),
			Platform: audit.Ptr(platformID),
			Message:  platformID + " disconnected",
		})
	}
	return nil
}

// IsConnected reports whether the platform is currently connected.
func (s *Service) IsConnected(userID, platformID string) (bool, error) {
	connection, err := s.repo.GetConnection(userID, platformID)
	if err != nil || connection == nil {
		return false, err
	}
	return connection.Status == ConnectionConnected, nil
}

// CanConnectPlatform compares the user's connected count with the limit
// of their active subscription, or the free tier without one.
func (s *Service) CanConnectPlatform(userID string) (ConnectCheck, error) {
	sub, err := s.GetUserSubscription(userID)
	if err != nil {
		return ConnectCheck{}, err
	}
	count, err := s.repo.CountConnected(userID)
	if err != nil {
		return ConnectCheck{}, err
	}
	limit := s.catalog.FreeTier().PlatformLimit
	if sub != nil && sub.PlatformLimit > 0 {
		limit = sub.PlatformLimit
	}
	return ConnectCheck{CanConnect: count < limit, CurrentCount: count, Limit: limit}, nil
}

// GetUserTierInfo returns the user's tier and connections. Users without an
// active subscription are on the free tier with no connections listed.
func (s *Service) GetUserTierInfo(userID string) (*TierInfo, error) {
	sub, err := s.GetUserSubscription(userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &TierInfo{Tier: s.catalog.FreeTier(), Connections: []PlatformConnection{}}, nil
	}

	tier, ok := s.catalog.TierByID(sub.TierID)
	if !ok {
		return nil, ErrInvalidTier
	}
	connections, err := s.repo.ListConnections(userID)
	if err != nil {
		return nil, err
	}
	return &TierInfo{Tier: tier, Subscription: sub, Connections: connections}, nil
}

// UpdateUserPlatforms stores the user's platform selection.
func (s *Service) UpdateUserPlatforms(userID string, platformIDs []string) (*auth.Account, error) {
	seen := make(map[string]bool, len(platformIDs))
	selection := make([]string, 0, len(platformIDs))
	for _, id := range platformIDs {
		platform, ok := s.catalog.PlatformByID(id)
		if !ok {
			return nil, &PlatformError{PlatformID: id, Reason: "is unknown"}
		}
		if !platform.Available {
			return nil, &PlatformError{PlatformID: id, Reason: "is not available yet"}
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		selection = append(selection, id)
	}

	account, err := s.accounts.SetPlatforms(userID, selection)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrUserNotFound
	}
	return account, nil
}

// ExpireEnded moves cancelled subscriptions past their end date to expired.
func (s *Service) ExpireEnded(ctx context.Context) error {
	userIDs, err := s.repo.ExpireEnded(s.now())
	if err != nil {
		return err
	}
	for _, userID := range userIDs {
		s.audit.Record(ctx, audit.WriteEventInput{
			Type:    audit.EventSubscriptionExpired,
			UserID:  audit.Ptr(userID),
			Message: "subscription expired",
		})
	}
	if len(userIDs) > 0 {
		s.logger.Info("subscriptions expired", "count", len(userIDs))
	}
	return nil
}
