package subscriptions

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strefethen/music-central-go/internal/db"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

const subscriptionColumns = `id, user_id, tier_id, status, start_date, end_date, platform_limit,
	stripe_customer_id, stripe_subscription_id, stripe_price_id, billing_cycle, next_billing_date,
	cancel_at_period_end, created_at, updated_at`

const connectionColumns = `id, user_id, platform_id, status, connected_at, disconnected_at, metadata_json,
	created_at, updated_at`

// Repository persists subscriptions and platform connections.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a subscriptions repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// GetByUserID returns the user's subscription in any status, or nil.
func (r *Repository) GetByUserID(userID string) (*UserSubscription, error) {
	row := r.reader.QueryRow(`SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE user_id = ?`, userID)
	return nilIfMissing(scanSubscription(row))
}

// GetByStripeSubscriptionID returns the subscription linked to a Stripe
// subscription, or nil.
func (r *Repository) GetByStripeSubscriptionID(stripeID string) (*UserSubscription, error) {
	row := r.reader.QueryRow(`SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE stripe_subscription_id = ?`, stripeID)
	return nilIfMissing(scanSubscription(row))
}

// Upsert creates or replaces the user's subscription with an active one on
// tier. Stripe fields survive the upsert.
func (r *Repository) Upsert(userID string, tier Tier, now time.Time) (*UserSubscription, error) {
	ts := db.FormatTime(now)
	_, err := r.writer.Exec(`
		INSERT INTO user_subscriptions (id, user_id, tier_id, status, start_date, platform_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			tier_id = excluded.tier_id,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = NULL,
			platform_limit = excluded.platform_limit,
			updated_at = excluded.updated_at
	`, uuid.New().String(), userID, tier.ID, StatusActive, ts, tier.PlatformLimit, ts, ts)
	if err != nil {
		return nil, err
	}
	return r.GetByUserID(userID)
}

// ApplyStripeUpdate writes the non-nil fields of update to the user's row.
func (r *Repository) ApplyStripeUpdate(userID string, update StripeUpdate, now time.Time) (*UserSubscription, error) {
	sets := []string{"updated_at = ?"}
	args := []any{db.FormatTime(now)}
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.StripeCustomerID != nil {
		add("stripe_customer_id", *update.StripeCustomerID)
	}
	if update.StripeSubscriptionID != nil {
		add("stripe_subscription_id", *update.StripeSubscriptionID)
	}
	if update.StripePriceID != nil {
		add("stripe_price_id", *update.StripePriceID)
	}
	if update.BillingCycle != nil {
		add("billing_cycle", *update.BillingCycle)
	}
	if update.NextBillingDate != nil {
		add("next_billing_date", db.FormatTime(*update.NextBillingDate))
	}
	if update.EndDate != nil {
		add("end_date", db.FormatTime(*update.EndDate))
	}
	if update.CancelAtPeriodEnd != nil {
		add("cancel_at_period_end", db.BoolInt(*update.CancelAtPeriodEnd))
	}
	args = append(args, userID)

	result, err := r.writer.Exec(`UPDATE user_subscriptions SET `+strings.Join(sets, ", ")+` WHERE user_id = ?`, args...)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return r.GetByUserID(userID)
}

// ExpireEnded marks cancelled subscriptions whose end date has passed as
// expired and returns the affected user ids.
func (r *Repository) ExpireEnded(now time.Time) ([]string, error) {
	cutoff := db.FormatTime(now)
	rows, err := r.reader.Query(`
		SELECT user_id FROM user_subscriptions
		WHERE status = ? AND end_date IS NOT NULL AND end_date <= ?
	`, StatusCancelled, cutoff)
	if err != nil {
		return nil, err
	}
	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, err
		}
		userIDs = append(userIDs, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	_, err = r.writer.Exec(`
		UPDATE user_subscriptions SET status = ?, updated_at = ?
		WHERE status = ? AND end_date IS NOT NULL AND end_date <= ?
	`, StatusExpired, cutoff, StatusCancelled, cutoff)
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}

// ListConnections returns every connection row for the user.
func (r *Repository) ListConnections(userID string) ([]PlatformConnection, error) {
	rows, err := r.reader.Query(`SELECT `+connectionColumns+` FROM platform_connections WHERE user_id = ? ORDER BY created_at, platform_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	connections := []PlatformConnection{}
	for rows.Next() {
		connection, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, *connection)
	}
	return connections, rows.Err()
}

// GetConnection returns the user's connection for a platform, or nil.
func (r *Repository) GetConnection(userID, platformID string) (*PlatformConnection, error) {
	row := r.reader.QueryRow(`SELECT `+connectionColumns+` FROM platform_connections WHERE user_id = ? AND platform_id = ?`, userID, platformID)
	connection, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return connection, err
}

// UpsertConnected marks the platform connected for the user.
func (r *Repository) UpsertConnected(userID, platformID string, metadata map[string]any, now time.Time) (*PlatformConnection, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	ts := db.FormatTime(now)
	_, err = r.writer.Exec(`
		INSERT INTO platform_connections (id, user_id, platform_id, status, connected_at, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, platform_id) DO UPDATE SET
			status = excluded.status,
			connected_at = excluded.connected_at,
			disconnected_at = NULL,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at
	`, uuid.New().String(), userID, platformID, ConnectionConnected, ts, string(metadataJSON), ts, ts)
	if err != nil {
		return nil, err
	}
	return r.GetConnection(userID, platformID)
}

// MarkDisconnected flips a connection to disconnected. It reports whether a
// row existed.
func (r *Repository) MarkDisconnected(userID, platformID string, now time.Time) (bool, error) {
	ts := db.FormatTime(now)
	result, err := r.writer.Exec(`
		UPDATE platform_connections SET status = ?, disconnected_at = ?, updated_at = ?
		WHERE user_id = ? AND platform_id = ?
	`, ConnectionDisconnected, ts, ts, userID, platformID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// CountConnected returns how many platforms the user has connected.
func (r *Repository) CountConnected(userID string) (int, error) {
	var count int
	err := r.reader.QueryRow(`SELECT COUNT(*) FROM platform_connections WHERE user_id = ? AND status = ?`, userID, ConnectionConnected).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func nilIfMissing(sub *UserSubscription, err error) (*UserSubscription, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

func scanSubscription(row scanner) (*UserSubscription, error) {
	var (
		sub                                               UserSubscription
		status, startDate, createdAt, updatedAt           string
		endDate, nextBilling                              sql.NullString
		customerID, subscriptionID, priceID, billingCycle sql.NullString
		cancelAtPeriodEnd                                 int
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.TierID, &status, &startDate, &endDate, &sub.PlatformLimit,
		&customerID, &subscriptionID, &priceID, &billingCycle, &nextBilling,
		&cancelAtPeriodEnd, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = Status(status)
	sub.StartDate = db.ParseTime(startDate)
	sub.EndDate = db.ParseNullTime(endDate)
	sub.StripeCustomerID = db.StringPtr(customerID)
	sub.StripeSubscriptionID = db.StringPtr(subscriptionID)
	sub.StripePriceID = db.StringPtr(priceID)
	sub.BillingCycle = db.StringPtr(billingCycle)
	sub.NextBillingDate = db.ParseNullTime(nextBilling)
	sub.CancelAtPeriodEnd = cancelAtPeriodEnd != 0
	sub.CreatedAt = db.ParseTime(createdAt)
	sub.UpdatedAt = db.ParseTime(updatedAt)
	return &sub, nil
}

func scanConnection(row scanner) (*PlatformConnection, error) {
	var (
		connection                  PlatformConnection
		status, metadataJSON        string
		createdAt, updatedAt        string
		connectedAt, disconnectedAt sql.NullString
	)
	err := row.Scan(&connection.ID, &connection.UserID, &connection.PlatformID, &status,
		&connectedAt, &disconnectedAt, &metadataJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	connection.Status = ConnectionStatus(status)
	connection.ConnectedAt = db.ParseNullTime(connectedAt)
	connection.DisconnectedAt = db.ParseNullTime(disconnectedAt)
	connection.Metadata = map[string]any{}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &connection.Metadata); err != nil {
			return nil, err
		}
	}
	connection.CreatedAt = db.ParseTime(createdAt)
	connection.UpdatedAt = db.ParseTime(updatedAt)
	return &connection, nil
}
