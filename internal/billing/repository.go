package billing

import (
	"database/sql"
	"errors"

	"github.com/strefethen/music-central-go/internal/db"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// CustomerRepository maps users to Stripe customers.
type CustomerRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewCustomerRepository creates a customer repository.
func NewCustomerRepository(dbPair DBPair) *CustomerRepository {
	return &CustomerRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Get returns the user's Stripe customer id, or "".
func (r *CustomerRepository) Get(userID string) (string, error) {
	var customerID string
	err := r.reader.QueryRow(`SELECT customer_id FROM stripe_customers WHERE user_id = ?`, userID).Scan(&customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return customerID, err
}

// Save links a user to a customer.
func (r *CustomerRepository) Save(userID, customerID, email string) error {
	_, err := r.writer.Exec(`
		INSERT INTO stripe_customers (user_id, customer_id, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET customer_id = excluded.customer_id, email = excluded.email
	`, userID, customerID, email, db.NowISO())
	return err
}

// EventRepository remembers processed webhook events.
type EventRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewEventRepository creates a webhook event repository.
func NewEventRepository(dbPair DBPair) *EventRepository {
	return &EventRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Seen reports whether the event was already processed.
func (r *EventRepository) Seen(eventID string) (bool, error) {
	var count int
	err := r.reader.QueryRow(`SELECT COUNT(*) FROM webhook_events WHERE event_id = ?`, eventID).Scan(&count)
	return count > 0, err
}

// MarkProcessed records the event.
func (r *EventRepository) MarkProcessed(eventID, eventType string) error {
	_, err := r.writer.Exec(`
		INSERT OR IGNORE INTO webhook_events (event_id, type, received_at) VALUES (?, ?, ?)
	`, eventID, eventType, db.NowISO())
	return err
}
