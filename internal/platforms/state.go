package platforms

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/strefethen/music-central-go/internal/db"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// StateStore tracks pending OAuth authorizations. Each state is bound to
// one user and platform and can be consumed once.
type StateStore struct {
	reader *sql.DB
	writer *sql.DB
	ttl    time.Duration
	now    func() time.Time
}

// NewStateStore creates a store whose states expire after ttl.
func NewStateStore(dbPair DBPair, ttl time.Duration) *StateStore {
	return &StateStore{reader: dbPair.Reader(), writer: dbPair.Writer(), ttl: ttl, now: time.Now}
}

// Issue generates and stores a new state.
func (store *StateStore) Issue(userID, platform string) (string, error) {
	state, err := randomState()
	if err != nil {
		return "", err
	}
	now := store.now()
	_, err = store.writer.Exec(`
		INSERT INTO oauth_states (state, user_id, platform, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, state, userID, platform, db.FormatTime(now.Add(store.ttl)), db.FormatTime(now))
	if err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return state, nil
}

// Consume deletes the state and returns the user it was issued to. States
// that are unknown, expired or issued for another platform are rejected.
func (store *StateStore) Consume(state, platform string) (string, error) {
	var userID, boundPlatform, expiresAt string
	err := store.writer.QueryRow(`
		DELETE FROM oauth_states WHERE state = ?
		RETURNING user_id, platform, expires_at
	`, state).Scan(&userID, &boundPlatform, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidState
	}
	if err != nil {
		return "", err
	}
	if boundPlatform != platform || !store.now().Before(db.ParseTime(expiresAt)) {
		return "", ErrInvalidState
	}
	return userID, nil
}

// PurgeExpired removes states past their expiry.
func (store *StateStore) PurgeExpired(ctx context.Context) error {
	_, err := store.writer.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= ?`, db.FormatTime(store.now()))
	return err
}

func randomState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
