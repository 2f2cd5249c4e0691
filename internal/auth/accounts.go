package auth

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

// Account is a stored user.
type Account struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	Platforms    []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ErrEmailTaken is returned when an email is already registered.
var ErrEmailTaken = errors.New("email already registered")

const accountColumns = `user_id, email, name, password_hash, role, platforms_json, created_at, updated_at`

// AccountsRepository persists users.
type AccountsRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewAccountsRepository creates a new AccountsRepository.
func NewAccountsRepository(dbPair DBPair) *AccountsRepository {
	return &AccountsRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Create inserts a user. Emails are stored lowercased.
func (r *AccountsRepository) Create(email, name, passwordHash string, role Role) (*Account, error) {
	id := uuid.New().String()
	now := db.NowISO()

	_, err := r.writer.Exec(`
		INSERT INTO users (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, '[]', ?, ?)
	`, id, normalizeEmail(email), name, passwordHash, string(role), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return r.GetByID(id)
}

// GetByID returns a user, or nil when missing.
func (r *AccountsRepository) GetByID(id string) (*Account, error) {
	return scanAccount(r.reader.QueryRow(`SELECT `+accountColumns+` FROM users WHERE user_id = ?`, id))
}

// GetByEmail returns a user by case-insensitive email, or nil.
func (r *AccountsRepository) GetByEmail(email string) (*Account, error) {
	return scanAccount(r.reader.QueryRow(`SELECT `+accountColumns+` FROM users WHERE email = ?`, normalizeEmail(email)))
}

// UpdateName sets the display name.
func (r *AccountsRepository) UpdateName(id, name string) (*Account, error) {
	if _, err := r.writer.Exec(`UPDATE users SET name = ?, updated_at = ? WHERE user_id = ?`, name, db.NowISO(), id); err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

// SetPlatforms stores the user's chosen platform ids.
func (r *AccountsRepository) SetPlatforms(id string, platforms []string) (*Account, error) {
	if platforms == nil {
		platforms = []string{}
	}
	payload, err := json.Marshal(platforms)
	if err != nil {
		return nil, err
	}
	if _, err := r.writer.Exec(`UPDATE users SET platforms_json = ?, updated_at = ? WHERE user_id = ?`, string(payload), db.NowISO(), id); err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

func scanAccount(row *sql.Row) (*Account, error) {
	var account Account
	var role, platformsJSON, createdAt, updatedAt string
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Name,
		&account.PasswordHash,
		&role,
		&platformsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	account.Role = Role(role)
	if err := json.Unmarshal([]byte(platformsJSON), &account.Platforms); err != nil {
		return nil, err
	}
	account.CreatedAt = db.ParseTime(createdAt)
	account.UpdatedAt = db.ParseTime(updatedAt)
	return &account, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
