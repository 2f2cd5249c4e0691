package platforms

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/strefethen/music-central-go/internal/db"
)

// ServiceToken is a user's stored OAuth grant for one platform.
type ServiceToken struct {
	ID              string
	UserID          string
	ServiceID       string
	AccessToken     string
	RefreshToken    string
	TokenType       string
	ExpiresAt       *time.Time
	ServiceUserID   *string
	ServiceUsername *string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OAuth2 converts the stored grant into an oauth2 token.
func (t *ServiceToken) OAuth2() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if t.ExpiresAt != nil {
		token.Expiry = *t.ExpiresAt
	}
	return token
}

const tokenColumns = `id, user_id, service_id, access_token, refresh_token, token_type, expires_at,
	service_user_id, service_username, is_active, created_at, updated_at`

// TokenRepository persists OAuth grants in user_services.
type TokenRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewTokenRepository creates a token repository.
func NewTokenRepository(dbPair DBPair) *TokenRepository {
	return &TokenRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Get returns the user's grant for a platform in any state, or nil.
func (r *TokenRepository) Get(userID, serviceID string) (*ServiceToken, error) {
	row := r.reader.QueryRow(`SELECT `+tokenColumns+` FROM user_services WHERE user_id = ? AND service_id = ?`, userID, serviceID)
	token, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return token, err
}

// GetActive returns the user's active grant for a platform, or nil.
func (r *TokenRepository) GetActive(userID, serviceID string) (*ServiceToken, error) {
	token, err := r.Get(userID, serviceID)
	if err != nil || token == nil || !token.IsActive {
		return nil, err
	}
	return token, nil
}

// Save stores a fresh grant and activates it.
func (r *TokenRepository) Save(userID, serviceID string, token *oauth2.Token, profile Profile) error {
	now := db.NowISO()
	_, err := r.writer.Exec(`
		INSERT INTO user_services (id, user_id, service_id, access_token, refresh_token, token_type, expires_at,
			service_user_id, service_username, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id, service_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = COALESCE(excluded.refresh_token, user_services.refresh_token),
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			service_user_id = excluded.service_user_id,
			service_username = excluded.service_username,
			is_active = 1,
			updated_at = excluded.updated_at
	`, uuid.New().String(), userID, serviceID, token.AccessToken, nullIfEmpty(token.RefreshToken), tokenType(token),
		expiry(token), nullIfEmpty(profile.ID), nullIfEmpty(profile.DisplayName), now, now)
	return err
}

// UpdateToken writes a refreshed token. A refresh response without a new
// refresh token keeps the stored one.
func (r *TokenRepository) UpdateToken(userID, serviceID string, token *oauth2.Token) error {
	_, err := r.writer.Exec(`
		UPDATE user_services SET
			access_token = ?,
			refresh_token = COALESCE(?, refresh_token),
			token_type = ?,
			expires_at = ?,
			updated_at = ?
		WHERE user_id = ? AND service_id = ?
	`, token.AccessToken, nullIfEmpty(token.RefreshToken), tokenType(token), expiry(token), db.NowISO(), userID, serviceID)
	return err
}

// Deactivate marks the grant inactive. It reports whether one existed.
func (r *TokenRepository) Deactivate(userID, serviceID string) (bool, error) {
	result, err := r.writer.Exec(`
		UPDATE user_services SET is_active = 0, updated_at = ?
		WHERE user_id = ? AND service_id = ? AND is_active = 1
	`, db.NowISO(), userID, serviceID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// ListExpiring returns active grants with a refresh token that expire
// before cutoff.
func (r *TokenRepository) ListExpiring(cutoff time.Time) ([]ServiceToken, error) {
	rows, err := r.reader.Query(`
		SELECT `+tokenColumns+` FROM user_services
		WHERE is_active = 1 AND refresh_token IS NOT NULL AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at
	`, db.FormatTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := []ServiceToken{}
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *token)
	}
	return tokens, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(row scanner) (*ServiceToken, error) {
	var (
		token                          ServiceToken
		refreshToken, expiresAt        sql.NullString
		serviceUserID, serviceUsername sql.NullString
		isActive                       int
		createdAt, updatedAt           string
	)
	err := row.Scan(&token.ID, &token.UserID, &token.ServiceID, &token.AccessToken, &refreshToken, &token.TokenType,
		&expiresAt, &serviceUserID, &serviceUsername, &isActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	token.RefreshToken = refreshToken.String
	token.ExpiresAt = db.ParseNullTime(expiresAt)
	token.ServiceUserID = db.StringPtr(serviceUserID)
	token.ServiceUsername = db.StringPtr(serviceUsername)
	token.IsActive = isActive != 0
	token.CreatedAt = db.ParseTime(createdAt)
	token.UpdatedAt = db.ParseTime(updatedAt)
	return &token, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func tokenType(token *oauth2.Token) string {
	if token.TokenType == "" {
		return "Bearer"
	}
	return token.TokenType
}

func expiry(token *oauth2.Token) any {
	if token.Expiry.IsZero() {
		return nil
	}
	return db.FormatTime(token.Expiry)
}

// persistingTokenSource writes refreshed tokens back to the repository.
type persistingTokenSource struct {
	mu        sync.Mutex
	base      oauth2.TokenSource
	repo      *TokenRepository
	userID    string
	serviceID string
	last      string
	onSave    func(*oauth2.Token)
}

func newPersistingTokenSource(base oauth2.TokenSource, repo *TokenRepository, stored *ServiceToken, onSave func(*oauth2.Token)) *persistingTokenSource {
	return &persistingTokenSource{
		base:      base,
		repo:      repo,
		userID:    stored.UserID,
		serviceID: stored.ServiceID,
		last:      stored.AccessToken,
		onSave:    onSave,
	}
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		if err := s.repo.UpdateToken(s.userID, s.serviceID, token); err != nil {
			return nil, err
		}
		s.last = token.AccessToken
		if s.onSave != nil {
			s.onSave(token)
		}
	}
	return token, nil
}
