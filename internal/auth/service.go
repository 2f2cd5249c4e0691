package auth

import (
	"context"
	"errors"
	"net/mail"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/strefethen/music-central-go/internal/audit"
	"github.com/strefethen/music-central-go/internal/config"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// MaxPasswordBytes is the longest password bcrypt can hash.
const MaxPasswordBytes = 72

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountNotFound    = errors.New("account not found")
)

// ValidationError describes invalid signup or profile input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

// Service handles signup, login and profiles.
type Service struct {
	cfg        config.Config
	logger     *log.Logger
	accounts   *AccountsRepository
	audit      *audit.Service
	bcryptCost int
}

// NewService creates an auth service. auditService may be nil.
func NewService(cfg config.Config, dbPair DBPair, logger *log.Logger, auditService *audit.Service) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:        cfg,
		logger:     logger,
		accounts:   NewAccountsRepository(dbPair),
		audit:      auditService,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Accounts exposes the user repository to sibling services.
func (s *Service) Accounts() *AccountsRepository {
	return s.accounts
}

// Signup registers a user and returns a token pair. Emails listed in
// ADMIN_EMAILS become admins.
func (s *Service) Signup(ctx context.Context, email, password, name string) (*Account, TokenPair, error) {
	email = normalizeEmail(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, TokenPair{}, &ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	if len(password) < MinPasswordLength {
		return nil, TokenPair{}, &ValidationError{Field: "password", Message: "must be at least 8 characters"}
	}
	if len(password) > MaxPasswordBytes {
		return nil, TokenPair{}, &ValidationError{Field: "password", Message: "must be at most 72 bytes"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, TokenPair{}, err
	}

	role := RoleUser
	if slices.ContainsFunc(s.cfg.AdminEmails, func(admin string) bool { return strings.EqualFold(admin, email) }) {
		role = RoleAdmin
	}

	account, err := s.accounts.Create(email, strings.TrimSpace(name), string(hash), role)
	if err != nil {
		return nil, TokenPair{}, err
	}

	tokens, err := s.issueTokens(account)
	if err != nil {
		return nil, TokenPair{}, err
	}

	s.logger.Info("user signed up", "user_id", account.ID, "role", account.Role)
	s.audit.Record(ctx, audit.WriteEventInput{
		Type:    audit.EventUserSignedUp,
		UserID:  &account.ID,
		Message: "user signed up",
	})
	return account, tokens, nil
}

// Login checks credentials and returns a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*Account, TokenPair, error) {
	account, err := s.accounts.GetByEmail(email)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if account == nil || len(password) > MaxPasswordBytes {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, TokenPair{}, ErrInvalidCredentials
	}

	tokens, err := s.issueTokens(account)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.audit.Record(ctx, audit.WriteEventInput{
		Type:    audit.EventUserLoggedIn,
		UserID:  &account.ID,
		Message: "user logged in",
	})
	return account, tokens, nil
}

// Refresh exchanges a refresh token for a new access token. The user's
// current role is re-read so demotions take effect.
func (s *Service) Refresh(refreshToken string) (string, int, error) {
	payload, err := VerifyToken(s.cfg, refreshToken)
	if err != nil {
		return "", 0, err
	}
	if payload.Type != TokenTypeRefresh {
		return "", 0, ErrTokenType
	}
	account, err := s.accounts.GetByID(payload.Sub)
	if err != nil {
		return "", 0, err
	}
	if account == nil {
		return "", 0, ErrTokenInvalid
	}
	access, err := generateToken(s.cfg, TokenPayload{Sub: account.ID, Email: account.Email, Role: account.Role}, TokenTypeAccess, s.cfg.JWTAccessTokenExpirySec)
	if err != nil {
		return "", 0, err
	}
	return access, s.cfg.JWTAccessTokenExpirySec, nil
}

// Me returns the account behind userID.
func (s *Service) Me(userID string) (*Account, error) {
	account, err := s.accounts.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// UpdateProfile changes the display name.
func (s *Service) UpdateProfile(userID, name string) (*Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be blank"}
	}
	account, err := s.accounts.UpdateName(userID, name)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) issueTokens(account *Account) (TokenPair, error) {
	return GenerateTokenPair(s.cfg, TokenPayload{Sub: account.ID, Email: account.Email, Role: account.Role})
}
