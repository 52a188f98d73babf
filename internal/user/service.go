package user

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrProfileNotFound     = errors.New("profile not found")
)

// Store is the credential store contract the session manager depends on.
// *Repository is the Postgres implementation; tests use an in-memory fake.
type Store interface {
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	Create(ctx context.Context, fullName, email, passwordHash string) (User, error)
	UpdateRefreshToken(ctx context.Context, id string, token *string) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	UpdateAccount(ctx context.Context, id, fullName, email string) (User, error)
	SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error
	UpsertProfile(ctx context.Context, userID string, input ProfileInput) (Profile, error)
	GetProfile(ctx context.Context, userID string) (Profile, error)
}

// Service is the sole authority over the access/refresh token pair tied to
// a user. The user row doubles as the session store: one refresh-token slot,
// overwritten on every issuance and cleared on revocation, so at most one
// refresh token per user is ever valid.
type Service struct {
	store    Store
	issuer   *TokenIssuer
	resetTTL time.Duration
}

func NewService(store Store, issuer *TokenIssuer) *Service {
	return &Service{
		store:    store,
		issuer:   issuer,
		resetTTL: issuer.resetTTL,
	}
}

// Authenticate verifies the email/password pair. Unknown email and wrong
// password both come back as ErrInvalidCredentials so the response does not
// reveal whether the account exists.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	return u, nil
}

// IssueSession mints a fresh token pair for userID and persists the refresh
// token before returning either token. Callers reach this only after the
// user's existence was established, so a missing row is a consistency fault,
// not a not-found.
func (s *Service) IssueSession(ctx context.Context, userID string) (Tokens, error) {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tokens{}, fmt.Errorf("issue session: user %s vanished after authentication", userID)
		}
		return Tokens{}, err
	}

	access, expiresIn, err := s.issuer.IssueAccess(u.ID)
	if err != nil {
		return Tokens{}, err
	}

	refresh, err := s.issuer.IssueRefresh(u.ID)
	if err != nil {
		return Tokens{}, err
	}

	if err := s.store.UpdateRefreshToken(ctx, u.ID, &refresh); err != nil {
		return Tokens{}, fmt.Errorf("persist refresh token: %w", err)
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

// RevokeSession clears the stored refresh token. Revoking a user with no
// active session is a no-op.
func (s *Service) RevokeSession(ctx context.Context, userID string) error {
	if err := s.store.UpdateRefreshToken(ctx, userID, nil); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *Service) Login(ctx context.Context, email, password string) (User, Tokens, error) {
	u, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return User{}, Tokens{}, err
	}

	tokens, err := s.IssueSession(ctx, u.ID)
	if err != nil {
		return User{}, Tokens{}, err
	}

	return u, tokens, nil
}

// Refresh rotates the token pair. A well-signed refresh token is still
// rejected unless it matches the stored slot; that is the revocation
// mechanism.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (Tokens, error) {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return Tokens{}, ErrInvalidRefreshToken
	}

	userID, err := s.issuer.ParseRefresh(rawRefresh)
	if err != nil {
		return Tokens{}, ErrInvalidRefreshToken
	}

	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tokens{}, ErrInvalidRefreshToken
		}
		return Tokens{}, err
	}

	if u.RefreshToken == nil || subtle.ConstantTimeCompare([]byte(*u.RefreshToken), []byte(rawRefresh)) != 1 {
		return Tokens{}, ErrInvalidRefreshToken
	}

	return s.IssueSession(ctx, u.ID)
}

func (s *Service) Register(ctx context.Context, fullName, email, password string) (User, Tokens, error) {
	email = normalizeEmail(email)

	_, err := s.store.GetByEmail(ctx, email)
	if err == nil {
		return User{}, Tokens{}, ErrEmailTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, Tokens{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, Tokens{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.Create(ctx, fullName, email, string(hash))
	if err != nil {
		return User{}, Tokens{}, err
	}

	tokens, err := s.IssueSession(ctx, u.ID)
	if err != nil {
		return User{}, Tokens{}, err
	}

	return u, tokens, nil
}

// ChangePassword requires the old password and, on success, revokes the
// active session so the outstanding refresh token dies with the old
// credential.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("change password: user %s vanished after authentication", userID)
		}
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	if err := s.store.UpdatePasswordHash(ctx, u.ID, string(hash)); err != nil {
		return fmt.Errorf("store new password hash: %w", err)
	}

	return s.RevokeSession(ctx, u.ID)
}

func (s *Service) UpdateAccount(ctx context.Context, userID, fullName, email string) (User, error) {
	email = normalizeEmail(email)

	u, err := s.store.UpdateAccount(ctx, userID, fullName, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, fmt.Errorf("update account: user %s vanished after authentication", userID)
		}
		return User{}, err
	}

	return u, nil
}

// InitiatePasswordReset mints a short-lived reset token and persists it.
// An unknown email succeeds silently so the caller cannot probe for
// registered accounts. Delivery of the reset link is out of scope.
func (s *Service) InitiatePasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	token, err := s.issuer.IssueReset(u.ID)
	if err != nil {
		return err
	}

	expiresAt := time.Now().UTC().Add(s.resetTTL)
	if err := s.store.SetResetToken(ctx, u.ID, token, expiresAt); err != nil {
		return fmt.Errorf("persist reset token: %w", err)
	}

	return nil
}

func (s *Service) SaveProfile(ctx context.Context, userID string, input ProfileInput) (Profile, error) {
	return s.store.UpsertProfile(ctx, userID, input)
}

func (s *Service) GetProfile(ctx context.Context, userID string) (Profile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	return p, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
