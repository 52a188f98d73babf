package user

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
	tokenTypeReset   = "reset"
)

var ErrTokenInvalid = errors.New("token is invalid")

// TokenIssuer signs and verifies the HS256 tokens used by the session
// lifecycle. The secret is injected once at construction and never read
// from ambient state.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL, resetTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		resetTTL:   resetTTL,
	}
}

func (t *TokenIssuer) IssueAccess(userID string) (string, int64, error) {
	encoded, err := t.sign(userID, tokenTypeAccess, t.accessTTL, "")
	if err != nil {
		return "", 0, err
	}
	return encoded, int64(t.accessTTL.Seconds()), nil
}

// IssueRefresh includes a fresh jti so that two issuances within the same
// second still produce distinct tokens; rotation depends on that.
func (t *TokenIssuer) IssueRefresh(userID string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate refresh jti: %w", err)
	}
	return t.sign(userID, tokenTypeRefresh, t.refreshTTL, id.String())
}

func (t *TokenIssuer) IssueReset(userID string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate reset jti: %w", err)
	}
	return t.sign(userID, tokenTypeReset, t.resetTTL, id.String())
}

func (t *TokenIssuer) ParseAccess(raw string) (string, error) {
	return t.parse(raw, tokenTypeAccess)
}

func (t *TokenIssuer) ParseRefresh(raw string) (string, error) {
	return t.parse(raw, tokenTypeRefresh)
}

func (t *TokenIssuer) ParseReset(raw string) (string, error) {
	return t.parse(raw, tokenTypeReset)
}

func (t *TokenIssuer) sign(userID, tokenType string, ttl time.Duration, jti string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"typ": tokenType,
	}
	if jti != "" {
		claims["jti"] = jti
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}

	return encoded, nil
}

func (t *TokenIssuer) parse(raw, wantType string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrTokenInvalid
	}

	if tokenType, _ := claims["typ"].(string); tokenType != wantType {
		return "", ErrTokenInvalid
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return "", ErrTokenInvalid
	}

	return userID, nil
}
