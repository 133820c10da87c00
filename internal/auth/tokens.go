// Package auth issues and verifies the JWT pair used by the HTTP API:
// a short-lived access token carried as a bearer header and a
// long-lived refresh token carried in an httpOnly cookie.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Sentinel errors checked with errors.Is().
var (
	// ErrInvalidToken indicates the token failed signature, expiry or
	// claim validation.
	ErrInvalidToken = errors.New("invalid token")
)

// Principal identifies an authenticated user for the rest of a request.
type Principal struct {
	UserID   uuid.UUID
	Username string
}

// Claims is the JWT payload for both token kinds.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies the access/refresh pair. The two kinds use
// separate secrets so a leaked access secret cannot mint refresh tokens.
type Tokens struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokens creates a token manager.
func NewTokens(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Tokens {
	return &Tokens{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// RefreshTTL reports the refresh token lifetime, used for the cookie
// Max-Age.
func (t *Tokens) RefreshTTL() time.Duration {
	return t.refreshTTL
}

// IssueAccess signs a new access token for p.
func (t *Tokens) IssueAccess(p Principal) (string, error) {
	return sign(p, t.accessSecret, t.accessTTL)
}

// IssueRefresh signs a new refresh token for p.
func (t *Tokens) IssueRefresh(p Principal) (string, error) {
	return sign(p, t.refreshSecret, t.refreshTTL)
}

// VerifyAccess validates an access token and returns its principal.
func (t *Tokens) VerifyAccess(token string) (Principal, error) {
	return verify(token, t.accessSecret)
}

// VerifyRefresh validates a refresh token and returns its principal.
func (t *Tokens) VerifyRefresh(token string) (Principal, error) {
	return verify(token, t.refreshSecret)
}

func sign(p Principal, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   p.UserID.String(),
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func verify(token string, secret []byte) (Principal, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	return Principal{UserID: userID, Username: claims.Username}, nil
}
