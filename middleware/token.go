package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"library-backend/library"
)

// Claims are carried by both access and refresh tokens.
type Claims struct {
	UserID int64  `json:"id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 tokens. Access and refresh tokens use
// different secrets so one cannot stand in for the other.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// WithClock replaces the issuer's time source.
func (ti *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	ti.now = now
	return ti
}

func (ti *TokenIssuer) sign(u *library.User, secret []byte, ttl time.Duration) (string, time.Time, error) {
	now := ti.now()
	exp := now.Add(ttl)
	claims := Claims{
		UserID: u.ID,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "library-backend",
			Subject:   strconv.FormatInt(u.ID, 10),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

// Access issues a short-lived token for the Authorization header.
func (ti *TokenIssuer) Access(u *library.User) (string, error) {
	token, _, err := ti.sign(u, ti.accessSecret, ti.accessTTL)
	return token, err
}

// Refresh issues a long-lived token for the refresh cookie and returns its expiry.
func (ti *TokenIssuer) Refresh(u *library.User) (string, time.Time, error) {
	return ti.sign(u, ti.refreshSecret, ti.refreshTTL)
}

func (ti *TokenIssuer) parse(raw string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{},
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ti.now),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", library.ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: invalid token", library.ErrUnauthorized)
	}
	return claims, nil
}

// ParseAccess verifies an access token.
func (ti *TokenIssuer) ParseAccess(raw string) (*Claims, error) {
	return ti.parse(raw, ti.accessSecret)
}

// ParseRefresh verifies a refresh token.
func (ti *TokenIssuer) ParseRefresh(raw string) (*Claims, error) {
	return ti.parse(raw, ti.refreshSecret)
}
