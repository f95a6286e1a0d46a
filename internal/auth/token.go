// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Credential lifetimes.
const (
	DefaultAccessTTL  = 6 * time.Hour
	DefaultRefreshTTL = 24 * time.Hour
	DefaultCookieTTL  = 24 * time.Hour
)

// MinSigningKeyLength is the shortest HMAC key accepted.
const MinSigningKeyLength = 32

// TokenKind distinguishes credentials so one cannot stand in for another.
type TokenKind string

// Token kinds.
const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
	TokenCookie  TokenKind = "cookie"
)

// Claims is the signed payload of every credential.
type Claims struct {
	jwt.RegisteredClaims
	AccountID     string    `json:"account_id"`
	Role          Role      `json:"role"`
	Kind          TokenKind `json:"kind"`
	RefreshSecret string    `json:"rfs,omitempty"`
}

// Principal converts the claims back into a Principal.
func (c *Claims) Principal() (Principal, error) {
	id, err := ulid.Parse(c.AccountID)
	if err != nil {
		return Principal{}, ErrAuthenticationInvalid()
	}
	return Principal{AccountID: id, Role: c.Role}, nil
}

// TokenSigner signs and validates HS256 credentials.
type TokenSigner struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewTokenSigner creates a signer. The key must be at least MinSigningKeyLength bytes.
func NewTokenSigner(key []byte, issuer string) (*TokenSigner, error) {
	if len(key) < MinSigningKeyLength {
		return nil, oops.Code("TOKEN_INVALID_KEY").
			With("length", len(key)).
			Errorf("signing key must be at least %d bytes", MinSigningKeyLength)
	}
	return &TokenSigner{key: key, issuer: issuer, now: time.Now}, nil
}

// WithClock returns a copy of the signer using now as its time source.
func (s *TokenSigner) WithClock(now func() time.Time) *TokenSigner {
	cp := *s
	cp.now = now
	return &cp
}

// Sign issues a credential of the given kind for p.
func (s *TokenSigner) Sign(p Principal, kind TokenKind, ttl time.Duration, refreshSecret string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.AccountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        ulid.Make().String(),
		},
		AccountID:     p.AccountID.String(),
		Role:          p.Role,
		Kind:          kind,
		RefreshSecret: refreshSecret,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").With("kind", kind).Wrap(err)
	}
	return signed, expiresAt, nil
}

// Parse validates signature, expiry and issuer, and requires the token to
// be one of kinds. Every failure is reported as the same Unauthenticated error.
func (s *TokenSigner) Parse(token string, kinds ...TokenKind) (*Claims, error) {
	if token == "" {
		return nil, ErrAuthenticationInvalid()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrAuthenticationInvalid()
	}
	if !slices.Contains(kinds, claims.Kind) {
		return nil, ErrAuthenticationInvalid()
	}
	return claims, nil
}
