// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CookieName is the cookie carrying the credential in the cookie strategy.
const CookieName = "token"

// CookieSessions issues one medium-lived credential meant to travel in a
// signed HTTP-only cookie. There is no server-side session state.
type CookieSessions struct {
	checker credentialChecker
	signer  *TokenSigner
	ttl     time.Duration
	logger  *slog.Logger
}

var _ SessionService = (*CookieSessions)(nil)

// NewCookieSessions creates the signed-cookie strategy. A zero ttl uses DefaultCookieTTL.
func NewCookieSessions(accounts AccountRepository, hasher SecretHasher, signer *TokenSigner, ttl time.Duration, logger *slog.Logger) (*CookieSessions, error) {
	if accounts == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("secret hasher is required")
	}
	if signer == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("token signer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultCookieTTL
	}
	return &CookieSessions{
		checker: credentialChecker{accounts: accounts, hasher: hasher, logger: logger},
		signer:  signer,
		ttl:     ttl,
		logger:  logger,
	}, nil
}

// TTL returns the credential lifetime, used as the cookie's Max-Age.
func (s *CookieSessions) TTL() time.Duration {
	return s.ttl
}

// Login authenticates a verified account and issues the cookie credential.
func (s *CookieSessions) Login(ctx context.Context, req LoginRequest) (creds *Credentials, err error) {
	ctx, span := tracer.Start(ctx, "auth.login", trace.WithAttributes(attribute.String("strategy", "cookie")))
	defer func() { endSpan(span, err); recordOperation("login", err) }()

	account, err := s.checker.check(ctx, req.Email, req.Password)
	if err != nil {
		recordLoginFailure(err)
		return nil, err
	}
	if !account.Verified {
		err = unauthorized("AUTH_UNVERIFIED", "Please verify your email")
		recordLoginFailure(err)
		return nil, err
	}

	p := Principal{AccountID: account.ID, Role: account.Role}
	token, expiresAt, err := s.signer.Sign(p, TokenCookie, s.ttl, "")
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "login succeeded",
		"account_id", account.ID.String(),
		"strategy", "cookie")

	return &Credentials{AccessToken: token, AccessExpiresAt: expiresAt, Principal: p}, nil
}

// Logout has nothing to revoke; the transport overwrites the cookie.
func (s *CookieSessions) Logout(ctx context.Context, accountID ulid.ULID) error {
	recordOperation("logout", nil)
	s.logger.DebugContext(ctx, "cookie logout", "account_id", accountID.String())
	return nil
}

// Authenticate validates the cookie credential's signature and expiry.
func (s *CookieSessions) Authenticate(_ context.Context, credential string) (Principal, error) {
	claims, err := s.signer.Parse(credential, TokenCookie)
	if err != nil {
		return Principal{}, err
	}
	return claims.Principal()
}
