// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// refreshSecretBytes is the entropy of the refresh secret embedded in refresh credentials.
const refreshSecretBytes = 32

// maxSessionAttempts bounds the retries when concurrent logins race on the session row.
const maxSessionAttempts = 3

// RotatingConfig configures RotatingSessions.
type RotatingConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// RotatingSessions issues short-lived access credentials plus a refresh
// credential bound to a server-side session row. The row's secret rotates on
// every login and every refresh, so only the newest refresh credential works.
type RotatingSessions struct {
	checker    credentialChecker
	sessions   RefreshSessionRepository
	signer     *TokenSigner
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

var _ SessionService = (*RotatingSessions)(nil)

// NewRotatingSessions creates the rotating refresh-token strategy.
func NewRotatingSessions(accounts AccountRepository, sessions RefreshSessionRepository, hasher SecretHasher, signer *TokenSigner, cfg RotatingConfig) (*RotatingSessions, error) {
	return NewRotatingSessionsWithLogger(accounts, sessions, hasher, signer, cfg, slog.Default())
}

// NewRotatingSessionsWithLogger creates the rotating strategy with an explicit logger.
func NewRotatingSessionsWithLogger(accounts AccountRepository, sessions RefreshSessionRepository, hasher SecretHasher, signer *TokenSigner, cfg RotatingConfig, logger *slog.Logger) (*RotatingSessions, error) {
	if accounts == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("accounts repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("secret hasher is required")
	}
	if signer == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("token signer is required")
	}
	if logger == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("logger is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, oops.Code("SESSION_INVALID_CONFIG").
			With("access_ttl", cfg.AccessTTL).
			With("refresh_ttl", cfg.RefreshTTL).
			Errorf("refresh ttl must not be shorter than access ttl")
	}
	return &RotatingSessions{
		checker:    credentialChecker{accounts: accounts, hasher: hasher, logger: logger},
		sessions:   sessions,
		signer:     signer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
		logger:     logger,
	}, nil
}

// Login authenticates a verified account and issues an access/refresh pair.
// The account's session row is created on first login and reused afterwards.
func (s *RotatingSessions) Login(ctx context.Context, req LoginRequest) (creds *Credentials, err error) {
	ctx, span := tracer.Start(ctx, "auth.login", trace.WithAttributes(attribute.String("strategy", "rotating")))
	defer func() { endSpan(span, err); recordOperation("login", err) }()

	account, err := s.checker.check(ctx, req.Email, req.Password)
	if err != nil {
		recordLoginFailure(err)
		return nil, err
	}
	if !account.Verified {
		err = unauthenticated("AUTH_UNVERIFIED", "Please verify your email")
		recordLoginFailure(err)
		return nil, err
	}

	secret, err := IssueToken(refreshSecretBytes)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "generate refresh secret").Wrap(err)
	}
	if err := s.bindSession(ctx, account.ID, Digest(secret), req.Client); err != nil {
		recordLoginFailure(err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "login succeeded",
		"account_id", account.ID.String(),
		"strategy", "rotating")

	return s.issue(Principal{AccountID: account.ID, Role: account.Role}, secret)
}

// bindSession makes the account's single session row carry newDigest.
func (s *RotatingSessions) bindSession(ctx context.Context, accountID ulid.ULID, newDigest string, client ClientInfo) error {
	for range maxSessionAttempts {
		existing, err := s.sessions.GetByAccount(ctx, accountID)
		switch {
		case errors.Is(err, ErrNotFound):
			session, err := NewRefreshSession(accountID, newDigest, client)
			if err != nil {
				return oops.Code("AUTH_LOGIN_FAILED").With("operation", "create session").Wrap(err)
			}
			err = s.sessions.Create(ctx, session)
			if err == nil {
				return nil
			}
			if !errors.Is(err, ErrConflict) {
				return oops.Code("AUTH_SESSION_CREATE_FAILED").With("account_id", accountID.String()).Wrap(err)
			}
			// A concurrent login created the row first; reuse it.
		case err != nil:
			return oops.Code("AUTH_LOGIN_FAILED").With("operation", "get session").Wrap(err)
		case !existing.Valid:
			return unauthenticated("SESSION_REVOKED", "Not authenticated")
		default:
			err = s.sessions.Rotate(ctx, accountID, existing.SecretDigest, newDigest, s.now())
			if err == nil {
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return oops.Code("AUTH_SESSION_ROTATE_FAILED").With("account_id", accountID.String()).Wrap(err)
			}
		}
	}
	return oops.Code("AUTH_SESSION_CONTENDED").
		With("account_id", accountID.String()).
		Errorf("session row changed concurrently")
}

// Refresh exchanges a refresh credential for a new pair and rotates the
// session secret. The presented credential stops working.
func (s *RotatingSessions) Refresh(ctx context.Context, refreshToken string) (creds *Credentials, err error) {
	ctx, span := tracer.Start(ctx, "auth.refresh")
	defer func() { endSpan(span, err); recordOperation("refresh", err) }()

	principal, session, err := s.checkRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	secret, err := IssueToken(refreshSecretBytes)
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").Wrap(err)
	}
	if err := s.sessions.Rotate(ctx, principal.AccountID, session.SecretDigest, Digest(secret), s.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAuthenticationInvalid()
		}
		return nil, oops.Code("AUTH_REFRESH_FAILED").With("account_id", principal.AccountID.String()).Wrap(err)
	}
	return s.issue(principal, secret)
}

// Logout deletes the account's session row. Refresh credentials issued
// before it no longer authenticate.
func (s *RotatingSessions) Logout(ctx context.Context, accountID ulid.ULID) (err error) {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer func() { endSpan(span, err); recordOperation("logout", err) }()

	if err := s.sessions.DeleteByAccount(ctx, accountID); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return nil
}

// Revoke marks the account's session invalid. Logins fail until Reinstate.
func (s *RotatingSessions) Revoke(ctx context.Context, accountID ulid.ULID) error {
	return s.setValid(ctx, accountID, false)
}

// Reinstate clears an administrative revocation.
func (s *RotatingSessions) Reinstate(ctx context.Context, accountID ulid.ULID) error {
	return s.setValid(ctx, accountID, true)
}

func (s *RotatingSessions) setValid(ctx context.Context, accountID ulid.ULID, valid bool) error {
	if err := s.sessions.SetValid(ctx, accountID, valid); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound("SESSION_NOT_FOUND", "No session for this account")
		}
		return oops.Code("AUTH_SESSION_UPDATE_FAILED").
			With("account_id", accountID.String()).
			With("valid", valid).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "session validity changed",
		"account_id", accountID.String(),
		"valid", valid)
	return nil
}

// Authenticate accepts access credentials on signature alone and refresh
// credentials only while they are bound to a valid session row.
func (s *RotatingSessions) Authenticate(ctx context.Context, credential string) (Principal, error) {
	claims, err := s.signer.Parse(credential, TokenAccess, TokenRefresh)
	if err != nil {
		return Principal{}, err
	}
	if claims.Kind == TokenAccess {
		return claims.Principal()
	}
	principal, _, err := s.checkRefresh(ctx, credential)
	return principal, err
}

func (s *RotatingSessions) checkRefresh(ctx context.Context, refreshToken string) (Principal, *RefreshSession, error) {
	claims, err := s.signer.Parse(refreshToken, TokenRefresh)
	if err != nil {
		return Principal{}, nil, err
	}
	principal, err := claims.Principal()
	if err != nil {
		return Principal{}, nil, err
	}
	session, err := s.sessions.GetByAccount(ctx, principal.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, nil, ErrAuthenticationInvalid()
		}
		return Principal{}, nil, oops.Code("AUTH_SESSION_LOOKUP_FAILED").Wrap(err)
	}
	if !session.Valid || !Matches(claims.RefreshSecret, session.SecretDigest) {
		return Principal{}, nil, ErrAuthenticationInvalid()
	}
	return principal, session, nil
}

func (s *RotatingSessions) issue(p Principal, refreshSecret string) (*Credentials, error) {
	access, accessExp, err := s.signer.Sign(p, TokenAccess, s.accessTTL, "")
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.signer.Sign(p, TokenRefresh, s.refreshTTL, refreshSecret)
	if err != nil {
		return nil, err
	}
	return &Credentials{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		Principal:        p,
	}, nil
}

// endSpan records err on span (if any) and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil && KindOf(err) == KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if err != nil {
		span.SetAttributes(attribute.String("error.kind", KindOf(err).String()))
	}
	span.End()
}
