// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Principal is the authenticated caller.
type Principal struct {
	AccountID ulid.ULID
	Role      Role
}

// ClientInfo is the fingerprint captured when a session is issued.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

// LoginRequest is the input to SessionService.Login.
type LoginRequest struct {
	Email    string
	Password string
	Client   ClientInfo
}

// Credentials are the signed artifacts returned by a login or refresh.
// RefreshToken is empty for strategies without refresh.
type Credentials struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Principal        Principal
}

// SessionService issues, validates and revokes bearer credentials.
type SessionService interface {
	// Login verifies the secret of a verified account and issues credentials.
	Login(ctx context.Context, req LoginRequest) (*Credentials, error)

	// Logout ends the account's server-side session, if the strategy keeps one.
	Logout(ctx context.Context, accountID ulid.ULID) error

	// Authenticate validates a presented credential.
	// Fails only with an Unauthenticated error, never for authorization.
	Authenticate(ctx context.Context, credential string) (Principal, error)
}

// RefreshSession is the single server-side session row of an account.
type RefreshSession struct {
	ID           ulid.ULID
	AccountID    ulid.ULID
	SecretDigest string
	Valid        bool
	UserAgent    string
	IPAddress    string
	CreatedAt    time.Time
	RotatedAt    time.Time
}

// NewRefreshSession creates a validated RefreshSession.
func NewRefreshSession(accountID ulid.ULID, secretDigest string, client ClientInfo) (*RefreshSession, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if secretDigest == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("secret digest cannot be empty")
	}
	now := time.Now()
	return &RefreshSession{
		ID:           ulid.Make(),
		AccountID:    accountID,
		SecretDigest: secretDigest,
		Valid:        true,
		UserAgent:    client.UserAgent,
		IPAddress:    client.IPAddress,
		CreatedAt:    now,
		RotatedAt:    now,
	}, nil
}

// RefreshSessionRepository persists refresh sessions, one per account.
type RefreshSessionRepository interface {
	// Create stores a session. Returns ErrConflict if the account already has one.
	Create(ctx context.Context, session *RefreshSession) error

	// GetByAccount retrieves the account's session.
	GetByAccount(ctx context.Context, accountID ulid.ULID) (*RefreshSession, error)

	// Rotate replaces the secret digest if the session is valid and its
	// current digest equals expectedDigest. Returns ErrNotFound otherwise.
	Rotate(ctx context.Context, accountID ulid.ULID, expectedDigest, newDigest string, at time.Time) error

	// SetValid sets the validity flag.
	SetValid(ctx context.Context, accountID ulid.ULID, valid bool) error

	// DeleteByAccount removes the account's session.
	DeleteByAccount(ctx context.Context, accountID ulid.ULID) error
}
