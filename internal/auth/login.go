// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("keyhold/auth")

// dummyPasswordHash is used when an account doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// credentialChecker resolves an email/secret pair to an account.
// Both session strategies share it.
type credentialChecker struct {
	accounts AccountRepository
	hasher   SecretHasher
	logger   *slog.Logger
}

// check verifies the secret and returns the account. It does not look at
// verification state; callers decide how an unverified account fails.
// Uses constant-time operations to prevent timing-based email enumeration.
func (c *credentialChecker) check(ctx context.Context, email, password string) (*Account, error) {
	if email == "" || password == "" {
		return nil, badRequest("AUTH_MISSING_CREDENTIALS", "Please provide email and password")
	}

	var (
		account   *Account
		lookupErr error
	)
	normalized, emailErr := NormalizeEmail(email)
	if emailErr != nil {
		lookupErr = ErrNotFound
	} else {
		account, lookupErr = c.accounts.GetByEmail(ctx, normalized)
	}

	targetHash := dummyPasswordHash
	exists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get account by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = account.PasswordHash
		exists = true
	}

	// Always verify password (constant-time operation for timing attack prevention)
	valid, verifyErr := c.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !exists {
			return nil, ErrInvalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(verifyErr)
	}
	if !exists || !valid {
		return nil, ErrInvalidCredentials()
	}

	if account.Status == StatusInactive {
		return nil, unauthorized("ACCOUNT_INACTIVE", "Account is inactive")
	}

	if c.hasher.NeedsUpgrade(account.PasswordHash) {
		c.upgradeHash(ctx, account, password)
	}

	return account, nil
}

// upgradeHash re-hashes a legacy digest. Login succeeds regardless.
func (c *credentialChecker) upgradeHash(ctx context.Context, account *Account, password string) {
	newHash, err := c.hasher.Hash(password)
	if err != nil {
		c.logger.DebugContext(ctx, "password hash upgrade skipped",
			"account_id", account.ID.String(),
			"error", err)
		return
	}
	if err := c.accounts.UpdatePasswordHash(ctx, account.ID, newHash); err != nil {
		c.logger.WarnContext(ctx, "password hash upgrade failed",
			"account_id", account.ID.String(),
			"error", err)
		return
	}
	account.PasswordHash = newHash
}
