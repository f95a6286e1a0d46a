// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/auth"
)

// RefreshSessionRepository implements auth.RefreshSessionRepository using PostgreSQL.
// The unique index on account_id keeps one row per account.
type RefreshSessionRepository struct {
	pool Pool
}

var _ auth.RefreshSessionRepository = (*RefreshSessionRepository)(nil)

// NewRefreshSessionRepository creates a new RefreshSessionRepository.
func NewRefreshSessionRepository(pool Pool) *RefreshSessionRepository {
	return &RefreshSessionRepository{pool: pool}
}

// Create stores a new refresh session.
func (r *RefreshSessionRepository) Create(ctx context.Context, s *auth.RefreshSession) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO refresh_sessions (id, account_id, secret_digest, valid, user_agent, ip_address, created_at, rotated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		s.ID.String(),
		s.AccountID.String(),
		s.SecretDigest,
		s.Valid,
		s.UserAgent,
		s.IPAddress,
		s.CreatedAt,
		s.RotatedAt,
	)
	if isUniqueViolation(err) {
		return oops.With("account_id", s.AccountID.String()).
			Wrap(auth.NewConflict("SESSION_EXISTS", "Session already exists"))
	}
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert refresh_session").
			With("account_id", s.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetByAccount retrieves the account's session.
func (r *RefreshSessionRepository) GetByAccount(ctx context.Context, accountID ulid.ULID) (*auth.RefreshSession, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, account_id, secret_digest, valid, user_agent, ip_address, created_at, rotated_at
		FROM refresh_sessions
		WHERE account_id = $1
	`, accountID.String())

	var (
		s          auth.RefreshSession
		idStr      string
		accountStr string
	)
	err := row.Scan(&idStr, &accountStr, &s.SecretDigest, &s.Valid, &s.UserAgent, &s.IPAddress, &s.CreatedAt, &s.RotatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("account_id", accountID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session by account").
			With("account_id", accountID.String()).
			Wrap(err)
	}

	if s.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if s.AccountID, err = ulid.Parse(accountStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT_ID").With("account_id", accountStr).Wrap(err)
	}
	return &s, nil
}

// Rotate swaps the secret digest when the row is valid and still carries expectedDigest.
func (r *RefreshSessionRepository) Rotate(ctx context.Context, accountID ulid.ULID, expectedDigest, newDigest string, at time.Time) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_sessions SET secret_digest = $3, rotated_at = $4
		WHERE account_id = $1 AND valid = TRUE AND secret_digest = $2
	`, accountID.String(), expectedDigest, newDigest, at)
	return affectedOne(result.RowsAffected(), err, "rotate secret", accountID)
}

// SetValid sets the validity flag.
func (r *RefreshSessionRepository) SetValid(ctx context.Context, accountID ulid.ULID, valid bool) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_sessions SET valid = $2 WHERE account_id = $1
	`, accountID.String(), valid)
	return affectedOne(result.RowsAffected(), err, "set valid", accountID)
}

// DeleteByAccount removes the account's session.
func (r *RefreshSessionRepository) DeleteByAccount(ctx context.Context, accountID ulid.ULID) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM refresh_sessions WHERE account_id = $1
	`, accountID.String())
	return affectedOne(result.RowsAffected(), err, "delete session", accountID)
}

func affectedOne(rows int64, err error, operation string, accountID ulid.ULID) error {
	if err != nil {
		return oops.Code("SESSION_UPDATE_FAILED").
			With("operation", operation).
			With("account_id", accountID.String()).
			Wrap(err)
	}
	if rows == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("operation", operation).
			With("account_id", accountID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}
