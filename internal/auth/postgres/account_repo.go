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

const accountColumns = `id, email, first_name, last_name, contact_no, company_name, role, password_hash, status,
	verified, verified_at, verification_digest, verification_expires_at, reset_digest, reset_expires_at,
	profile_image_key, resume_key, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool Pool
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, a *auth.Account) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		a.ID.String(), a.Email, a.FirstName, a.LastName, a.ContactNo, a.CompanyName, string(a.Role),
		a.PasswordHash, string(a.Status),
		a.Verified, a.VerifiedAt, a.VerificationDigest, a.VerificationExpiresAt, a.ResetDigest, a.ResetExpiresAt,
		a.ProfileImageKey, a.ResumeKey, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.With("email", a.Email).Wrap(auth.NewConflict("ACCOUNT_EMAIL_TAKEN", "Email already exists"))
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", a.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by id").
			With("account_id", id.String()).
			Wrap(err)
	}
	return a, nil
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return a, nil
}

// MarkVerified flips an unverified account whose digest matches. The
// redeemed digest stays on the row; verified = TRUE makes it unusable.
func (r *AccountRepository) MarkVerified(ctx context.Context, id ulid.ULID, digest string, now time.Time) error {
	return r.update(ctx, "mark verified", id, `
		UPDATE accounts
		SET verified = TRUE, verified_at = $3, verification_expires_at = NULL, updated_at = $3
		WHERE id = $1 AND verified = FALSE AND verification_digest <> '' AND verification_digest = $2
			AND (verification_expires_at IS NULL OR verification_expires_at > $3)
	`, id.String(), digest, now)
}

// BeginReset stores a reset challenge unless an unexpired one is pending.
func (r *AccountRepository) BeginReset(ctx context.Context, id ulid.ULID, digest string, expiresAt, now time.Time) error {
	q := conn(ctx, r.pool)
	result, err := q.Exec(ctx, `
		UPDATE accounts
		SET reset_digest = $2, reset_expires_at = $3, updated_at = $4
		WHERE id = $1 AND (reset_digest = '' OR reset_expires_at IS NULL OR reset_expires_at <= $4)
	`, id.String(), digest, expiresAt, now)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "begin reset").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id.String()).Scan(&exists); err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "classify begin reset").
			With("account_id", id.String()).
			Wrap(err)
	}
	if exists {
		return oops.With("account_id", id.String()).
			Wrap(auth.NewConflict("RESET_ALREADY_PENDING", "Password reset already requested"))
	}
	return oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
}

// CompleteReset replaces the password hash if the reset digest matches and is unexpired.
func (r *AccountRepository) CompleteReset(ctx context.Context, id ulid.ULID, digest, passwordHash string, now time.Time) error {
	return r.update(ctx, "complete reset", id, `
		UPDATE accounts
		SET password_hash = $3, reset_digest = '', reset_expires_at = NULL, updated_at = $4
		WHERE id = $1 AND reset_digest <> '' AND reset_digest = $2 AND reset_expires_at > $4
	`, id.String(), digest, passwordHash, now)
}

// ClearExpiredReset removes an expired reset challenge that still carries digest.
func (r *AccountRepository) ClearExpiredReset(ctx context.Context, id ulid.ULID, digest string, now time.Time) error {
	if digest == "" {
		return notFound("clear expired reset", id)
	}
	return r.update(ctx, "clear expired reset", id, `
		UPDATE accounts SET reset_digest = '', reset_expires_at = NULL
		WHERE id = $1 AND reset_digest = $2 AND (reset_expires_at IS NULL OR reset_expires_at <= $3)
	`, id.String(), digest, now)
}

// UpdatePasswordHash replaces the stored password hash.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(ctx, "update password hash", id, `
		UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id.String(), passwordHash, time.Now())
}

// UpdateProfile writes the mutable profile fields.
func (r *AccountRepository) UpdateProfile(ctx context.Context, a *auth.Account) error {
	return r.update(ctx, "update profile", a.ID, `
		UPDATE accounts
		SET first_name = $2, last_name = $3, contact_no = $4, company_name = $5, updated_at = $6
		WHERE id = $1
	`, a.ID.String(), a.FirstName, a.LastName, a.ContactNo, a.CompanyName, a.UpdatedAt)
}

// SetStatus changes the active/inactive flag.
func (r *AccountRepository) SetStatus(ctx context.Context, id ulid.ULID, status auth.Status) error {
	return r.update(ctx, "set status", id, `
		UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1
	`, id.String(), string(status), time.Now())
}

// Delete removes an account. Its refresh session goes with it.
func (r *AccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return r.update(ctx, "delete account", id, `DELETE FROM accounts WHERE id = $1`, id.String())
}

// update runs a single-row conditional statement. Zero affected rows means
// the row is missing or its precondition failed; both surface as ErrNotFound.
func (r *AccountRepository) update(ctx context.Context, operation string, id ulid.ULID, sql string, args ...any) error {
	result, err := conn(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", operation).
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("operation", operation).
			With("account_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanAccount scans a single row. Callers handle pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a      auth.Account
		idStr  string
		role   string
		status string
	)
	err := row.Scan(
		&idStr, &a.Email, &a.FirstName, &a.LastName, &a.ContactNo, &a.CompanyName, &role, &a.PasswordHash, &status,
		&a.Verified, &a.VerifiedAt, &a.VerificationDigest, &a.VerificationExpiresAt, &a.ResetDigest, &a.ResetExpiresAt,
		&a.ProfileImageKey, &a.ResumeKey, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").With("operation", "scan account").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", idStr).Wrap(err)
	}
	a.ID = id
	a.Role = auth.Role(role)
	a.Status = auth.Status(status)
	return &a, nil
}

func notFound(operation string, id ulid.ULID) error {
	return oops.Code("ACCOUNT_NOT_FOUND").
		With("operation", operation).
		With("account_id", id.String()).
		Wrap(auth.ErrNotFound)
}
