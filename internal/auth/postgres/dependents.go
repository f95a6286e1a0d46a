// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/cascade"
)

// DependentStore deletes the job, property and application rows owned by an
// account. Run it inside the account deletion transaction.
type DependentStore struct {
	pool Pool
}

var _ cascade.DependentStore = (*DependentStore)(nil)

// NewDependentStore creates a new DependentStore.
func NewDependentStore(pool Pool) *DependentStore {
	return &DependentStore{pool: pool}
}

// DeleteOwnedBy removes the account's session, its applications, the
// applications made against its listings, and the listings themselves.
func (s *DependentStore) DeleteOwnedBy(ctx context.Context, accountID ulid.ULID) (cascade.Removed, error) {
	q := conn(ctx, s.pool)
	id := accountID.String()
	var removed cascade.Removed

	tag, err := q.Exec(ctx, `DELETE FROM refresh_sessions WHERE account_id = $1`, id)
	if err != nil {
		return removed, wrapCascade(err, "delete sessions", id)
	}
	removed.Sessions = tag.RowsAffected()

	tag, err = q.Exec(ctx, `
		DELETE FROM applications
		WHERE account_id = $1
			OR job_id IN (SELECT id FROM jobs WHERE owner_id = $1)
			OR property_id IN (SELECT id FROM properties WHERE owner_id = $1)
	`, id)
	if err != nil {
		return removed, wrapCascade(err, "delete applications", id)
	}
	removed.Applications = tag.RowsAffected()

	tag, err = q.Exec(ctx, `DELETE FROM jobs WHERE owner_id = $1`, id)
	if err != nil {
		return removed, wrapCascade(err, "delete jobs", id)
	}
	removed.Jobs = tag.RowsAffected()

	rows, err := q.Query(ctx, `DELETE FROM properties WHERE owner_id = $1 RETURNING image_key`, id)
	if err != nil {
		return removed, wrapCascade(err, "delete properties", id)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return removed, wrapCascade(err, "scan property image", id)
		}
		removed.Properties++
		if key != "" {
			removed.AssetKeys = append(removed.AssetKeys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return removed, wrapCascade(err, "iterate properties", id)
	}
	return removed, nil
}

func wrapCascade(err error, operation, accountID string) error {
	return oops.Code("DEPENDENTS_DELETE_FAILED").
		With("operation", operation).
		With("account_id", accountID).
		Wrap(err)
}
