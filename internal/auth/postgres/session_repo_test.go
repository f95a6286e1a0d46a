// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/internal/auth/postgres"
	"github.com/holomush/keyhold/pkg/errutil"
)

var sessionCols = []string{"id", "account_id", "secret_digest", "valid", "user_agent", "ip_address", "created_at", "rotated_at"}

func TestRefreshSessionRepository_Create(t *testing.T) {
	accountID := ulid.Make()
	s, err := auth.NewRefreshSession(accountID, "digest", auth.ClientInfo{UserAgent: "curl/8", IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	t.Run("inserts", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO refresh_sessions`).
			WithArgs(s.ID.String(), accountID.String(), "digest", true, "curl/8", "10.0.0.1", s.CreatedAt, s.RotatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		require.NoError(t, postgres.NewRefreshSessionRepository(mock).Create(context.Background(), s))
	})

	t.Run("second row for account is a conflict", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO refresh_sessions`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
		err := postgres.NewRefreshSessionRepository(mock).Create(context.Background(), s)
		assert.Equal(t, auth.KindConflict, auth.KindOf(err))
	})
}

func TestRefreshSessionRepository_GetByAccount(t *testing.T) {
	accountID := ulid.Make()
	id := ulid.Make()
	now := time.Now().UTC()

	t.Run("scans", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .* FROM refresh_sessions WHERE account_id = \$1`).
			WithArgs(accountID.String()).
			WillReturnRows(pgxmock.NewRows(sessionCols).
				AddRow(id.String(), accountID.String(), "digest", false, "ua", "ip", now, now))

		s, err := postgres.NewRefreshSessionRepository(mock).GetByAccount(context.Background(), accountID)
		require.NoError(t, err)
		assert.Equal(t, id, s.ID)
		assert.Equal(t, accountID, s.AccountID)
		assert.False(t, s.Valid)
	})

	t.Run("missing", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM refresh_sessions`).WillReturnRows(pgxmock.NewRows(sessionCols))

		_, err := postgres.NewRefreshSessionRepository(mock).GetByAccount(context.Background(), accountID)
		errutil.AssertErrorCode(t, err, "SESSION_NOT_FOUND")
		assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
	})
}

func TestRefreshSessionRepository_Rotate(t *testing.T) {
	accountID := ulid.Make()
	at := time.Now()

	tests := []struct {
		name     string
		affected int64
		execErr  error
		kind     auth.Kind
		wantErr  bool
	}{
		{name: "current digest rotates", affected: 1},
		{name: "stale digest is not found", affected: 0, kind: auth.KindNotFound, wantErr: true},
		{name: "store failure is internal", execErr: errors.New("broken pipe"), kind: auth.KindInternal, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			exp := mock.ExpectExec(`UPDATE refresh_sessions SET secret_digest = \$3`).
				WithArgs(accountID.String(), "old", "new", at)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))
			}

			err := postgres.NewRefreshSessionRepository(mock).Rotate(context.Background(), accountID, "old", "new", at)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, tt.kind, auth.KindOf(err))
		})
	}
}

func TestRefreshSessionRepository_SetValidAndDelete(t *testing.T) {
	accountID := ulid.Make()
	mock := newMock(t)
	repo := postgres.NewRefreshSessionRepository(mock)

	mock.ExpectExec(`UPDATE refresh_sessions SET valid`).WithArgs(accountID.String(), false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM refresh_sessions`).WithArgs(accountID.String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM refresh_sessions`).WithArgs(accountID.String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, repo.SetValid(context.Background(), accountID, false))
	require.NoError(t, repo.DeleteByAccount(context.Background(), accountID))
	err := repo.DeleteByAccount(context.Background(), accountID)
	assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
}
