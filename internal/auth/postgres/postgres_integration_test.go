// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/internal/auth/postgres"
	"github.com/holomush/keyhold/internal/store"
)

// testPool is the shared database pool for integration tests.
var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("keyhold_test"),
		tcpostgres.WithUsername("keyhold"),
		tcpostgres.WithPassword("keyhold"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		panic("failed to start postgres container: " + err.Error())
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to get connection string: " + err.Error())
	}

	migrator, err := store.NewMigrator(connStr)
	if err == nil {
		err = migrator.Up()
		_ = migrator.Close()
	}
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to run migrations: " + err.Error())
	}

	testPool, err = store.OpenPool(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to create pool: " + err.Error())
	}

	code := m.Run()

	testPool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func createAccount(ctx context.Context, t *testing.T, email string) *auth.Account {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	a := &auth.Account{
		ID:                 ulid.Make(),
		Email:              email,
		FirstName:          "Ann",
		Role:               auth.RoleLandlord,
		Status:             auth.StatusActive,
		PasswordHash:       "hash",
		VerificationDigest: auth.Digest("verify-" + email),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, postgres.NewAccountRepository(testPool).Create(ctx, a))
	t.Cleanup(func() {
		_, _ = testPool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, a.ID.String())
	})
	return a
}

func TestAccountRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		a := createAccount(ctx, t, "dup@x.com")
		twin := *a
		twin.ID = ulid.Make()
		err := repo.Create(ctx, &twin)
		assert.Equal(t, auth.KindConflict, auth.KindOf(err))
	})

	t.Run("verification applies exactly once", func(t *testing.T) {
		a := createAccount(ctx, t, "verify@x.com")
		now := time.Now()

		assert.Equal(t, auth.KindNotFound, auth.KindOf(repo.MarkVerified(ctx, a.ID, auth.Digest("wrong"), now)))
		require.NoError(t, repo.MarkVerified(ctx, a.ID, a.VerificationDigest, now))
		assert.Equal(t, auth.KindNotFound, auth.KindOf(repo.MarkVerified(ctx, a.ID, a.VerificationDigest, now)))

		stored, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, stored.Verified)
		assert.NotNil(t, stored.VerifiedAt)
		assert.Equal(t, a.VerificationDigest, stored.VerificationDigest)
	})

	t.Run("reset challenge lifecycle", func(t *testing.T) {
		a := createAccount(ctx, t, "reset@x.com")
		now := time.Now()
		expires := now.Add(10 * time.Minute)

		require.NoError(t, repo.BeginReset(ctx, a.ID, "d1", expires, now))
		assert.Equal(t, auth.KindConflict, auth.KindOf(repo.BeginReset(ctx, a.ID, "d2", expires, now)))

		later := expires.Add(time.Second)
		require.NoError(t, repo.BeginReset(ctx, a.ID, "d3", later.Add(10*time.Minute), later))

		assert.Equal(t, auth.KindNotFound, auth.KindOf(repo.CompleteReset(ctx, a.ID, "d1", "new", later)))
		require.NoError(t, repo.CompleteReset(ctx, a.ID, "d3", "new", later))
		assert.Equal(t, auth.KindNotFound, auth.KindOf(repo.CompleteReset(ctx, a.ID, "d3", "newer", later)))

		stored, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "new", stored.PasswordHash)
		assert.Empty(t, stored.ResetDigest)
	})

	t.Run("expired reset is cleared only while unreplaced", func(t *testing.T) {
		a := createAccount(ctx, t, "clear@x.com")
		now := time.Now().UTC().Truncate(time.Microsecond)
		expires := now.Add(10 * time.Minute)
		require.NoError(t, repo.BeginReset(ctx, a.ID, "d1", expires, now))

		assert.Equal(t, auth.KindNotFound, auth.KindOf(repo.ClearExpiredReset(ctx, a.ID, "d1", now)))

		later := expires.Add(time.Second)
		require.NoError(t, repo.BeginReset(ctx, a.ID, "d2", later.Add(10*time.Minute), later))
		assert.Equal(t, auth.KindNotFound, auth.KindOf(repo.ClearExpiredReset(ctx, a.ID, "d1", later)))

		stored, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "d2", stored.ResetDigest)
	})

	t.Run("concurrent verification succeeds once", func(t *testing.T) {
		a := createAccount(ctx, t, "race@x.com")
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if repo.MarkVerified(ctx, a.ID, a.VerificationDigest, time.Now()) == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
	})
}

func TestRefreshSessionRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewRefreshSessionRepository(testPool)
	a := createAccount(ctx, t, "session@x.com")

	s, err := auth.NewRefreshSession(a.ID, "d1", auth.ClientInfo{UserAgent: "ua", IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, s))

	second, err := auth.NewRefreshSession(a.ID, "d2", auth.ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, auth.KindConflict, auth.KindOf(repo.Create(ctx, second)))

	require.NoError(t, repo.Rotate(ctx, a.ID, "d1", "d2", time.Now()))
	assert.Equal(t, auth.KindNotFound, auth.KindOf(repo.Rotate(ctx, a.ID, "d1", "d3", time.Now())))

	require.NoError(t, repo.SetValid(ctx, a.ID, false))
	assert.Equal(t, auth.KindNotFound, auth.KindOf(repo.Rotate(ctx, a.ID, "d2", "d3", time.Now())))

	require.NoError(t, postgres.NewAccountRepository(testPool).Delete(ctx, a.ID))
	_, err = repo.GetByAccount(ctx, a.ID)
	assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
}

func TestDependentStore_Integration(t *testing.T) {
	ctx := context.Background()
	landlord := createAccount(ctx, t, "landlord@x.com")
	tenant := createAccount(ctx, t, "tenant@x.com")

	propID := ulid.Make().String()
	_, err := testPool.Exec(ctx, `INSERT INTO properties (id, owner_id, title, image_key) VALUES ($1, $2, 'Flat', 'props/flat.jpg')`,
		propID, landlord.ID.String())
	require.NoError(t, err)
	_, err = testPool.Exec(ctx, `INSERT INTO applications (id, account_id, property_id) VALUES ($1, $2, $3)`,
		ulid.Make().String(), tenant.ID.String(), propID)
	require.NoError(t, err)

	tx := postgres.NewTransactor(testPool)
	deps := postgres.NewDependentStore(testPool)
	err = tx.InTransaction(ctx, func(ctx context.Context) error {
		removed, err := deps.DeleteOwnedBy(ctx, landlord.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), removed.Applications)
		assert.Equal(t, []string{"props/flat.jpg"}, removed.AssetKeys)
		return postgres.NewAccountRepository(testPool).Delete(ctx, landlord.ID)
	})
	require.NoError(t, err)

	var remaining int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT COUNT(*) FROM applications WHERE account_id = $1`, tenant.ID.String()).Scan(&remaining))
	assert.Zero(t, remaining)
}
