// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/internal/auth/memstore"
	"github.com/holomush/keyhold/internal/auth/mongodb"
	"github.com/holomush/keyhold/internal/auth/postgres"
	"github.com/holomush/keyhold/internal/cascade"
	"github.com/holomush/keyhold/internal/config"
	"github.com/holomush/keyhold/internal/store"
)

// Backend is an opened account store.
type Backend struct {
	Accounts   auth.AccountRepository
	Sessions   auth.RefreshSessionRepository
	Dependents cascade.DependentStore
	Transactor auth.Transactor
	Ping       func(ctx context.Context) error
	Close      func()
}

// openBackend connects to the store the config selects.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := store.OpenPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Accounts:   postgres.NewAccountRepository(pool),
			Sessions:   postgres.NewRefreshSessionRepository(pool),
			Dependents: postgres.NewDependentStore(pool),
			Transactor: postgres.NewTransactor(pool),
			Ping:       pool.Ping,
			Close:      pool.Close,
		}, nil

	case config.DriverMongo:
		db, err := mongodb.Connect(ctx, cfg.Database.URL, cfg.Database.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			_ = db.Client().Disconnect(ctx) //nolint:errcheck // index error takes precedence
			return nil, err
		}
		return &Backend{
			Accounts:   mongodb.NewAccountRepository(db),
			Sessions:   mongodb.NewRefreshSessionRepository(db),
			Dependents: mongodb.NewDependentStore(db),
			Transactor: mongodb.NewTransactor(db),
			Ping: func(ctx context.Context) error {
				return db.Client().Ping(ctx, nil)
			},
			Close: func() {
				if err := db.Client().Disconnect(context.Background()); err != nil {
					logger.Warn("error disconnecting from mongodb", "error", err)
				}
			},
		}, nil

	case config.DriverMemory:
		logger.Warn("using the in-memory store; accounts are lost on exit")
		return memoryBackend(memstore.New()), nil

	default:
		return nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Database.Driver).Errorf("unknown database driver")
	}
}

func memoryBackend(s *memstore.Store) *Backend {
	return &Backend{
		Accounts:   s.Accounts(),
		Sessions:   s.Sessions(),
		Dependents: s.Dependents(),
		Transactor: s,
		Ping:       s.Ping,
		Close:      func() {},
	}
}
