// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package cascade removes everything that belongs to an account when the
// account is deleted: stored dependents first, then external assets.
package cascade

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/auth"
)

// Removed reports what DeleteOwnedBy deleted.
type Removed struct {
	Sessions     int64
	Applications int64
	Jobs         int64
	Properties   int64
	// AssetKeys are external assets referenced by the deleted rows.
	AssetKeys []string
}

// DependentStore deletes the stored records owned by an account.
type DependentStore interface {
	DeleteOwnedBy(ctx context.Context, accountID ulid.ULID) (Removed, error)
}

// AssetRemover deletes one external asset by key.
type AssetRemover interface {
	Remove(ctx context.Context, key string) error
}

// Deletions counts cascade runs by result.
var Deletions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keyhold_cascade_deletions_total",
		Help: "Account deletion cascades by result.",
	},
	[]string{"result"},
)

// RegisterMetrics registers the cascade metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	if err := reg.Register(Deletions); err != nil {
		return oops.Code("METRICS_REGISTER_FAILED").With("metric", "cascade_deletions").Wrap(err)
	}
	return nil
}

// Notifier implements auth.CascadeNotifier. Any failure is returned so the
// caller aborts the account deletion.
type Notifier struct {
	store  DependentStore
	assets AssetRemover
	logger *slog.Logger
}

var _ auth.CascadeNotifier = (*Notifier)(nil)

// NewNotifier creates a Notifier.
func NewNotifier(store DependentStore, assets AssetRemover, logger *slog.Logger) (*Notifier, error) {
	if store == nil {
		return nil, oops.Code("CASCADE_INVALID_CONFIG").Errorf("dependent store is required")
	}
	if assets == nil {
		return nil, oops.Code("CASCADE_INVALID_CONFIG").Errorf("asset remover is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{store: store, assets: assets, logger: logger}, nil
}

// OnAccountDeleted deletes the account's dependents and then its assets and
// the assets of everything it owned.
func (n *Notifier) OnAccountDeleted(ctx context.Context, account *auth.Account) (err error) {
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		Deletions.WithLabelValues(result).Inc()
	}()

	removed, err := n.store.DeleteOwnedBy(ctx, account.ID)
	if err != nil {
		return oops.Code("CASCADE_DEPENDENTS_FAILED").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	keys := append(removed.AssetKeys, account.AssetKeys()...)
	for _, key := range keys {
		if err := n.assets.Remove(ctx, key); err != nil {
			n.logger.ErrorContext(ctx, "asset removal failed",
				"account_id", account.ID.String(),
				"asset_key", key,
				"error", err)
			return oops.Code("CASCADE_ASSET_FAILED").
				With("account_id", account.ID.String()).
				With("asset_key", key).
				Wrap(err)
		}
	}

	n.logger.InfoContext(ctx, "account dependents removed",
		"account_id", account.ID.String(),
		"sessions", removed.Sessions,
		"applications", removed.Applications,
		"jobs", removed.Jobs,
		"properties", removed.Properties,
		"assets", len(keys))
	return nil
}
