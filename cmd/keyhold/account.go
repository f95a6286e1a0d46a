// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/internal/config"
)

type backendFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error)

// NewAccountCmd creates the account administration subcommand.
func NewAccountCmd() *cobra.Command {
	return newAccountCmd(openBackend)
}

func newAccountCmd(open backendFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Administer individual accounts",
	}

	cmd.AddCommand(
		accountAction(open, "show ID", "Print an account's status",
			func(ctx context.Context, cmd *cobra.Command, svc *Services, id ulid.ULID) error {
				a, err := svc.Accounts.Get(ctx, id)
				if err != nil {
					return err
				}
				cmd.Printf("ID:       %s\n", a.ID)
				cmd.Printf("Email:    %s\n", a.Email)
				cmd.Printf("Name:     %s\n", a.DisplayName())
				cmd.Printf("Role:     %s\n", a.Role)
				cmd.Printf("Status:   %s\n", a.Status)
				cmd.Printf("Verified: %t\n", a.Verified)
				return nil
			}),
		accountAction(open, "delete ID", "Delete an account and everything it owns",
			func(ctx context.Context, cmd *cobra.Command, svc *Services, id ulid.ULID) error {
				if err := svc.Accounts.Delete(ctx, id); err != nil {
					return err
				}
				cmd.Println("Account deleted")
				return nil
			}),
		accountAction(open, "deactivate ID", "Mark an account inactive",
			func(ctx context.Context, cmd *cobra.Command, svc *Services, id ulid.ULID) error {
				if err := svc.Accounts.SetStatus(ctx, id, auth.StatusInactive); err != nil {
					return err
				}
				cmd.Println("Account deactivated")
				return nil
			}),
		accountAction(open, "activate ID", "Mark an account active",
			func(ctx context.Context, cmd *cobra.Command, svc *Services, id ulid.ULID) error {
				if err := svc.Accounts.SetStatus(ctx, id, auth.StatusActive); err != nil {
					return err
				}
				cmd.Println("Account activated")
				return nil
			}),
		accountAction(open, "revoke ID", "Invalidate an account's refresh session",
			func(ctx context.Context, cmd *cobra.Command, svc *Services, id ulid.ULID) error {
				rs, err := rotatingSessions(svc)
				if err != nil {
					return err
				}
				if err := rs.Revoke(ctx, id); err != nil {
					return err
				}
				cmd.Println("Refresh session revoked")
				return nil
			}),
		accountAction(open, "reinstate ID", "Re-validate an account's refresh session",
			func(ctx context.Context, cmd *cobra.Command, svc *Services, id ulid.ULID) error {
				rs, err := rotatingSessions(svc)
				if err != nil {
					return err
				}
				if err := rs.Reinstate(ctx, id); err != nil {
					return err
				}
				cmd.Println("Refresh session reinstated")
				return nil
			}),
	)
	return cmd
}

type accountFunc func(ctx context.Context, cmd *cobra.Command, svc *Services, id ulid.ULID) error

// accountAction builds a subcommand that opens the store, wires the
// services and runs fn against the account named by the only argument.
func accountAction(open backendFactory, use, short string, fn accountFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ulid.Parse(args[0])
			if err != nil {
				return oops.Code("INVALID_ACCOUNT_ID").With("id", args[0]).Wrap(err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := setupLogging(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			backend, err := open(ctx, cfg, logger)
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").With("driver", cfg.Database.Driver).Wrap(err)
			}
			defer backend.Close()

			svc, err := buildServices(cfg, backend, nil, logger)
			if err != nil {
				return err
			}
			return fn(ctx, cmd, svc, id)
		},
	}
}

func rotatingSessions(svc *Services) (*auth.RotatingSessions, error) {
	rs, ok := svc.Sessions.(*auth.RotatingSessions)
	if !ok {
		return nil, oops.Code("UNSUPPORTED_STRATEGY").
			Errorf("refresh sessions exist only with the %q session strategy", config.StrategyRotating)
	}
	return rs, nil
}
