// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/internal/cascade"
	"github.com/holomush/keyhold/internal/config"
	"github.com/holomush/keyhold/internal/grpcauth"
	"github.com/holomush/keyhold/internal/httpapi"
	"github.com/holomush/keyhold/internal/mail"
	"github.com/holomush/keyhold/internal/observability"
	"github.com/holomush/keyhold/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the account API",
		Long: `Serve the /api/v1 account and session API, the optional gRPC
listener and the metrics and health endpoints until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("http-addr", "127.0.0.1:8080", "API listen address")
	cmd.Flags().String("grpc-addr", "", "gRPC listen address (empty = disabled)")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("session-strategy", config.StrategyRotating, "session strategy (rotating or cookie)")

	return cmd
}

// metricRegistrars lists every package's collectors.
func metricRegistrars() []observability.Registrar {
	return []observability.Registrar{
		func(reg prometheus.Registerer) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = oops.Code("METRICS_REGISTER_FAILED").Errorf("auth metrics: %v", r)
				}
			}()
			auth.RegisterMetrics(reg)
			return nil
		},
		cascade.RegisterMetrics,
		mail.RegisterMetrics,
		httpapi.RegisterMetrics,
	}
}

// runServeWithDeps starts every server with injectable dependencies and
// blocks until a signal, a server failure or ctx cancellation.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	logger.Info("starting keyhold", "config", cfg)

	backend, err := deps.BackendFactory(ctx, cfg, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("driver", cfg.Database.Driver).Wrap(err)
	}
	defer backend.Close()

	services, err := buildServices(cfg, backend, deps.Sender, logger)
	if err != nil {
		return err
	}

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	handler, err := httpapi.New(httpapi.Deps{
		Accounts:        services.Accounts,
		Sessions:        services.Sessions,
		Guard:           services.Guard,
		CookieTransport: cfg.Session.Strategy == config.StrategyCookie,
		CookieTTL:       cfg.Token.CookieTTL,
		InsecureCookies: cfg.HTTP.InsecureCookies,
		TrustedProxies:  proxies,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stoppers []func(context.Context) error
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		for i := len(stoppers) - 1; i >= 0; i-- {
			if err := stoppers[i](shutdownCtx); err != nil {
				errutil.LogErrorContext(shutdownCtx, logger, slog.LevelWarn, "error during shutdown", err)
			}
		}
		logger.Info("shutdown complete")
	}()

	if cfg.Metrics.Addr != "" {
		obs, err := deps.ObservabilityServerFactory(cfg.Metrics.Addr, backend.Ping, logger, metricRegistrars()...)
		if err != nil {
			return err
		}
		obsErrCh, err := obs.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		stoppers = append(stoppers, obs.Stop)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
	}

	api := deps.APIServerFactory(cfg.HTTP.Addr, handler)
	apiErrCh, err := api.Start()
	if err != nil {
		return err
	}
	stoppers = append(stoppers, api.Stop)
	go monitorServerErrors(ctx, cancel, apiErrCh, "api", logger)

	if cfg.GRPC.Addr != "" {
		stop, err := startGRPC(ctx, cancel, cfg.GRPC.Addr, services.Sessions, deps.ListenerFactory, logger)
		if err != nil {
			return err
		}
		stoppers = append(stoppers, stop)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("keyhold started")
	logger.Info("keyhold ready",
		"http_addr", api.Addr(),
		"strategy", cfg.Session.Strategy,
		"driver", cfg.Database.Driver,
	)
	if deps.Ready != nil {
		close(deps.Ready)
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}
	return nil
}

// startGRPC serves the standard health service behind the credential
// interceptors. Health checks stay unauthenticated.
func startGRPC(ctx context.Context, cancel context.CancelFunc, addr string, authn grpcauth.Authenticator,
	listen func(network, address string) (net.Listener, error), logger *slog.Logger,
) (func(context.Context) error, error) {
	listener, err := listen("tcp", addr)
	if err != nil {
		return nil, oops.Code("GRPC_LISTEN_FAILED").With("addr", addr).Wrap(err)
	}

	public := grpcauth.WithPublicMethods(
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcauth.UnaryServerInterceptor(authn, public, grpcauth.WithLogger(logger))),
		grpc.ChainStreamInterceptor(grpcauth.StreamServerInterceptor(authn, public, grpcauth.WithLogger(logger))),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			errCh <- serveErr
		}
	}()
	go monitorServerErrors(ctx, cancel, errCh, "grpc", logger)
	logger.Info("grpc server listening", "addr", listener.Addr().String())

	return func(context.Context) error {
		healthSrv.Shutdown()
		srv.GracefulStop()
		return nil
	}, nil
}

// monitorServerErrors cancels ctx when a server reports a failure.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
