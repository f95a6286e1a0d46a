// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/holomush/keyhold/internal/config"
	"github.com/holomush/keyhold/internal/httpapi"
	"github.com/holomush/keyhold/internal/mail"
	"github.com/holomush/keyhold/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// BackendFactory opens the account store.
	// Default: openBackend
	BackendFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error)

	// Sender delivers challenge emails.
	// Default: Postmark when configured, otherwise a logging sender
	Sender mail.Sender

	// APIServerFactory creates the HTTP API server.
	// Default: httpapi.NewServer
	APIServerFactory func(addr string, h *httpapi.Handler) Server

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger, registrars ...observability.Registrar) (Server, error)

	// ListenerFactory creates the gRPC listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// Ready is closed once every server is started. Tests use it to
	// wait for startup.
	Ready chan<- struct{}
}

// Server wraps the lifecycle shared by the API and observability servers.
type Server interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.BackendFactory == nil {
		out.BackendFactory = openBackend
	}
	if out.APIServerFactory == nil {
		out.APIServerFactory = func(addr string, h *httpapi.Handler) Server {
			return httpapi.NewServer(addr, h)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger, registrars ...observability.Registrar) (Server, error) {
			srv, err := observability.NewServer(addr, version, ready, logger, registrars...)
			if err != nil {
				return nil, err
			}
			return srv, nil
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return &out
}
