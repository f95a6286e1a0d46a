// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/holomush/keyhold/internal/config"
	"github.com/holomush/keyhold/internal/httpapi"
	"github.com/holomush/keyhold/internal/mail"
	"github.com/holomush/keyhold/internal/observability"
	"github.com/holomush/keyhold/pkg/errutil"
)

type serveHarness struct {
	outbox   *mail.Outbox
	deps     *ServeDeps
	ready    chan struct{}
	mu       sync.Mutex
	api      Server
	obs      Server
	grpcAddr string
}

func newServeHarness() *serveHarness {
	h := &serveHarness{outbox: &mail.Outbox{}, ready: make(chan struct{})}
	h.deps = &ServeDeps{
		Sender: h.outbox,
		APIServerFactory: func(addr string, handler *httpapi.Handler) Server {
			srv := httpapi.NewServer(addr, handler)
			h.mu.Lock()
			h.api = srv
			h.mu.Unlock()
			return srv
		},
		ObservabilityServerFactory: func(addr string, ready observability.ReadinessChecker, logger *slog.Logger, registrars ...observability.Registrar) (Server, error) {
			srv, err := observability.NewServer(addr, "test", ready, logger, registrars...)
			if err != nil {
				return nil, err
			}
			h.mu.Lock()
			h.obs = srv
			h.mu.Unlock()
			return srv, nil
		},
		ListenerFactory: func(network, address string) (net.Listener, error) {
			l, err := net.Listen(network, address)
			if err == nil {
				h.mu.Lock()
				h.grpcAddr = l.Addr().String()
				h.mu.Unlock()
			}
			return l, err
		},
		Ready: h.ready,
	}
	return h
}

func serveConfig(t *testing.T) *config.Config {
	t.Helper()
	isolateEnv(t)
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Database.Driver = config.DriverMemory
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.InsecureCookies = true
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.Challenge.Mode = "code"
	return cfg
}

// start runs serve in the background and waits for startup.
func (h *serveHarness) start(t *testing.T, cfg *config.Config) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	cmd := NewServeCmd()
	cmd.SetOut(io.Discard)

	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(ctx, cfg, cmd, h.deps) }()

	select {
	case <-h.ready:
	case err := <-done:
		stop()
		t.Fatalf("serve exited before ready: %v", err)
	case <-time.After(10 * time.Second):
		stop()
		t.Fatal("serve did not become ready")
	}

	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			return errors.New("serve did not stop")
		}
	}
}

func TestServe_EndToEnd(t *testing.T) {
	h := newServeHarness()
	stop := h.start(t, serveConfig(t))

	base := "http://" + h.api.Addr()
	body := `{"email":"new@x.com","password":"Str0ng!Pw","firstName":"Nia","role":"user"}`
	resp, err := http.Post(base+"/api/v1/auth/register", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	msg, ok := h.outbox.Last("new@x.com")
	require.True(t, ok, "verification mail was not sent")
	assert.Contains(t, msg.HTML, "code is")

	resp, err = http.Get("http://" + h.obs.Addr() + "/healthz/readiness")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + h.obs.Addr() + "/metrics")
	require.NoError(t, err)
	metrics, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "keyhold_build_info")

	require.NoError(t, stop())

	_, err = http.Get(base + "/api/v1/users/me")
	assert.Error(t, err, "api server should be stopped")
}

func TestServe_GRPCHealthIsPublic(t *testing.T) {
	h := newServeHarness()
	stop := h.start(t, serveConfig(t))
	defer func() { require.NoError(t, stop()) }()

	conn, err := grpc.NewClient("passthrough:///"+h.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, res.GetStatus())
}

func TestServe_CookieStrategyHasNoRefreshRoute(t *testing.T) {
	h := newServeHarness()
	cfg := serveConfig(t)
	cfg.Session.Strategy = config.StrategyCookie
	cfg.Metrics.Addr = ""
	cfg.GRPC.Addr = ""
	stop := h.start(t, cfg)
	defer func() { require.NoError(t, stop()) }()

	resp, err := http.Post("http://"+h.api.Addr()+"/api/v1/auth/refresh", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Nil(t, h.obs, "observability server should be disabled")
}

func TestServe_InvalidConfig(t *testing.T) {
	cfg := serveConfig(t)
	cfg.Token.SigningKey = "short"

	err := runServeWithDeps(context.Background(), cfg, NewServeCmd(), newServeHarness().deps)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestServe_BackendFailure(t *testing.T) {
	cfg := serveConfig(t)
	deps := newServeHarness().deps
	deps.BackendFactory = func(context.Context, *config.Config, *slog.Logger) (*Backend, error) {
		return nil, errors.New("connection refused")
	}

	err := runServeWithDeps(context.Background(), cfg, NewServeCmd(), deps)
	errutil.AssertErrorCode(t, err, "DB_CONNECT_FAILED")
}

func TestServe_GRPCListenFailure(t *testing.T) {
	cfg := serveConfig(t)
	deps := newServeHarness().deps
	deps.ListenerFactory = func(string, string) (net.Listener, error) {
		return nil, errors.New("address in use")
	}

	err := runServeWithDeps(context.Background(), cfg, NewServeCmd(), deps)
	errutil.AssertErrorCode(t, err, "GRPC_LISTEN_FAILED")
}

func TestServeCommand_Flags(t *testing.T) {
	cmd := NewServeCmd()
	tests := []struct {
		name string
		def  string
	}{
		{"http-addr", "127.0.0.1:8080"},
		{"grpc-addr", ""},
		{"metrics-addr", "127.0.0.1:9100"},
		{"session-strategy", config.StrategyRotating},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := cmd.Flags().Lookup(tt.name)
			require.NotNil(t, f)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}

func TestMonitorServerErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))

	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- errors.New("listener died")

		monitorServerErrors(ctx, cancel, errCh, "api", logger)
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("closed channel does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)

		monitorServerErrors(ctx, cancel, errCh, "api", logger)
		assert.NoError(t, ctx.Err())
	})

	t.Run("nil error does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- nil

		monitorServerErrors(ctx, cancel, errCh, "api", logger)
		assert.NoError(t, ctx.Err())
	})

	t.Run("returns when context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		done := make(chan struct{})
		go func() {
			monitorServerErrors(ctx, cancel, make(chan error), "api", logger)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("monitor did not return")
		}
	})
}
