// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package grpcauth authenticates gRPC calls with keyhold credentials.
package grpcauth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/holomush/keyhold/internal/access"
	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/pkg/errutil"
)

// MetadataKey is the incoming metadata key carrying the credential.
const MetadataKey = "authorization"

// Authenticator resolves a credential to a principal.
// auth.SessionService satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (auth.Principal, error)
}

// Option configures the interceptors.
type Option func(*options)

type options struct {
	public map[string]struct{}
	logger *slog.Logger
}

// WithPublicMethods lists full method names that skip authentication.
func WithPublicMethods(methods ...string) Option {
	return func(o *options) {
		for _, m := range methods {
			o.public[m] = struct{}{}
		}
	}
}

// WithLogger sets the logger used for rejected calls.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{public: make(map[string]struct{}), logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UnaryServerInterceptor authenticates unary calls and stores the principal
// in the handler context.
func UnaryServerInterceptor(authn Authenticator, opts ...Option) grpc.UnaryServerInterceptor {
	o := buildOptions(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := o.public[info.FullMethod]; ok {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, authn, info.FullMethod, o.logger)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor authenticates streaming calls.
func StreamServerInterceptor(authn Authenticator, opts ...Option) grpc.StreamServerInterceptor {
	o := buildOptions(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if _, ok := o.public[info.FullMethod]; ok {
			return handler(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), authn, info.FullMethod, o.logger)
		if err != nil {
			return err
		}
		return handler(srv, &principalStream{ServerStream: ss, ctx: ctx})
	}
}

type principalStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *principalStream) Context() context.Context {
	return s.ctx
}

func authenticate(ctx context.Context, authn Authenticator, method string, logger *slog.Logger) (context.Context, error) {
	credential := credentialFrom(ctx)
	if credential == "" {
		return nil, status.Error(codes.Unauthenticated, "missing credential")
	}
	principal, err := authn.Authenticate(ctx, credential)
	if err != nil {
		if auth.KindOf(err) == auth.KindInternal {
			errutil.LogErrorContext(ctx, logger, slog.LevelError, "grpc authentication failed", err)
			return nil, StatusFromError(err)
		}
		logger.DebugContext(ctx, "grpc credential rejected", "method", method)
		return nil, status.Error(codes.Unauthenticated, auth.PublicMessage(auth.ErrAuthenticationInvalid()))
	}
	return access.WithPrincipal(ctx, principal), nil
}

func credentialFrom(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(MetadataKey)
	if len(values) == 0 {
		return ""
	}
	scheme, token, found := strings.Cut(values[0], " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// StatusFromError converts an auth error to a gRPC status carrying its
// public message.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(auth.KindOf(err)), auth.PublicMessage(err))
}

func codeOf(k auth.Kind) codes.Code {
	switch k {
	case auth.KindBadRequest:
		return codes.InvalidArgument
	case auth.KindUnauthenticated:
		return codes.Unauthenticated
	case auth.KindUnauthorized:
		return codes.PermissionDenied
	case auth.KindNotFound:
		return codes.NotFound
	case auth.KindConflict:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}
