// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/access"
	"github.com/holomush/keyhold/internal/assets"
	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/internal/cascade"
	"github.com/holomush/keyhold/internal/config"
	"github.com/holomush/keyhold/internal/mail"
)

// Services is the wired domain graph.
type Services struct {
	Accounts *auth.AccountService
	Sessions auth.SessionService
	Guard    *access.Guard
}

// buildServices wires the account lifecycle on top of an opened backend.
// sender may be nil to use the configured mail transport.
func buildServices(cfg *config.Config, b *Backend, sender mail.Sender, logger *slog.Logger) (*Services, error) {
	roles, ok := auth.RoleSetByName(cfg.Roles.Variant)
	if !ok {
		return nil, oops.Code("CONFIG_INVALID").With("variant", cfg.Roles.Variant).Errorf("unknown role variant")
	}

	hasher, err := newHasher(cfg.Hasher)
	if err != nil {
		return nil, err
	}

	mode := auth.ChallengeMode(cfg.Challenge.Mode)
	challengeOpts := []auth.ChallengeOption{auth.WithResetTTL(cfg.Challenge.ResetTTL)}
	if cfg.Challenge.TokenBytes > 0 {
		challengeOpts = append(challengeOpts, auth.WithTokenBytes(cfg.Challenge.TokenBytes))
	}
	if cfg.Challenge.OTPDigits > 0 {
		challengeOpts = append(challengeOpts, auth.WithOTPDigits(cfg.Challenge.OTPDigits))
	}
	if cfg.Challenge.VerificationTTL > 0 {
		challengeOpts = append(challengeOpts, auth.WithVerificationTTL(cfg.Challenge.VerificationTTL))
	}
	challenges, err := auth.NewChallengeIssuer(mode, challengeOpts...)
	if err != nil {
		return nil, err
	}

	if sender == nil {
		sender, err = newSender(cfg.Mail, logger)
		if err != nil {
			return nil, err
		}
	}
	notifier, err := mail.NewNotifier(sender, mode, cfg.HTTP.Origin, cfg.Mail.ProductName)
	if err != nil {
		return nil, err
	}

	remover, err := assets.New(assets.Config{
		Bucket:    cfg.Assets.S3Bucket,
		Endpoint:  cfg.Assets.S3Endpoint,
		Region:    cfg.Assets.S3Region,
		AccessKey: cfg.Assets.S3AccessKey,
		SecretKey: cfg.Assets.S3SecretKey,
		PathStyle: cfg.Assets.S3PathStyle,
	}, logger)
	if err != nil {
		return nil, err
	}
	cleanup, err := cascade.NewNotifier(b.Dependents, remover, logger)
	if err != nil {
		return nil, err
	}

	accounts, err := auth.NewAccountService(auth.AccountServiceDeps{
		Accounts:   b.Accounts,
		Hasher:     hasher,
		Challenges: challenges,
		Notifier:   notifier,
		Cascade:    cleanup,
		Transactor: b.Transactor,
		Roles:      roles,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	signer, err := auth.NewTokenSigner([]byte(cfg.Token.SigningKey), cfg.Token.Issuer)
	if err != nil {
		return nil, err
	}
	var sessions auth.SessionService
	switch cfg.Session.Strategy {
	case config.StrategyCookie:
		sessions, err = auth.NewCookieSessions(b.Accounts, hasher, signer, cfg.Token.CookieTTL, logger)
	default:
		sessions, err = auth.NewRotatingSessionsWithLogger(b.Accounts, b.Sessions, hasher, signer, auth.RotatingConfig{
			AccessTTL:  cfg.Token.AccessTTL,
			RefreshTTL: cfg.Token.RefreshTTL,
		}, logger)
	}
	if err != nil {
		return nil, err
	}

	demo, err := cfg.DemoAccountIDs()
	if err != nil {
		return nil, err
	}
	guard, err := access.NewGuard(access.DefaultRoles(roles), demo, logger)
	if err != nil {
		return nil, err
	}

	return &Services{Accounts: accounts, Sessions: sessions, Guard: guard}, nil
}

func newHasher(cfg config.HasherConfig) (auth.SecretHasher, error) {
	var inner auth.SecretHasher
	switch cfg.Algorithm {
	case config.HasherBcrypt:
		h, err := auth.NewBcryptHasher(cfg.BcryptCost)
		if err != nil {
			return nil, err
		}
		inner = h
	default:
		inner = auth.NewArgon2idHasher()
	}
	return auth.NewBoundedHasher(inner, cfg.MaxConcurrent)
}

// newSender picks Postmark when a token is configured and logs otherwise.
// Either way delivery retries transient failures.
func newSender(cfg config.MailConfig, logger *slog.Logger) (mail.Sender, error) {
	var inner mail.Sender = mail.NewLogSender(logger)
	if cfg.PostmarkToken != "" {
		var opts []mail.PostmarkOption
		if cfg.BaseURL != "" {
			opts = append(opts, mail.WithAPIURL(cfg.BaseURL))
		}
		pm, err := mail.NewPostmarkSender(cfg.PostmarkToken, cfg.From, opts...)
		if err != nil {
			return nil, err
		}
		inner = pm
	} else {
		logger.Warn("no postmark token configured; challenge emails are logged, not sent")
	}
	return mail.NewRetryingSender(inner).WithBackoff(uint64(cfg.MaxRetries), mail.DefaultRetryBase), nil //nolint:gosec // validated non-negative
}
