// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Transactor runs fn inside a store transaction carried by the context.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ChallengeNotifier delivers raw challenge secrets to the account owner.
type ChallengeNotifier interface {
	SendVerification(ctx context.Context, account *Account, secret string) error
	SendReset(ctx context.Context, account *Account, secret string) error
}

// CascadeNotifier cleans up everything that depends on an account. It runs
// inside the deletion transaction; an error aborts the deletion.
type CascadeNotifier interface {
	OnAccountDeleted(ctx context.Context, account *Account) error
}

// AccountServiceDeps are the collaborators of AccountService.
type AccountServiceDeps struct {
	Accounts   AccountRepository
	Hasher     SecretHasher
	Challenges *ChallengeIssuer
	Notifier   ChallengeNotifier
	Cascade    CascadeNotifier
	Transactor Transactor
	Roles      RoleSet
	Logger     *slog.Logger
}

// AccountService owns the account lifecycle: registration, email
// verification, password reset and deletion.
type AccountService struct {
	accounts   AccountRepository
	hasher     SecretHasher
	challenges *ChallengeIssuer
	notifier   ChallengeNotifier
	cascade    CascadeNotifier
	tx         Transactor
	roles      RoleSet
	logger     *slog.Logger
	now        func() time.Time
}

// NewAccountService creates an AccountService. Logger defaults to slog.Default().
func NewAccountService(deps AccountServiceDeps) (*AccountService, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("accounts repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("secret hasher is required")
	case deps.Challenges == nil:
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("challenge issuer is required")
	case deps.Notifier == nil:
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("challenge notifier is required")
	case deps.Cascade == nil:
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("cascade notifier is required")
	case deps.Transactor == nil:
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("transactor is required")
	case len(deps.Roles.Registrable) == 0:
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("role set is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		accounts:   deps.Accounts,
		hasher:     deps.Hasher,
		challenges: deps.Challenges,
		notifier:   deps.Notifier,
		cascade:    deps.Cascade,
		tx:         deps.Transactor,
		roles:      deps.Roles,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Roles returns the configured role variant.
func (s *AccountService) Roles() RoleSet {
	return s.roles
}

// Register creates an unverified account and delivers its verification
// challenge. If delivery fails the account is not kept.
func (s *AccountService) Register(ctx context.Context, in RegistrationInput) (account *Account, err error) {
	ctx, span := tracer.Start(ctx, "auth.register")
	defer func() { endSpan(span, err); recordOperation("register", err) }()

	reg, err := NewRegistration(in, s.roles)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("role", string(reg.Role)))

	if _, lookupErr := s.accounts.GetByEmail(ctx, reg.Email); lookupErr == nil {
		return nil, conflict("ACCOUNT_EMAIL_TAKEN", "Email already exists")
	} else if !errors.Is(lookupErr, ErrNotFound) {
		return nil, oops.Code("ACCOUNT_REGISTER_FAILED").With("operation", "get account by email").Wrap(lookupErr)
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return nil, err
	}

	challenge, err := s.challenges.Issue()
	if err != nil {
		return nil, oops.Code("ACCOUNT_REGISTER_FAILED").With("operation", "issue challenge").Wrap(err)
	}

	now := s.now()
	account = &Account{
		ID:                    ulid.Make(),
		Email:                 reg.Email,
		FirstName:             reg.FirstName,
		LastName:              reg.LastName,
		ContactNo:             reg.ContactNo,
		Role:                  reg.Role,
		Status:                StatusActive,
		PasswordHash:          hash,
		VerificationDigest:    challenge.Digest,
		VerificationExpiresAt: s.challenges.VerificationExpiry(now),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if p, ok := reg.Profile.(EmployerProfile); ok {
		account.CompanyName = p.CompanyName
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.accounts.Create(ctx, account); err != nil {
			return err
		}
		if err := s.notifier.SendVerification(ctx, account, challenge.Raw); err != nil {
			return oops.Code("ACCOUNT_VERIFICATION_DELIVERY_FAILED").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindConflict {
			return nil, err
		}
		return nil, oops.Code("ACCOUNT_REGISTER_FAILED").Wrap(err)
	}

	s.logger.InfoContext(ctx, "account registered",
		"account_id", account.ID.String(),
		"role", string(account.Role))
	return account, nil
}

// Verify redeems the verification challenge. It succeeds once per account.
func (s *AccountService) Verify(ctx context.Context, email, secret string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.verify")
	defer func() { endSpan(span, err); recordOperation("verify", err) }()

	if email == "" || secret == "" {
		return ErrVerificationFailed()
	}
	account, err := s.lookup(ctx, email)
	if err != nil {
		if k := KindOf(err); k == KindNotFound || k == KindBadRequest {
			return ErrVerificationFailed()
		}
		return err
	}
	if !Matches(secret, account.VerificationDigest) {
		return ErrVerificationFailed()
	}
	if account.Verified {
		return conflict("ACCOUNT_ALREADY_VERIFIED", "Account already verified")
	}

	now := s.now()
	if account.VerificationExpiresAt != nil && !now.Before(*account.VerificationExpiresAt) {
		return unauthenticated("AUTH_CHALLENGE_EXPIRED", "Verification code has expired")
	}

	if err := s.accounts.MarkVerified(ctx, account.ID, account.VerificationDigest, now); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return oops.Code("ACCOUNT_VERIFY_FAILED").With("account_id", account.ID.String()).Wrap(err)
		}
		// Lost a race; report what the winner left behind.
		current, getErr := s.accounts.GetByID(ctx, account.ID)
		if getErr == nil && current.Verified {
			return conflict("ACCOUNT_ALREADY_VERIFIED", "Account already verified")
		}
		return ErrVerificationFailed()
	}

	s.logger.InfoContext(ctx, "account verified", "account_id", account.ID.String())
	return nil
}

// RequestReset issues a password reset challenge unless one is pending.
func (s *AccountService) RequestReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.request_reset")
	defer func() { endSpan(span, err); recordOperation("request_reset", err) }()

	account, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}

	now := s.now()
	if account.HasPendingReset(now) {
		return s.resetPending()
	}

	challenge, err := s.challenges.Issue()
	if err != nil {
		return oops.Code("ACCOUNT_RESET_FAILED").With("operation", "issue challenge").Wrap(err)
	}
	expiresAt := s.challenges.ResetExpiry(now)

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.accounts.BeginReset(ctx, account.ID, challenge.Digest, expiresAt, now); err != nil {
			return err
		}
		if err := s.notifier.SendReset(ctx, account, challenge.Raw); err != nil {
			return oops.Code("ACCOUNT_RESET_DELIVERY_FAILED").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindConflict {
			return s.resetPending()
		}
		return oops.Code("ACCOUNT_RESET_FAILED").Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset requested",
		"account_id", account.ID.String(),
		"expires_at", expiresAt)
	return nil
}

func (s *AccountService) resetPending() error {
	if s.challenges.Mode() == ChallengeCode {
		return conflict("RESET_ALREADY_PENDING", "Password reset code already sent")
	}
	return conflict("RESET_ALREADY_PENDING", "Password reset link already sent")
}

// RedeemReset replaces the password if secret matches an unexpired reset
// challenge. The challenge is consumed in the same write.
func (s *AccountService) RedeemReset(ctx context.Context, email, secret, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.redeem_reset")
	defer func() { endSpan(span, err); recordOperation("redeem_reset", err) }()

	if email == "" || secret == "" {
		return ErrVerificationFailed()
	}
	if newPassword == "" {
		return badRequest("AUTH_MISSING_PASSWORD", "Please provide password")
	}

	account, err := s.lookup(ctx, email)
	if err != nil {
		if k := KindOf(err); k == KindNotFound || k == KindBadRequest {
			return ErrVerificationFailed()
		}
		return err
	}
	if account.ResetDigest == "" {
		return ErrVerificationFailed()
	}

	now := s.now()
	if account.ResetExpiresAt == nil || !now.Before(*account.ResetExpiresAt) {
		// Only the challenge read above is cleared; a newer one stays.
		clearErr := s.accounts.ClearExpiredReset(ctx, account.ID, account.ResetDigest, now)
		if clearErr != nil && !errors.Is(clearErr, ErrNotFound) {
			s.logger.WarnContext(ctx, "failed to clear expired reset challenge",
				"account_id", account.ID.String(),
				"error", clearErr)
		}
		return unauthenticated("RESET_EXPIRED", "Password reset link has expired")
	}
	if !Matches(secret, account.ResetDigest) {
		return ErrVerificationFailed()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.accounts.CompleteReset(ctx, account.ID, account.ResetDigest, hash, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrVerificationFailed()
		}
		return oops.Code("ACCOUNT_RESET_FAILED").With("account_id", account.ID.String()).Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset completed", "account_id", account.ID.String())
	return nil
}

// Delete removes an account after its dependents have been cleaned up.
// Any cleanup failure aborts the deletion.
func (s *AccountService) Delete(ctx context.Context, accountID ulid.ULID) (err error) {
	ctx, span := tracer.Start(ctx, "auth.delete", trace.WithAttributes(attribute.String("account_id", accountID.String())))
	defer func() { endSpan(span, err); recordOperation("delete", err) }()

	account, err := s.Get(ctx, accountID)
	if err != nil {
		return err
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.cascade.OnAccountDeleted(ctx, account); err != nil {
			return oops.Code("ACCOUNT_CASCADE_FAILED").
				With("account_id", accountID.String()).
				Wrap(err)
		}
		return s.accounts.Delete(ctx, accountID)
	})
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").With("account_id", accountID.String()).Wrap(err)
	}

	s.logger.InfoContext(ctx, "account deleted", "account_id", accountID.String())
	return nil
}

// Get returns an account by ID.
func (s *AccountService) Get(ctx context.Context, accountID ulid.ULID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("ACCOUNT_NOT_FOUND", "Account does not exist")
		}
		return nil, oops.Code("ACCOUNT_GET_FAILED").With("account_id", accountID.String()).Wrap(err)
	}
	return account, nil
}

// UpdateProfile applies a partial profile change. Email cannot change.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID ulid.ULID, update ProfileUpdate) (*Account, error) {
	account, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := update.Apply(account, s.roles); err != nil {
		return nil, err
	}
	account.UpdatedAt = s.now()
	if err := s.accounts.UpdateProfile(ctx, account); err != nil {
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").With("account_id", accountID.String()).Wrap(err)
	}
	recordOperation("update_profile", nil)
	return account, nil
}

// SetStatus activates or deactivates an account.
func (s *AccountService) SetStatus(ctx context.Context, accountID ulid.ULID, status Status) error {
	if !status.Valid() {
		return badRequest("ACCOUNT_INVALID_STATUS", "Please provide a valid status")
	}
	if err := s.accounts.SetStatus(ctx, accountID, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound("ACCOUNT_NOT_FOUND", "Account does not exist")
		}
		return oops.Code("ACCOUNT_UPDATE_FAILED").With("account_id", accountID.String()).Wrap(err)
	}
	s.logger.InfoContext(ctx, "account status changed",
		"account_id", accountID.String(),
		"status", string(status))
	return nil
}

func (s *AccountService) lookup(ctx context.Context, email string) (*Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("ACCOUNT_NOT_FOUND", "No account with this email")
		}
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").Wrap(err)
	}
	return account, nil
}
