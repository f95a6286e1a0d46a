// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memstore provides in-memory implementations of the auth
// repositories for tests and local development.
package memstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/internal/cascade"
)

// Store holds accounts and refresh sessions in maps guarded by one mutex.
// Transactions are serialized and roll back by restoring a snapshot, so a
// write made outside a transaction while one is open may be lost on rollback.
type Store struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	accounts map[ulid.ULID]auth.Account
	sessions map[ulid.ULID]auth.RefreshSession
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		accounts: make(map[ulid.ULID]auth.Account),
		sessions: make(map[ulid.ULID]auth.RefreshSession),
	}
}

// Accounts returns the store as an auth.AccountRepository.
func (s *Store) Accounts() *AccountRepository {
	return (*AccountRepository)(s)
}

// Sessions returns the store as an auth.RefreshSessionRepository.
func (s *Store) Sessions() *SessionRepository {
	return (*SessionRepository)(s)
}

// Dependents returns the store as a cascade.DependentStore.
func (s *Store) Dependents() *DependentStore {
	return (*DependentStore)(s)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

type txKey struct{}

// InTransaction implements auth.Transactor.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	accounts := maps.Clone(s.accounts)
	sessions := maps.Clone(s.sessions)
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.accounts = accounts
		s.sessions = sessions
		s.mu.Unlock()
		return err
	}
	return nil
}

// AccountRepository implements auth.AccountRepository.
type AccountRepository Store

var _ auth.AccountRepository = (*AccountRepository)(nil)

// Create stores a new account. Emails are unique.
func (r *AccountRepository) Create(_ context.Context, a *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Email == a.Email {
			return oops.With("email", a.Email).Wrap(auth.NewConflict("ACCOUNT_EMAIL_TAKEN", "Email already exists"))
		}
	}
	r.accounts[a.ID] = *a
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, notFound("get account by id", id)
	}
	return &a, nil
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").With("operation", "get account by email").Wrap(auth.ErrNotFound)
}

// MarkVerified flips an unverified account whose digest matches.
func (r *AccountRepository) MarkVerified(_ context.Context, id ulid.ULID, digest string, now time.Time) error {
	return r.mutate("mark verified", id, func(a *auth.Account) bool {
		if a.Verified || digest == "" || a.VerificationDigest != digest {
			return false
		}
		if a.VerificationExpiresAt != nil && !now.Before(*a.VerificationExpiresAt) {
			return false
		}
		a.Verified = true
		a.VerifiedAt = &now
		a.VerificationExpiresAt = nil
		a.UpdatedAt = now
		return true
	})
}

// BeginReset stores a reset challenge unless an unexpired one is pending.
func (r *AccountRepository) BeginReset(_ context.Context, id ulid.ULID, digest string, expiresAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return notFound("begin reset", id)
	}
	if a.HasPendingReset(now) {
		return oops.With("account_id", id.String()).
			Wrap(auth.NewConflict("RESET_ALREADY_PENDING", "Password reset already requested"))
	}
	a.ResetDigest = digest
	a.ResetExpiresAt = &expiresAt
	a.UpdatedAt = now
	r.accounts[id] = a
	return nil
}

// CompleteReset replaces the password hash if the reset digest matches and is unexpired.
func (r *AccountRepository) CompleteReset(_ context.Context, id ulid.ULID, digest, passwordHash string, now time.Time) error {
	return r.mutate("complete reset", id, func(a *auth.Account) bool {
		if digest == "" || a.ResetDigest != digest || !a.HasPendingReset(now) {
			return false
		}
		a.PasswordHash = passwordHash
		a.ResetDigest = ""
		a.ResetExpiresAt = nil
		a.UpdatedAt = now
		return true
	})
}

// ClearExpiredReset removes an expired reset challenge that still carries digest.
func (r *AccountRepository) ClearExpiredReset(_ context.Context, id ulid.ULID, digest string, now time.Time) error {
	return r.mutate("clear expired reset", id, func(a *auth.Account) bool {
		if digest == "" || a.ResetDigest != digest {
			return false
		}
		if a.ResetExpiresAt != nil && now.Before(*a.ResetExpiresAt) {
			return false
		}
		a.ResetDigest = ""
		a.ResetExpiresAt = nil
		return true
	})
}

// UpdatePasswordHash replaces the stored password hash.
func (r *AccountRepository) UpdatePasswordHash(_ context.Context, id ulid.ULID, passwordHash string) error {
	return r.mutate("update password hash", id, func(a *auth.Account) bool {
		a.PasswordHash = passwordHash
		a.UpdatedAt = time.Now()
		return true
	})
}

// UpdateProfile writes the mutable profile fields.
func (r *AccountRepository) UpdateProfile(_ context.Context, in *auth.Account) error {
	return r.mutate("update profile", in.ID, func(a *auth.Account) bool {
		a.FirstName = in.FirstName
		a.LastName = in.LastName
		a.ContactNo = in.ContactNo
		a.CompanyName = in.CompanyName
		a.UpdatedAt = in.UpdatedAt
		return true
	})
}

// SetStatus changes the active/inactive flag.
func (r *AccountRepository) SetStatus(_ context.Context, id ulid.ULID, status auth.Status) error {
	return r.mutate("set status", id, func(a *auth.Account) bool {
		a.Status = status
		a.UpdatedAt = time.Now()
		return true
	})
}

// Delete removes an account.
func (r *AccountRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; !ok {
		return notFound("delete account", id)
	}
	delete(r.accounts, id)
	return nil
}

// mutate applies fn under the write lock. fn returning false means its
// precondition failed and the account is left untouched.
func (r *AccountRepository) mutate(operation string, id ulid.ULID, fn func(*auth.Account) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || !fn(&a) {
		return notFound(operation, id)
	}
	r.accounts[id] = a
	return nil
}

func notFound(operation string, id ulid.ULID) error {
	return oops.Code("ACCOUNT_NOT_FOUND").
		With("operation", operation).
		With("account_id", id.String()).
		Wrap(auth.ErrNotFound)
}

// SessionRepository implements auth.RefreshSessionRepository.
type SessionRepository Store

var _ auth.RefreshSessionRepository = (*SessionRepository)(nil)

// Create stores a session. Each account has at most one.
func (r *SessionRepository) Create(_ context.Context, s *auth.RefreshSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.AccountID]; ok {
		return oops.With("account_id", s.AccountID.String()).
			Wrap(auth.NewConflict("SESSION_EXISTS", "Session already exists"))
	}
	r.sessions[s.AccountID] = *s
	return nil
}

// GetByAccount retrieves the account's session.
func (r *SessionRepository) GetByAccount(_ context.Context, accountID ulid.ULID) (*auth.RefreshSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[accountID]
	if !ok {
		return nil, sessionNotFound("get session", accountID)
	}
	return &s, nil
}

// Rotate replaces the digest of a valid session whose current digest matches.
func (r *SessionRepository) Rotate(_ context.Context, accountID ulid.ULID, expectedDigest, newDigest string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[accountID]
	if !ok || !s.Valid || s.SecretDigest != expectedDigest {
		return sessionNotFound("rotate session", accountID)
	}
	s.SecretDigest = newDigest
	s.RotatedAt = at
	r.sessions[accountID] = s
	return nil
}

// SetValid sets the validity flag.
func (r *SessionRepository) SetValid(_ context.Context, accountID ulid.ULID, valid bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[accountID]
	if !ok {
		return sessionNotFound("set session validity", accountID)
	}
	s.Valid = valid
	r.sessions[accountID] = s
	return nil
}

// DeleteByAccount removes the account's session.
func (r *SessionRepository) DeleteByAccount(_ context.Context, accountID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[accountID]; !ok {
		return sessionNotFound("delete session", accountID)
	}
	delete(r.sessions, accountID)
	return nil
}

func sessionNotFound(operation string, accountID ulid.ULID) error {
	return oops.Code("SESSION_NOT_FOUND").
		With("operation", operation).
		With("account_id", accountID.String()).
		Wrap(auth.ErrNotFound)
}

// DependentStore implements cascade.DependentStore. The memory store keeps
// no listings, so only the refresh session is removed.
type DependentStore Store

var _ cascade.DependentStore = (*DependentStore)(nil)

// DeleteOwnedBy removes the account's refresh session.
func (d *DependentStore) DeleteOwnedBy(_ context.Context, accountID ulid.ULID) (cascade.Removed, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var removed cascade.Removed
	if _, ok := d.sessions[accountID]; ok {
		delete(d.sessions, accountID)
		removed.Sessions = 1
	}
	return removed, nil
}
