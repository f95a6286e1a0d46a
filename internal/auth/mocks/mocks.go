// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/keyhold/internal/auth"
)

// TestingT is the subset of *testing.T the constructors need.
type TestingT interface {
	mock.TestingT
	Cleanup(func())
}

func register(m *mock.Mock, t TestingT) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

// MockAccountRepository mocks auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

var _ auth.AccountRepository = (*MockAccountRepository)(nil)

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t TestingT) *MockAccountRepository {
	m := &MockAccountRepository{}
	register(&m.Mock, t)
	return m
}

func accountResult(args mock.Arguments) (*auth.Account, error) {
	var a *auth.Account
	if v := args.Get(0); v != nil {
		a = v.(*auth.Account)
	}
	return a, args.Error(1)
}

// Create mocks AccountRepository.Create.
func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// GetByID mocks AccountRepository.GetByID.
func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return accountResult(m.Called(ctx, id))
}

// GetByEmail mocks AccountRepository.GetByEmail.
func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return accountResult(m.Called(ctx, email))
}

// MarkVerified mocks AccountRepository.MarkVerified.
func (m *MockAccountRepository) MarkVerified(ctx context.Context, id ulid.ULID, digest string, now time.Time) error {
	return m.Called(ctx, id, digest, now).Error(0)
}

// BeginReset mocks AccountRepository.BeginReset.
func (m *MockAccountRepository) BeginReset(ctx context.Context, id ulid.ULID, digest string, expiresAt, now time.Time) error {
	return m.Called(ctx, id, digest, expiresAt, now).Error(0)
}

// CompleteReset mocks AccountRepository.CompleteReset.
func (m *MockAccountRepository) CompleteReset(ctx context.Context, id ulid.ULID, digest, passwordHash string, now time.Time) error {
	return m.Called(ctx, id, digest, passwordHash, now).Error(0)
}

// ClearExpiredReset mocks AccountRepository.ClearExpiredReset.
func (m *MockAccountRepository) ClearExpiredReset(ctx context.Context, id ulid.ULID, digest string, now time.Time) error {
	return m.Called(ctx, id, digest, now).Error(0)
}

// UpdatePasswordHash mocks AccountRepository.UpdatePasswordHash.
func (m *MockAccountRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return m.Called(ctx, id, passwordHash).Error(0)
}

// UpdateProfile mocks AccountRepository.UpdateProfile.
func (m *MockAccountRepository) UpdateProfile(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// SetStatus mocks AccountRepository.SetStatus.
func (m *MockAccountRepository) SetStatus(ctx context.Context, id ulid.ULID, status auth.Status) error {
	return m.Called(ctx, id, status).Error(0)
}

// Delete mocks AccountRepository.Delete.
func (m *MockAccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

// MockRefreshSessionRepository mocks auth.RefreshSessionRepository.
type MockRefreshSessionRepository struct {
	mock.Mock
}

var _ auth.RefreshSessionRepository = (*MockRefreshSessionRepository)(nil)

// NewMockRefreshSessionRepository creates a mock that asserts its expectations on cleanup.
func NewMockRefreshSessionRepository(t TestingT) *MockRefreshSessionRepository {
	m := &MockRefreshSessionRepository{}
	register(&m.Mock, t)
	return m
}

// Create mocks RefreshSessionRepository.Create.
func (m *MockRefreshSessionRepository) Create(ctx context.Context, session *auth.RefreshSession) error {
	return m.Called(ctx, session).Error(0)
}

// GetByAccount mocks RefreshSessionRepository.GetByAccount.
func (m *MockRefreshSessionRepository) GetByAccount(ctx context.Context, accountID ulid.ULID) (*auth.RefreshSession, error) {
	args := m.Called(ctx, accountID)
	var s *auth.RefreshSession
	if v := args.Get(0); v != nil {
		s = v.(*auth.RefreshSession)
	}
	return s, args.Error(1)
}

// Rotate mocks RefreshSessionRepository.Rotate.
func (m *MockRefreshSessionRepository) Rotate(ctx context.Context, accountID ulid.ULID, expectedDigest, newDigest string, at time.Time) error {
	return m.Called(ctx, accountID, expectedDigest, newDigest, at).Error(0)
}

// SetValid mocks RefreshSessionRepository.SetValid.
func (m *MockRefreshSessionRepository) SetValid(ctx context.Context, accountID ulid.ULID, valid bool) error {
	return m.Called(ctx, accountID, valid).Error(0)
}

// DeleteByAccount mocks RefreshSessionRepository.DeleteByAccount.
func (m *MockRefreshSessionRepository) DeleteByAccount(ctx context.Context, accountID ulid.ULID) error {
	return m.Called(ctx, accountID).Error(0)
}

// MockSecretHasher mocks auth.SecretHasher.
type MockSecretHasher struct {
	mock.Mock
}

var _ auth.SecretHasher = (*MockSecretHasher)(nil)

// NewMockSecretHasher creates a mock that asserts its expectations on cleanup.
func NewMockSecretHasher(t TestingT) *MockSecretHasher {
	m := &MockSecretHasher{}
	register(&m.Mock, t)
	return m
}

// Hash mocks SecretHasher.Hash.
func (m *MockSecretHasher) Hash(secret string) (string, error) {
	args := m.Called(secret)
	return args.String(0), args.Error(1)
}

// Verify mocks SecretHasher.Verify.
func (m *MockSecretHasher) Verify(secret, digest string) (bool, error) {
	args := m.Called(secret, digest)
	return args.Bool(0), args.Error(1)
}

// NeedsUpgrade mocks SecretHasher.NeedsUpgrade.
func (m *MockSecretHasher) NeedsUpgrade(digest string) bool {
	return m.Called(digest).Bool(0)
}

// MockChallengeNotifier mocks auth.ChallengeNotifier.
type MockChallengeNotifier struct {
	mock.Mock
}

var _ auth.ChallengeNotifier = (*MockChallengeNotifier)(nil)

// NewMockChallengeNotifier creates a mock that asserts its expectations on cleanup.
func NewMockChallengeNotifier(t TestingT) *MockChallengeNotifier {
	m := &MockChallengeNotifier{}
	register(&m.Mock, t)
	return m
}

// SendVerification mocks ChallengeNotifier.SendVerification.
func (m *MockChallengeNotifier) SendVerification(ctx context.Context, account *auth.Account, secret string) error {
	return m.Called(ctx, account, secret).Error(0)
}

// SendReset mocks ChallengeNotifier.SendReset.
func (m *MockChallengeNotifier) SendReset(ctx context.Context, account *auth.Account, secret string) error {
	return m.Called(ctx, account, secret).Error(0)
}

// MockCascadeNotifier mocks auth.CascadeNotifier.
type MockCascadeNotifier struct {
	mock.Mock
}

var _ auth.CascadeNotifier = (*MockCascadeNotifier)(nil)

// NewMockCascadeNotifier creates a mock that asserts its expectations on cleanup.
func NewMockCascadeNotifier(t TestingT) *MockCascadeNotifier {
	m := &MockCascadeNotifier{}
	register(&m.Mock, t)
	return m
}

// OnAccountDeleted mocks CascadeNotifier.OnAccountDeleted.
func (m *MockCascadeNotifier) OnAccountDeleted(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// PassthroughTransactor runs fn directly, without a store transaction.
type PassthroughTransactor struct {
	Calls int
}

// InTransaction implements auth.Transactor.
func (p *PassthroughTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	p.Calls++
	return fn(ctx)
}
