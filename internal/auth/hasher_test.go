// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/pkg/errutil"
)

const strongSecret = "Str0ng!Pw"

func TestValidateSecretStrength(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		ok     bool
	}{
		{"strong", strongSecret, true},
		{"too short", "S0!a", false},
		{"no upper", "str0ng!pw", false},
		{"no lower", "STR0NG!PW", false},
		{"no digit", "Strong!Pw", false},
		{"no symbol", "Str0ngPw1", false},
		{"unicode symbol counts", "Str0ngPw£", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateSecretStrength(tt.secret)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "AUTH_WEAK_SECRET")
			assert.Equal(t, auth.KindBadRequest, auth.KindOf(err))
			assert.Equal(t, "Please provide strong password", auth.PublicMessage(err))
		})
	}
}

func TestArgon2idHasher_Hash(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("produces valid hash", func(t *testing.T) {
		hash, err := hasher.Hash(strongSecret)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	})

	t.Run("same secret produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash(strongSecret)
		require.NoError(t, err)
		hash2, err := hasher.Hash(strongSecret)
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects weak secret", func(t *testing.T) {
		_, err := hasher.Hash("password123")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_WEAK_SECRET")
	})
}

func TestArgon2idHasher_Verify(t *testing.T) {
	hasher := auth.NewArgon2idHasher()
	hash, err := hasher.Hash(strongSecret)
	require.NoError(t, err)

	t.Run("correct secret verifies", func(t *testing.T) {
		ok, err := hasher.Verify(strongSecret, hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("other secret fails", func(t *testing.T) {
		ok, err := hasher.Verify("Other!Pw9", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed hash errors", func(t *testing.T) {
		_, err := hasher.Verify(strongSecret, "not-a-hash")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH")
	})

	t.Run("unsupported algorithm errors", func(t *testing.T) {
		_, err := hasher.Verify(strongSecret, "$scrypt$v=1$m=1,t=1,p=1$AA$AA")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH")
	})

	t.Run("legacy bcrypt digest verifies", func(t *testing.T) {
		legacy, err := bcrypt.GenerateFromPassword([]byte(strongSecret), bcrypt.MinCost)
		require.NoError(t, err)

		ok, err := hasher.Verify(strongSecret, string(legacy))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = hasher.Verify("Wrong!Pw9", string(legacy))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestArgon2idHasher_NeedsUpgrade(t *testing.T) {
	hasher := auth.NewArgon2idHasher()
	assert.False(t, hasher.NeedsUpgrade("$argon2id$v=19$m=65536,t=1,p=4$salt$hash"))
	assert.True(t, hasher.NeedsUpgrade("$2a$10$abcdefghijklmnopqrstuv"))
}

func TestNewBcryptHasher(t *testing.T) {
	_, err := auth.NewBcryptHasher(9)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_BCRYPT_COST")

	h, err := auth.NewBcryptHasher(auth.MinBcryptCost)
	require.NoError(t, err)

	hash, err := h.Hash(strongSecret)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$"))

	ok, err := h.Verify(strongSecret, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.False(t, h.NeedsUpgrade(hash))
	assert.True(t, h.NeedsUpgrade("$argon2id$v=19$m=65536,t=1,p=4$salt$hash"))

	stronger, err := auth.NewBcryptHasher(auth.MinBcryptCost + 1)
	require.NoError(t, err)
	assert.True(t, stronger.NeedsUpgrade(hash))
}

type countingHasher struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	release chan struct{}
}

func (c *countingHasher) Hash(string) (string, error) {
	n := c.active.Add(1)
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	<-c.release
	c.active.Add(-1)
	return "digest", nil
}

func (c *countingHasher) Verify(string, string) (bool, error) { return true, nil }
func (c *countingHasher) NeedsUpgrade(string) bool            { return false }

func TestBoundedHasher_LimitsConcurrency(t *testing.T) {
	inner := &countingHasher{release: make(chan struct{})}
	bounded, err := auth.NewBoundedHasher(inner, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = bounded.Hash(strongSecret)
		}()
	}
	for range 5 {
		inner.release <- struct{}{}
	}
	wg.Wait()

	assert.LessOrEqual(t, inner.maxSeen.Load(), int32(2))
}

func TestNewBoundedHasher_Validation(t *testing.T) {
	_, err := auth.NewBoundedHasher(nil, 1)
	require.Error(t, err)

	_, err = auth.NewBoundedHasher(auth.NewArgon2idHasher(), 0)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASHER")
}
