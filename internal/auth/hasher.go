// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

// Bcrypt costs accepted by BcryptHasher.
const (
	MinBcryptCost     = 10
	DefaultBcryptCost = 12
)

// MinSecretLength is the shortest secret ValidateSecretStrength accepts.
const MinSecretLength = 8

// ErrWeakSecret is returned when a secret fails the strength policy.
var ErrWeakSecret = badRequest("AUTH_WEAK_SECRET", "Please provide strong password")

// SecretHasher provides password hashing and verification.
type SecretHasher interface {
	// Hash validates the secret's strength and produces a salted digest.
	Hash(secret string) (string, error)

	// Verify checks if the secret matches the digest.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid digest.
	Verify(secret, digest string) (bool, error)

	// NeedsUpgrade returns true if the digest should be recomputed with the current algorithm.
	NeedsUpgrade(digest string) bool
}

// ValidateSecretStrength enforces the password policy: at least
// MinSecretLength characters with a lowercase letter, an uppercase letter,
// a digit and a symbol.
func ValidateSecretStrength(secret string) error {
	if len([]rune(secret)) < MinSecretLength {
		return ErrWeakSecret
	}
	var lower, upper, digit, symbol bool
	for _, r := range secret {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsSpace(r):
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !lower || !upper || !digit || !symbol {
		return ErrWeakSecret
	}
	return nil
}

// Argon2idHasher implements SecretHasher using argon2id.
// It verifies legacy bcrypt digests and flags them for upgrade.
type Argon2idHasher struct{}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash produces an argon2id hash of the secret.
func (h *Argon2idHasher) Hash(secret string) (string, error) {
	if err := ValidateSecretStrength(secret); err != nil {
		return "", err
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	hash := argon2.IDKey([]byte(secret), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// Verify checks if the secret matches the digest.
func (h *Argon2idHasher) Verify(secret, digest string) (bool, error) {
	return verifyDigest(secret, digest)
}

// NeedsUpgrade returns true if the digest is not argon2id (e.g., bcrypt).
func (h *Argon2idHasher) NeedsUpgrade(digest string) bool {
	return !strings.HasPrefix(digest, "$argon2id$")
}

// BcryptHasher implements SecretHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. Costs below MinBcryptCost are rejected.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < MinBcryptCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("AUTH_INVALID_BCRYPT_COST").
			With("cost", cost).
			Errorf("bcrypt cost must be between %d and %d", MinBcryptCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash produces a bcrypt hash of the secret.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	if err := ValidateSecretStrength(secret); err != nil {
		return "", err
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return string(out), nil
}

// Verify checks if the secret matches the digest.
func (h *BcryptHasher) Verify(secret, digest string) (bool, error) {
	return verifyDigest(secret, digest)
}

// NeedsUpgrade returns true for non-bcrypt digests and for bcrypt digests
// below the configured cost.
func (h *BcryptHasher) NeedsUpgrade(digest string) bool {
	if !isBcrypt(digest) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost < h.cost
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

func verifyDigest(secret, digest string) (bool, error) {
	if isBcrypt(digest) {
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret))
		switch {
		case err == nil:
			return true, nil
		case err == bcrypt.ErrMismatchedHashAndPassword:
			return false, nil
		default:
			return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
		}
	}
	return verifyArgon2id(secret, digest)
}

func verifyArgon2id(secret, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	if threads == 0 || threads > 255 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}

	keyLen := len(expected)
	if keyLen <= 0 || keyLen > 1<<30 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", keyLen)
	}

	computed := argon2.IDKey([]byte(secret), salt, iterations, memory, uint8(threads), uint32(keyLen))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// BoundedHasher caps the number of concurrent hash computations so
// memory-hard hashing cannot exhaust the process under load.
type BoundedHasher struct {
	inner SecretHasher
	sem   *semaphore.Weighted
}

// NewBoundedHasher wraps inner, allowing at most limit concurrent operations.
func NewBoundedHasher(inner SecretHasher, limit int) (*BoundedHasher, error) {
	if inner == nil {
		return nil, oops.Code("AUTH_INVALID_HASHER").Errorf("inner hasher is required")
	}
	if limit <= 0 {
		return nil, oops.Code("AUTH_INVALID_HASHER").With("limit", limit).Errorf("limit must be positive")
	}
	return &BoundedHasher{inner: inner, sem: semaphore.NewWeighted(int64(limit))}, nil
}

// Hash implements SecretHasher.
func (b *BoundedHasher) Hash(secret string) (string, error) {
	release, err := b.acquire()
	if err != nil {
		return "", err
	}
	defer release()

	start := time.Now()
	digest, err := b.inner.Hash(secret)
	observeHash("hash", start)
	return digest, err
}

// Verify implements SecretHasher.
func (b *BoundedHasher) Verify(secret, digest string) (bool, error) {
	release, err := b.acquire()
	if err != nil {
		return false, err
	}
	defer release()

	start := time.Now()
	ok, err := b.inner.Verify(secret, digest)
	observeHash("verify", start)
	return ok, err
}

// NeedsUpgrade implements SecretHasher.
func (b *BoundedHasher) NeedsUpgrade(digest string) bool {
	return b.inner.NeedsUpgrade(digest)
}

func (b *BoundedHasher) acquire() (func(), error) {
	if err := b.sem.Acquire(context.Background(), 1); err != nil {
		return nil, oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return func() { b.sem.Release(1) }, nil
}
