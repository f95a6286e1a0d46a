// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Challenge configuration defaults.
const (
	DefaultTokenBytes = 40               // 40 bytes = 80 hex chars
	DefaultOTPDigits  = 6                // numeric code width
	ResetChallengeTTL = 10 * time.Minute // reset challenges expire after this window
	maxOTPDigits      = 18
)

// ChallengeMode selects how challenge secrets are shaped.
type ChallengeMode string

// Challenge modes.
const (
	// ChallengeLink issues hex tokens delivered inside a link.
	ChallengeLink ChallengeMode = "link"
	// ChallengeCode issues short numeric codes typed by the user.
	ChallengeCode ChallengeMode = "code"
)

// Valid reports whether m is a known mode.
func (m ChallengeMode) Valid() bool {
	return m == ChallengeLink || m == ChallengeCode
}

// Challenge is a freshly issued secret together with its stored digest.
// Raw is delivered to the user and never persisted.
type Challenge struct {
	Raw    string
	Digest string
}

// ChallengeIssuer generates verification and reset secrets.
type ChallengeIssuer struct {
	mode            ChallengeMode
	tokenBytes      int
	otpDigits       int
	resetTTL        time.Duration
	verificationTTL time.Duration
}

// ChallengeOption configures a ChallengeIssuer.
type ChallengeOption func(*ChallengeIssuer)

// WithTokenBytes sets the random byte length of link tokens.
func WithTokenBytes(n int) ChallengeOption {
	return func(c *ChallengeIssuer) { c.tokenBytes = n }
}

// WithOTPDigits sets the width of numeric codes.
func WithOTPDigits(n int) ChallengeOption {
	return func(c *ChallengeIssuer) { c.otpDigits = n }
}

// WithResetTTL overrides the reset challenge lifetime.
func WithResetTTL(d time.Duration) ChallengeOption {
	return func(c *ChallengeIssuer) { c.resetTTL = d }
}

// WithVerificationTTL makes verification challenges expire. Zero means never.
func WithVerificationTTL(d time.Duration) ChallengeOption {
	return func(c *ChallengeIssuer) { c.verificationTTL = d }
}

// NewChallengeIssuer creates an issuer for the given mode.
func NewChallengeIssuer(mode ChallengeMode, opts ...ChallengeOption) (*ChallengeIssuer, error) {
	c := &ChallengeIssuer{
		mode:       mode,
		tokenBytes: DefaultTokenBytes,
		otpDigits:  DefaultOTPDigits,
		resetTTL:   ResetChallengeTTL,
	}
	for _, opt := range opts {
		opt(c)
	}

	if !mode.Valid() {
		return nil, oops.Code("CHALLENGE_INVALID_MODE").With("mode", mode).Errorf("unknown challenge mode")
	}
	if c.tokenBytes < 16 {
		return nil, oops.Code("CHALLENGE_INVALID_CONFIG").With("token_bytes", c.tokenBytes).Errorf("token must be at least 16 bytes")
	}
	if c.otpDigits < 4 || c.otpDigits > maxOTPDigits {
		return nil, oops.Code("CHALLENGE_INVALID_CONFIG").With("otp_digits", c.otpDigits).Errorf("otp digits must be between 4 and %d", maxOTPDigits)
	}
	if c.resetTTL <= 0 {
		return nil, oops.Code("CHALLENGE_INVALID_CONFIG").Errorf("reset ttl must be positive")
	}
	if c.verificationTTL < 0 {
		return nil, oops.Code("CHALLENGE_INVALID_CONFIG").Errorf("verification ttl cannot be negative")
	}
	return c, nil
}

// Mode returns the configured challenge mode.
func (c *ChallengeIssuer) Mode() ChallengeMode {
	return c.mode
}

// Issue creates a challenge shaped by the configured mode.
func (c *ChallengeIssuer) Issue() (Challenge, error) {
	var (
		raw string
		err error
	)
	if c.mode == ChallengeCode {
		raw, err = IssueOTP(c.otpDigits)
	} else {
		raw, err = IssueToken(c.tokenBytes)
	}
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{Raw: raw, Digest: Digest(raw)}, nil
}

// ResetExpiry returns when a reset challenge issued at now expires.
func (c *ChallengeIssuer) ResetExpiry(now time.Time) time.Time {
	return now.Add(c.resetTTL)
}

// VerificationExpiry returns when a verification challenge issued at now
// expires, or nil when verification challenges do not expire.
func (c *ChallengeIssuer) VerificationExpiry(now time.Time) *time.Time {
	if c.verificationTTL == 0 {
		return nil
	}
	t := now.Add(c.verificationTTL)
	return &t
}

// IssueToken returns byteLen CSPRNG bytes, hex-encoded.
func IssueToken(byteLen int) (string, error) {
	if byteLen <= 0 {
		return "", oops.Code("CHALLENGE_GENERATE_FAILED").Errorf("byte length must be positive")
	}
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("CHALLENGE_GENERATE_FAILED").Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// IssueOTP returns a CSPRNG numeric code of exactly digits characters.
// The leading digit is never zero.
func IssueOTP(digits int) (string, error) {
	if digits <= 0 || digits > maxOTPDigits {
		return "", oops.Code("CHALLENGE_GENERATE_FAILED").With("digits", digits).Errorf("invalid code width")
	}
	lo := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits-1)), nil)
	span := new(big.Int).Sub(new(big.Int).Mul(lo, big.NewInt(10)), lo)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", oops.Code("CHALLENGE_GENERATE_FAILED").Wrap(err)
	}
	return n.Add(n, lo).String(), nil
}

// Digest computes the stored form of a raw secret (SHA-256, hex).
func Digest(raw string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(h[:])
}

// Matches reports whether raw hashes to digest, in constant time.
func Matches(raw, digest string) bool {
	if raw == "" || digest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Digest(raw)), []byte(digest)) == 1
}
