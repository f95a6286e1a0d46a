// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/internal/logging"
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		add("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level %q is not a slog level", c.Log.Level)
	}
	if c.HTTP.Addr == "" {
		add("http.addr is required")
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverMongo:
		if c.Database.URL == "" {
			add("database.url is required for driver %q", c.Database.Driver)
		}
		if c.Database.Driver == DriverMongo && c.Database.MongoDatabase == "" {
			add("database.mongo_database is required for driver %q", DriverMongo)
		}
	case DriverMemory:
	default:
		add("database.driver must be one of postgres, mongo, memory; got %q", c.Database.Driver)
	}

	if len(c.Token.SigningKey) < auth.MinSigningKeyLength {
		add("token.signing_key must be at least %d bytes", auth.MinSigningKeyLength)
	}
	if c.Token.AccessTTL < 0 || c.Token.RefreshTTL < 0 || c.Token.CookieTTL < 0 {
		add("token lifetimes must not be negative")
	}

	switch c.Session.Strategy {
	case StrategyRotating, StrategyCookie:
	default:
		add("session.strategy must be 'rotating' or 'cookie', got %q", c.Session.Strategy)
	}

	mode := auth.ChallengeMode(c.Challenge.Mode)
	if !mode.Valid() {
		add("challenge.mode must be 'link' or 'code', got %q", c.Challenge.Mode)
	}
	if mode == auth.ChallengeLink {
		if u, err := url.Parse(c.HTTP.Origin); c.HTTP.Origin == "" || err != nil || u.Scheme == "" || u.Host == "" {
			add("http.origin must be an absolute URL when challenge.mode is 'link'")
		}
	}
	if c.Challenge.ResetTTL <= 0 {
		add("challenge.reset_ttl must be positive")
	}

	switch c.Hasher.Algorithm {
	case HasherArgon2id, HasherBcrypt:
	default:
		add("hasher.algorithm must be 'argon2id' or 'bcrypt', got %q", c.Hasher.Algorithm)
	}
	if c.Hasher.MaxConcurrent < 1 {
		add("hasher.max_concurrent must be at least 1")
	}

	if _, ok := auth.RoleSetByName(c.Roles.Variant); !ok {
		add("roles.variant must be 'jobboard' or 'rental', got %q", c.Roles.Variant)
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		add("http.trusted_proxies must be IP addresses or CIDR prefixes")
	}
	if _, err := c.DemoAccountIDs(); err != nil {
		add("guard.demo_accounts must be ULIDs")
	}

	if c.Mail.PostmarkToken != "" && c.Mail.From == "" {
		add("mail.from is required with mail.postmark_token")
	}
	if c.Mail.MaxRetries < 0 {
		add("mail.max_retries must not be negative")
	}
	if c.Assets.S3Bucket != "" && (c.Assets.S3AccessKey == "") != (c.Assets.S3SecretKey == "") {
		add("assets.s3_access_key and assets.s3_secret_key must be set together")
	}

	if len(problems) == 0 {
		return nil
	}
	return oops.Code("CONFIG_INVALID").
		With("problems", problems).
		Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

// DemoAccountIDs parses the read-only demo account IDs.
func (c *Config) DemoAccountIDs() ([]ulid.ULID, error) {
	ids := make([]ulid.ULID, 0, len(c.Guard.DemoAccounts))
	for _, raw := range c.Guard.DemoAccounts {
		id, err := ulid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("demo_account", raw).Wrap(err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// TrustedProxyPrefixes parses http.trusted_proxies. A bare address is a
// single-host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.HTTP.TrustedProxies))
	for _, raw := range c.HTTP.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, oops.Code("CONFIG_INVALID").With("trusted_proxy", raw).Wrap(err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("trusted_proxy", raw).Wrap(err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// LogValue keeps secrets out of logs when a Config is logged directly.
func (c *Config) LogValue() slog.Value {
	r := c.Redacted()
	return slog.GroupValue(
		slog.String("http_addr", r.HTTP.Addr),
		slog.String("database_driver", r.Database.Driver),
		slog.String("database_url", r.Database.URL),
		slog.String("session_strategy", r.Session.Strategy),
		slog.String("challenge_mode", r.Challenge.Mode),
		slog.String("roles_variant", r.Roles.Variant),
	)
}
