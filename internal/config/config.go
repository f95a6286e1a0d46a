// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads keyhold's configuration from defaults, a YAML file,
// KEYHOLD_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/internal/xdg"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEYHOLD_"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Session strategies.
const (
	StrategyRotating = "rotating"
	StrategyCookie   = "cookie"
)

// Hasher algorithms.
const (
	HasherArgon2id = "argon2id"
	HasherBcrypt   = "bcrypt"
)

// Config is the complete keyhold configuration.
type Config struct {
	Log       LogConfig       `koanf:"log" yaml:"log"`
	HTTP      HTTPConfig      `koanf:"http" yaml:"http"`
	GRPC      GRPCConfig      `koanf:"grpc" yaml:"grpc"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics"`
	Database  DatabaseConfig  `koanf:"database" yaml:"database"`
	Token     TokenConfig     `koanf:"token" yaml:"token"`
	Session   SessionConfig   `koanf:"session" yaml:"session"`
	Challenge ChallengeConfig `koanf:"challenge" yaml:"challenge"`
	Hasher    HasherConfig    `koanf:"hasher" yaml:"hasher"`
	Roles     RolesConfig     `koanf:"roles" yaml:"roles"`
	Guard     GuardConfig     `koanf:"guard" yaml:"guard"`
	Mail      MailConfig      `koanf:"mail" yaml:"mail"`
	Assets    AssetsConfig    `koanf:"assets" yaml:"assets"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
	// Origin is the front-end base URL used in emailed links.
	Origin          string `koanf:"origin" yaml:"origin"`
	InsecureCookies bool   `koanf:"insecure_cookies" yaml:"insecure_cookies"`
	// TrustedProxies lists the proxy addresses or CIDRs whose
	// X-Forwarded-For header is believed. Empty means none.
	TrustedProxies []string `koanf:"trusted_proxies" yaml:"trusted_proxies"`
}

// GRPCConfig configures the optional gRPC listener. Empty Addr disables it.
type GRPCConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// MetricsConfig configures the observability listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// DatabaseConfig selects and locates the account store.
type DatabaseConfig struct {
	Driver        string `koanf:"driver" yaml:"driver"`
	URL           string `koanf:"url" yaml:"url"`
	MongoDatabase string `koanf:"mongo_database" yaml:"mongo_database"`
}

// TokenConfig configures credential signing and lifetimes.
type TokenConfig struct {
	SigningKey string        `koanf:"signing_key" yaml:"signing_key"`
	Issuer     string        `koanf:"issuer" yaml:"issuer"`
	AccessTTL  time.Duration `koanf:"access_ttl" yaml:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl" yaml:"refresh_ttl"`
	CookieTTL  time.Duration `koanf:"cookie_ttl" yaml:"cookie_ttl"`
}

// SessionConfig selects the session strategy.
type SessionConfig struct {
	Strategy string `koanf:"strategy" yaml:"strategy"`
}

// ChallengeConfig shapes verification and reset secrets.
type ChallengeConfig struct {
	Mode            string        `koanf:"mode" yaml:"mode"`
	ResetTTL        time.Duration `koanf:"reset_ttl" yaml:"reset_ttl"`
	VerificationTTL time.Duration `koanf:"verification_ttl" yaml:"verification_ttl"`
	TokenBytes      int           `koanf:"token_bytes" yaml:"token_bytes"`
	OTPDigits       int           `koanf:"otp_digits" yaml:"otp_digits"`
}

// HasherConfig selects the password hashing algorithm.
type HasherConfig struct {
	Algorithm     string `koanf:"algorithm" yaml:"algorithm"`
	BcryptCost    int    `koanf:"bcrypt_cost" yaml:"bcrypt_cost"`
	MaxConcurrent int    `koanf:"max_concurrent" yaml:"max_concurrent"`
}

// RolesConfig selects the role variant.
type RolesConfig struct {
	Variant string `koanf:"variant" yaml:"variant"`
}

// GuardConfig configures the permission guard.
type GuardConfig struct {
	// DemoAccounts are account IDs restricted to read-only access.
	DemoAccounts []string `koanf:"demo_accounts" yaml:"demo_accounts"`
}

// MailConfig configures challenge delivery. Without a Postmark token
// messages are logged instead of sent.
type MailConfig struct {
	PostmarkToken string `koanf:"postmark_token" yaml:"postmark_token"`
	From          string `koanf:"from" yaml:"from"`
	BaseURL       string `koanf:"base_url" yaml:"base_url"`
	ProductName   string `koanf:"product_name" yaml:"product_name"`
	MaxRetries    int    `koanf:"max_retries" yaml:"max_retries"`
}

// AssetsConfig locates the object store that holds uploaded files.
// An empty bucket disables remote removal.
type AssetsConfig struct {
	S3Bucket    string `koanf:"s3_bucket" yaml:"s3_bucket"`
	S3Endpoint  string `koanf:"s3_endpoint" yaml:"s3_endpoint"`
	S3Region    string `koanf:"s3_region" yaml:"s3_region"`
	S3AccessKey string `koanf:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key" yaml:"s3_secret_key"`
	S3PathStyle bool   `koanf:"s3_path_style" yaml:"s3_path_style"`
}

// Defaults returns the built-in configuration values keyed by koanf path.
func Defaults() map[string]any {
	return map[string]any{
		"log.format":                 "json",
		"log.level":                  "info",
		"http.addr":                  "127.0.0.1:8080",
		"http.insecure_cookies":      false,
		"metrics.addr":               "127.0.0.1:9100",
		"database.driver":            DriverPostgres,
		"database.mongo_database":    "keyhold",
		"token.issuer":               "keyhold",
		"token.access_ttl":           auth.DefaultAccessTTL.String(),
		"token.refresh_ttl":          auth.DefaultRefreshTTL.String(),
		"token.cookie_ttl":           auth.DefaultCookieTTL.String(),
		"session.strategy":           StrategyRotating,
		"challenge.mode":             string(auth.ChallengeLink),
		"challenge.reset_ttl":        auth.ResetChallengeTTL.String(),
		"challenge.verification_ttl": "0s",
		"challenge.token_bytes":      auth.DefaultTokenBytes,
		"challenge.otp_digits":       auth.DefaultOTPDigits,
		"hasher.algorithm":           HasherArgon2id,
		"hasher.bcrypt_cost":         auth.DefaultBcryptCost,
		"hasher.max_concurrent":      8,
		"roles.variant":              auth.JobBoardRoles.Name,
		"mail.product_name":          "Keyhold",
		"mail.max_retries":           3,
		"assets.s3_region":           "us-east-1",
	}
}

// Load builds the configuration. path names an explicit config file; when
// empty, $XDG_CONFIG_HOME/keyhold/config.yaml is read if it exists. flags
// may be nil; only flags that were set on the command line override.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	return load(path, flags, true)
}

// LoadWithoutFile resolves defaults, the environment and flags, ignoring
// any config file.
func LoadWithoutFile(flags *pflag.FlagSet) (*Config, error) {
	return load("", flags, false)
}

func load(path string, flags *pflag.FlagSet, readFile bool) (*Config, error) {
	k := koanf.New(".")

	for key, value := range Defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if readFile {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey(flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "unmarshal").Wrap(err)
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		def, err := xdg.ConfigFile()
		if err != nil {
			return nil //nolint:nilerr // no home directory means no default file
		}
		path = def
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// envKey maps KEYHOLD_TOKEN_SIGNING_KEY to token.signing_key. The first
// underscore separates the section; the rest belong to the key.
func envKey(name, value string) (string, any) {
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	section, key, found := strings.Cut(name, "_")
	if !found {
		return "", nil
	}
	path := section + "." + key
	if path == "guard.demo_accounts" || path == "http.trusted_proxies" {
		return path, splitList(value)
	}
	return path, value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// flagKey maps --database-url to database.url and --hasher-max-concurrent
// to hasher.max_concurrent. Flags without a section, like --config, are
// skipped.
func flagKey(flags *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		section, key, found := strings.Cut(f.Name, "-")
		if !found {
			return "", nil
		}
		return section + "." + strings.ReplaceAll(key, "-", "_"), posflag.FlagVal(flags, f)
	}
}
