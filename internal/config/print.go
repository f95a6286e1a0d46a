// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"io"
	"net/url"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// RedactedValue replaces secrets in printed or logged configuration.
const RedactedValue = "[REDACTED]"

// Redacted returns a copy with every secret replaced.
func (c *Config) Redacted() Config {
	out := *c
	out.Guard.DemoAccounts = append([]string(nil), c.Guard.DemoAccounts...)
	redact := func(s *string) {
		if *s != "" {
			*s = RedactedValue
		}
	}
	redact(&out.Token.SigningKey)
	redact(&out.Mail.PostmarkToken)
	redact(&out.Assets.S3SecretKey)
	out.Database.URL = redactURL(c.Database.URL)
	return out
}

// redactURL hides a password embedded in a connection string.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return RedactedValue
	}
	return u.Redacted()
}

// WriteYAML renders the redacted configuration as YAML.
func (c *Config) WriteYAML(w io.Writer) error {
	return encodeYAML(w, c.Redacted())
}

// WriteTemplate renders the configuration unredacted, for seeding a
// config file.
func (c *Config) WriteTemplate(w io.Writer) error {
	return encodeYAML(w, *c)
}

func encodeYAML(w io.Writer, c Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return oops.Code("CONFIG_PRINT_FAILED").Wrap(err)
	}
	if err := enc.Close(); err != nil {
		return oops.Code("CONFIG_PRINT_FAILED").Wrap(err)
	}
	return nil
}
