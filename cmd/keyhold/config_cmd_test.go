// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/keyhold/internal/config"
	"github.com/holomush/keyhold/pkg/errutil"
)

func TestConfigPrint_RedactsSecrets(t *testing.T) {
	isolateEnv(t)
	t.Setenv("KEYHOLD_DATABASE_URL", "postgres://keyhold:hunter2@db:5432/keyhold")

	out, err := execute(t, nil, "config", "print")
	require.NoError(t, err)
	assert.NotContains(t, out, testSigningKey)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, config.RedactedValue)
	assert.Contains(t, out, "origin: https://app.keyhold.test")
}

func TestConfigPrint_Validate(t *testing.T) {
	isolateEnv(t)
	t.Setenv("KEYHOLD_TOKEN_SIGNING_KEY", "")

	_, err := execute(t, nil, "config", "print", "--validate")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestConfigInit(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "keyhold.yaml")

	out, err := execute(t, nil, "config", "init", "--config", path, "--database-driver", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, cfg.Database.Driver)
	assert.Equal(t, testSigningKey, cfg.Token.SigningKey)

	_, err = execute(t, nil, "config", "init", "--config", path)
	errutil.AssertErrorCode(t, err, "CONFIG_EXISTS")

	_, err = execute(t, nil, "config", "init", "--config", path, "--force")
	require.NoError(t, err)
}

func TestConfigInit_DefaultsToXDG(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, nil, "config", "init")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "keyhold", "config.yaml"))
	assert.NoError(t, err)
}
