// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/keyhold/internal/config"
	"github.com/holomush/keyhold/internal/xdg"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or seed configuration",
	}

	var validate bool
	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the resolved configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if validate {
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return cfg.WriteYAML(cmd.OutOrStdout())
		},
	}
	printCmd.Flags().BoolVar(&validate, "validate", false, "fail if the resolved configuration is invalid")

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Long: `Write the defaults, overlaid with environment and flags, to the path given by --config, or to
$XDG_CONFIG_HOME/keyhold/config.yaml. Existing files are kept unless --force is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return oops.Code("CONFIG_INVALID").Wrap(err)
			}
			if path == "" {
				if path, err = xdg.ConfigFile(); err != nil {
					return err
				}
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return oops.Code("CONFIG_EXISTS").With("path", path).Errorf("config file already exists")
				} else if !errors.Is(err, fs.ErrNotExist) {
					return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
				}
			}

			cfg, err := config.LoadWithoutFile(cmd.Flags())
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := cfg.WriteTemplate(&buf); err != nil {
				return err
			}
			if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
				return err
			}
			if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
				return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
			}
			cmd.Println("Wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(printCmd, initCmd)
	return cmd
}
