/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/carverauto/cmdagent/pkg/config"
)

const redacted = "[redacted]"

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the persisted agent configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(cmd.Context(), opts.configPath, nil)
				if err != nil {
					return err
				}

				if cfg.Server.AuthToken != "" {
					cfg.Server.AuthToken = redacted
				}

				out, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("failed to encode config: %w", err)
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "# server url: %s (custom: %t)\n", cfg.ServerURL(), cfg.IsCustomServer())
				_, err = w.Write(out)

				return err
			},
		},
		&cobra.Command{
			Use:   "set-server <host> <port>",
			Short: "Persist a new controller address",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				port, err := parsePort(args[1])
				if err != nil {
					return err
				}

				return updateFile(cmd, opts.configPath, func(cfg *config.AgentConfig) error {
					return cfg.SetServer(args[0], port)
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Restore the default controller address",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return updateFile(cmd, opts.configPath, func(cfg *config.AgentConfig) error {
					cfg.ResetServer()
					return nil
				})
			},
		},
	)

	return cmd
}

// updateFile edits the file at path without folding environment overrides into it.
func updateFile(cmd *cobra.Command, path string, edit func(*config.AgentConfig) error) error {
	cfg, err := loadFile(cmd.Context(), path)
	if err != nil {
		return err
	}

	if err := edit(cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.Save(path, cfg); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Server set to %s\n", cfg.ServerURL())

	return err
}

func loadFile(ctx context.Context, path string) (*config.AgentConfig, error) {
	cfg := config.Default()

	err := (&config.FileConfigLoader{}).Load(ctx, path, cfg)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	return cfg, nil
}
