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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carverauto/cmdagent/pkg/config"
	"github.com/carverauto/cmdagent/pkg/lifecycle"
	"github.com/carverauto/cmdagent/pkg/version"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the controller and serve commands until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			// Step 1: Load config; the logger is not configured yet.
			cfg, err := config.Load(ctx, opts.configPath, nil)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Step 2: Create logger from loaded config
			agentLogger, err := lifecycle.CreateComponentLogger("agent", &cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			agentLogger.Info().
				Str("config", opts.configPath).
				Str("version", version.GetFullVersion()).
				Bool("custom_server", cfg.IsCustomServer()).
				Msg("Configuration loaded")

			// Step 3: Run until SIGINT/SIGTERM
			return lifecycle.RunAgent(ctx, lifecycle.Options{
				Config:  cfg,
				Version: version.GetVersion(),
				Logger:  agentLogger,
			})
		},
	}
}
