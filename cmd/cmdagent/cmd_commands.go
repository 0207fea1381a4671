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
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/carverauto/cmdagent/pkg/capabilities"
	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/hoststatus"
	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/notify"
)

func newCommandsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List every command the agent accepts, grouped by domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			caps, err := registry()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(caps)
			}

			return printRegistry(cmd.OutOrStdout(), caps)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the registry as JSON")

	return cmd
}

func registry() ([]dispatch.Capability, error) {
	log := logger.NewTestLogger()
	d := dispatch.New(log)

	if err := capabilities.Register(d, capabilities.Deps{
		Identity:      models.DeviceIdentity{ID: "local"},
		Host:          hoststatus.NewProvider("", log),
		Notifications: notify.NewStore(),
		Logger:        log,
	}); err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	return d.Capabilities(), nil
}

func printRegistry(w io.Writer, caps []dispatch.Capability) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	domain := ""

	for _, c := range caps {
		if c.Domain != domain {
			if domain != "" {
				fmt.Fprintln(tw)
			}

			domain = c.Domain
			fmt.Fprintf(tw, "%s\n", domain)
		}

		fmt.Fprintf(tw, "  %s\t%s\n", c.Action, c.Description)
	}

	return tw.Flush()
}
