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

package capabilities

import (
	"context"
	"strings"

	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/logger"
)

type networkControl struct {
	runner Runner
	logger logger.Logger
}

func newNetworkControl(deps Deps) *networkControl {
	return &networkControl{runner: deps.Runner, logger: deps.Logger}
}

func (nc *networkControl) entries() []entry {
	toggle := func(action, desc, what, ok, tool string, args ...string) entry {
		return entry{
			capability: dispatch.Capability{
				Action: action, Domain: dispatch.DomainNetwork,
				Description: desc,
				Help: dispatch.Help{
					Requires: tool,
					Example:  `{"action":"` + action + `"}`,
				},
			},
			run: func(ctx context.Context, _ string, _ dispatch.Params) dispatch.Result {
				return runTool(ctx, nc.runner, what, ok, args[0], args[1:]...)
			},
		}
	}

	return []entry{
		toggle("enable_wifi", "Turn the WiFi radio on", "enable WiFi", "WiFi enabled",
			"NetworkManager (nmcli)", "nmcli", "radio", "wifi", "on"),
		toggle("disable_wifi", "Turn the WiFi radio off", "disable WiFi", "WiFi disabled",
			"NetworkManager (nmcli)", "nmcli", "radio", "wifi", "off"),
		toggle("enable_airplane_mode", "Block every wireless radio", "enable airplane mode", "Airplane mode enabled",
			"rfkill and write access to /dev/rfkill", "rfkill", "block", "all"),
		toggle("disable_airplane_mode", "Unblock every wireless radio", "disable airplane mode", "Airplane mode disabled",
			"rfkill and write access to /dev/rfkill", "rfkill", "unblock", "all"),
		{
			capability: dispatch.Capability{
				Action: "get_network_info", Domain: dispatch.DomainNetwork,
				Description: "Report interfaces, addresses, traffic counters and radio state",
				Help:        dispatch.Help{Example: `{"action":"get_network_info"}`},
			},
			run: nc.networkInfo,
		},
	}
}

type interfaceInfo struct {
	Name         string   `json:"name"`
	MTU          int      `json:"mtu"`
	HardwareAddr string   `json:"hardware_addr,omitempty"`
	Flags        []string `json:"flags"`
	Addresses    []string `json:"addresses"`
	BytesSent    uint64   `json:"bytes_sent"`
	BytesRecv    uint64   `json:"bytes_recv"`
}

type networkInfo struct {
	Interfaces   []interfaceInfo `json:"interfaces"`
	IsConnected  bool            `json:"is_connected"`
	WifiEnabled  *bool           `json:"wifi_enabled,omitempty"`
	AirplaneMode *bool           `json:"airplane_mode,omitempty"`
}

func (nc *networkControl) networkInfo(ctx context.Context, _ string, _ dispatch.Params) dispatch.Result {
	ifaces, err := netInterfaces(ctx)
	if err != nil {
		return dispatch.FailErr("get network info", err)
	}

	counters := make(map[string][2]uint64)

	if stats, err := netIOCounters(ctx, true); err == nil {
		for _, s := range stats {
			counters[s.Name] = [2]uint64{s.BytesSent, s.BytesRecv}
		}
	} else {
		nc.logger.Debug().Err(err).Msg("Interface counters unavailable")
	}

	out := networkInfo{Interfaces: make([]interfaceInfo, 0, len(ifaces))}

	for _, iface := range ifaces {
		info := interfaceInfo{
			Name:         iface.Name,
			MTU:          iface.MTU,
			HardwareAddr: iface.HardwareAddr,
			Flags:        iface.Flags,
			Addresses:    make([]string, 0, len(iface.Addrs)),
			BytesSent:    counters[iface.Name][0],
			BytesRecv:    counters[iface.Name][1],
		}

		for _, a := range iface.Addrs {
			info.Addresses = append(info.Addresses, a.Addr)
		}

		if isUp(iface.Flags) && !isLoopback(iface.Flags) && len(info.Addresses) > 0 {
			out.IsConnected = true
		}

		out.Interfaces = append(out.Interfaces, info)
	}

	if state, err := nc.runner.Run(ctx, "nmcli", "-t", "-f", "WIFI", "radio"); err == nil {
		enabled := strings.TrimSpace(string(state)) == "enabled"
		out.WifiEnabled = &enabled
	}

	if state, err := nc.runner.Run(ctx, "rfkill", "-n", "-o", "SOFT"); err == nil {
		blocked := airplaneMode(string(state))
		out.AirplaneMode = &blocked
	}

	return dispatch.OK("Network info retrieved", out)
}

// airplaneMode reports true when every listed radio is soft blocked.
func airplaneMode(softStates string) bool {
	lines := strings.Fields(softStates)
	if len(lines) == 0 {
		return false
	}

	for _, l := range lines {
		if l != "blocked" {
			return false
		}
	}

	return true
}

func isUp(flags []string) bool {
	for _, f := range flags {
		if f == "up" {
			return true
		}
	}

	return false
}

func isLoopback(flags []string) bool {
	for _, f := range flags {
		if f == "loopback" {
			return true
		}
	}

	return false
}
