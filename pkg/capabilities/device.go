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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/hoststatus"
	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
)

const (
	rebootDelay  = 3 * time.Second
	mixerControl = "Master"
)

type deviceControl struct {
	runner   Runner
	host     *hoststatus.Provider
	identity models.DeviceIdentity
	logger   logger.Logger
	reboot   func() error
	schedule func(time.Duration, func()) *time.Timer
}

func newDeviceControl(deps Deps) *deviceControl {
	return &deviceControl{
		runner:   deps.Runner,
		host:     deps.Host,
		identity: deps.Identity,
		logger:   deps.Logger,
		reboot:   rebootHost,
		schedule: time.AfterFunc,
	}
}

func (dc *deviceControl) entries() []entry {
	return []entry{
		{
			capability: dispatch.Capability{
				Action: "lock_screen", Domain: dispatch.DomainDevice,
				Description: "Lock every active user session",
				Help: dispatch.Help{
					Parameters: map[string]string{"duration": "integer minutes, informational (optional)"},
					Requires:   "systemd-logind (loginctl)",
					Example:    `{"action":"lock_screen","params":{"duration":10}}`,
				},
			},
			run: dc.lockScreen,
		},
		{
			capability: dispatch.Capability{
				Action: "unlock_screen", Domain: dispatch.DomainDevice,
				Description: "Unlock every active user session",
				Help: dispatch.Help{
					Requires: "systemd-logind (loginctl)",
					Example:  `{"action":"unlock_screen"}`,
				},
			},
			run: func(ctx context.Context, _ string, _ dispatch.Params) dispatch.Result {
				return runTool(ctx, dc.runner, "unlock screen", "Screen unlocked", "loginctl", "unlock-sessions")
			},
		},
		{
			capability: dispatch.Capability{
				Action: "reboot_device", Domain: dispatch.DomainDevice,
				Description: "Reboot the device after the response is sent",
				Help: dispatch.Help{
					Requires: "root privileges",
					Example:  `{"action":"reboot_device"}`,
				},
			},
			run: dc.rebootDevice,
		},
		{
			capability: dispatch.Capability{
				Action: "set_volume", Domain: dispatch.DomainDevice,
				Description: "Set the master volume",
				Help: dispatch.Help{
					Parameters: map[string]string{"volume": "integer 0-100 (required)"},
					Requires:   "ALSA mixer (amixer)",
					Example:    `{"action":"set_volume","params":{"volume":50}}`,
				},
			},
			run: dc.setVolume,
		},
		{
			capability: dispatch.Capability{
				Action: "mute_device", Domain: dispatch.DomainDevice,
				Description: "Mute the master channel",
				Help: dispatch.Help{
					Requires: "ALSA mixer (amixer)",
					Example:  `{"action":"mute_device"}`,
				},
			},
			run: func(ctx context.Context, _ string, _ dispatch.Params) dispatch.Result {
				return runTool(ctx, dc.runner, "mute device", "Device muted", "amixer", "-q", "sset", mixerControl, "mute")
			},
		},
		{
			capability: dispatch.Capability{
				Action: "unmute_device", Domain: dispatch.DomainDevice,
				Description: "Unmute the master channel",
				Help: dispatch.Help{
					Requires: "ALSA mixer (amixer)",
					Example:  `{"action":"unmute_device"}`,
				},
			},
			run: func(ctx context.Context, _ string, _ dispatch.Params) dispatch.Result {
				return runTool(ctx, dc.runner, "unmute device", "Device unmuted", "amixer", "-q", "sset", mixerControl, "unmute")
			},
		},
		{
			capability: dispatch.Capability{
				Action: "set_brightness", Domain: dispatch.DomainDevice,
				Description: "Set display backlight brightness",
				Help: dispatch.Help{
					Parameters: map[string]string{"brightness": "integer 0-100 (required)"},
					Requires:   "a sysfs backlight device and write access to it",
					Example:    `{"action":"set_brightness","params":{"brightness":70}}`,
				},
			},
			run: dc.setBrightness,
		},
		{
			capability: dispatch.Capability{
				Action: "set_screen_timeout", Domain: dispatch.DomainDevice,
				Description: "Set the screen blanking timeout",
				Help: dispatch.Help{
					Parameters: map[string]string{"timeout_minutes": "integer 0-60, 0 disables blanking (required)"},
					Requires:   "an X display (xset)",
					Example:    `{"action":"set_screen_timeout","params":{"timeout_minutes":5}}`,
				},
			},
			run: dc.setScreenTimeout,
		},
		{
			capability: dispatch.Capability{
				Action: "get_device_info", Domain: dispatch.DomainDevice,
				Description: "Report device identity, platform and hardware summary",
				Help:        dispatch.Help{Example: `{"action":"get_device_info"}`},
			},
			run: dc.deviceInfo,
		},
		{
			capability: dispatch.Capability{
				Action: "get_battery_status", Domain: dispatch.DomainDevice,
				Description: "Report battery level and charging state",
				Help: dispatch.Help{
					Requires: "a sysfs power_supply battery",
					Example:  `{"action":"get_battery_status"}`,
				},
			},
			run: dc.batteryStatus,
		},
	}
}

func (dc *deviceControl) lockScreen(ctx context.Context, _ string, p dispatch.Params) dispatch.Result {
	duration, err := p.Int("duration", 0)
	if err != nil {
		return dispatch.ParamError(err)
	}

	if _, err := dc.runner.Run(ctx, "loginctl", "lock-sessions"); err != nil {
		return dispatch.FailErr("lock screen", err)
	}

	if duration > 0 {
		return dispatch.OK(fmt.Sprintf("Screen locked successfully for %d minutes", duration), nil)
	}

	return dispatch.OK("Screen locked successfully", nil)
}

func (dc *deviceControl) rebootDevice(_ context.Context, _ string, _ dispatch.Params) dispatch.Result {
	if effectiveUID() != 0 {
		return dispatch.Fail("Reboot requires root privileges")
	}

	dc.schedule(rebootDelay, func() {
		if err := dc.reboot(); err != nil {
			dc.logger.Error().Err(err).Msg("Reboot failed")
		}
	})

	dc.logger.Warn().Dur("delay", rebootDelay).Msg("Reboot scheduled by controller")

	return dispatch.OK(fmt.Sprintf("Device will reboot in %s", rebootDelay), nil)
}

func (dc *deviceControl) setVolume(ctx context.Context, _ string, p dispatch.Params) dispatch.Result {
	volume, bad := intInRange(p, "volume", -1, 0, 100, "Volume must be between 0-100")
	if bad != nil {
		return *bad
	}

	if _, err := dc.runner.Run(ctx, "amixer", "-q", "sset", mixerControl, strconv.Itoa(volume)+"%"); err != nil {
		return dispatch.FailErr("set volume", err)
	}

	return dispatch.OK(fmt.Sprintf("Volume set to %d%%", volume), map[string]int{"volume": volume})
}

func (dc *deviceControl) setBrightness(_ context.Context, _ string, p dispatch.Params) dispatch.Result {
	brightness, bad := intInRange(p, "brightness", -1, 0, 100, "Brightness must be between 0-100")
	if bad != nil {
		return *bad
	}

	bl, err := dc.host.Sysfs().SetBrightness(brightness)
	if err != nil {
		if errors.Is(err, hoststatus.ErrNoBacklight) {
			return unsupported("Brightness control", "a backlight device")
		}

		return dispatch.FailErr("set brightness", err)
	}

	return dispatch.OK(fmt.Sprintf("Brightness set to %d%%", brightness), bl)
}

func (dc *deviceControl) setScreenTimeout(ctx context.Context, _ string, p dispatch.Params) dispatch.Result {
	minutes, bad := intInRange(p, "timeout_minutes", -1, 0, 60, "Timeout must be between 0-60 minutes")
	if bad != nil {
		return *bad
	}

	seconds := strconv.Itoa(minutes * 60)

	if _, err := dc.runner.Run(ctx, "xset", "s", seconds, seconds); err != nil {
		return dispatch.FailErr("set screen timeout", err)
	}

	return dispatch.OK(fmt.Sprintf("Screen timeout set to %d minutes", minutes), map[string]int{"timeout_minutes": minutes})
}

type deviceInfo struct {
	models.DeviceIdentity
	Hostname        string `json:"hostname"`
	Platform        string `json:"platform"`
	PlatformFamily  string `json:"platform_family"`
	KernelVersion   string `json:"kernel_version"`
	KernelArch      string `json:"kernel_arch"`
	Virtualization  string `json:"virtualization,omitempty"`
	UptimeSeconds   uint64 `json:"uptime_seconds"`
	BootTime        uint64 `json:"boot_time"`
	LogicalCPUs     int    `json:"logical_cpus"`
	TotalMemory     uint64 `json:"total_memory"`
	AdminPrivileges bool   `json:"admin_privileges"`
}

func (dc *deviceControl) deviceInfo(ctx context.Context, _ string, _ dispatch.Params) dispatch.Result {
	info, err := hostInfo(ctx)
	if err != nil {
		return dispatch.FailErr("get device info", err)
	}

	out := deviceInfo{
		DeviceIdentity:  dc.identity,
		Hostname:        info.Hostname,
		Platform:        info.Platform,
		PlatformFamily:  info.PlatformFamily,
		KernelVersion:   info.KernelVersion,
		KernelArch:      info.KernelArch,
		Virtualization:  info.VirtualizationSystem,
		UptimeSeconds:   info.Uptime,
		BootTime:        info.BootTime,
		AdminPrivileges: effectiveUID() == 0,
	}

	if n, err := cpuCounts(ctx, true); err == nil {
		out.LogicalCPUs = n
	}

	if vm, err := virtualMemory(ctx); err == nil {
		out.TotalMemory = vm.Total
	}

	return dispatch.OK("Device info retrieved", out)
}

func (dc *deviceControl) batteryStatus(_ context.Context, _ string, _ dispatch.Params) dispatch.Result {
	bat, err := dc.host.Sysfs().Battery()
	if errors.Is(err, hoststatus.ErrNoBattery) {
		return dispatch.OK("No battery present", map[string]interface{}{"present": false, "level": -1})
	}

	if err != nil {
		return dispatch.FailErr("read battery status", err)
	}

	return dispatch.OK(fmt.Sprintf("Battery at %d%%", bat.Level), map[string]interface{}{
		"present":     true,
		"level":       bat.Level,
		"status":      bat.Status,
		"is_charging": bat.IsCharging,
		"ac_online":   bat.ACOnline,
		"health":      bat.Health,
		"technology":  bat.Technology,
	})
}
