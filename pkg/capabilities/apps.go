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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/logger"
)

const dpkgFormat = "${Package}\t${Version}\t${Status}\t${Priority}\t${Installed-Size}\n"

var packageNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@+:-]*$`)

var systemPriorities = map[string]bool{"required": true, "important": true, "standard": true}

type appManagement struct {
	runner Runner
	logger logger.Logger
}

func newAppManagement(deps Deps) *appManagement {
	return &appManagement{runner: deps.Runner, logger: deps.Logger}
}

func packageHelp(action, desc, requires string) dispatch.Capability {
	return dispatch.Capability{
		Action: action, Domain: dispatch.DomainApps,
		Description: desc,
		Help: dispatch.Help{
			Parameters: map[string]string{"package_name": "package or service name (required)"},
			Requires:   requires,
			Example:    `{"action":"` + action + `","params":{"package_name":"firefox"}}`,
		},
	}
}

func (a *appManagement) entries() []entry {
	unit := func(what, okPrefix string, args ...string) dispatch.HandlerFunc {
		return a.withPackage(func(ctx context.Context, pkg string) dispatch.Result {
			if _, err := a.runner.Run(ctx, "systemctl", append(args, pkg)...); err != nil {
				return dispatch.FailErr(what, err)
			}

			return dispatch.OK(okPrefix+pkg, nil)
		})
	}

	return []entry{
		{
			capability: dispatch.Capability{
				Action: "get_installed_apps", Domain: dispatch.DomainApps,
				Description: "List installed packages",
				Help: dispatch.Help{
					Parameters: map[string]string{"max_apps": "integer 1-10000 (optional, default 100)"},
					Requires:   "dpkg-query or rpm",
					Example:    `{"action":"get_installed_apps","params":{"max_apps":50}}`,
				},
			},
			run: a.installedApps,
		},
		{
			capability: packageHelp("get_app_info", "Report package and service details", "dpkg-query and systemd"),
			run:        a.withPackage(a.appInfo),
		},
		{
			capability: packageHelp("block_app", "Stop a service and mask it so it cannot start", "systemd and root privileges"),
			run:        unit("block app", "App blocked: ", "mask", "--now"),
		},
		{
			capability: packageHelp("unblock_app", "Unmask a blocked service", "systemd and root privileges"),
			run:        unit("unblock app", "App unblocked: ", "unmask"),
		},
		{
			capability: packageHelp("kill_app", "Terminate running processes of a program", "permission to signal the processes"),
			run: a.withPackage(func(ctx context.Context, pkg string) dispatch.Result {
				return a.signal(ctx, pkg, "App terminated: ", (*process.Process).TerminateWithContext)
			}),
		},
		{
			capability: packageHelp("force_stop_app", "Kill running processes of a program immediately", "permission to signal the processes"),
			run: a.withPackage(func(ctx context.Context, pkg string) dispatch.Result {
				return a.signal(ctx, pkg, "App force stopped: ", (*process.Process).KillWithContext)
			}),
		},
		{
			capability: packageHelp("disable_app", "Stop a service and disable it at boot", "systemd and root privileges"),
			run:        unit("disable app", "App disabled: ", "disable", "--now"),
		},
		{
			capability: packageHelp("enable_app", "Enable a service at boot and start it", "systemd and root privileges"),
			run:        unit("enable app", "App enabled: ", "enable", "--now"),
		},
		{
			capability: packageHelp("clear_app_data", "Remove the state, cache and logs of a service", "systemd and root privileges"),
			run:        unit("clear app data", "App data cleared: ", "clean", "--what=state", "--what=cache", "--what=logs"),
		},
		{
			capability: dispatch.Capability{
				Action: "wipe_device", Domain: dispatch.DomainApps,
				Description: "Factory reset the device",
				Help: dispatch.Help{
					Parameters: map[string]string{"wipe_external": "boolean (optional, default false)"},
					Requires:   "device owner privileges",
					Example:    `{"action":"wipe_device","params":{"wipe_external":false}}`,
				},
			},
			run: func(context.Context, string, dispatch.Params) dispatch.Result {
				return unsupported("Device wipe", "device owner privileges")
			},
		},
	}
}

// withPackage validates package_name before calling fn.
func (a *appManagement) withPackage(fn func(ctx context.Context, pkg string) dispatch.Result) dispatch.HandlerFunc {
	return func(ctx context.Context, _ string, p dispatch.Params) dispatch.Result {
		pkg, err := p.RequireString("package_name")
		if err != nil {
			return dispatch.ParamError(err)
		}

		pkg = strings.TrimSpace(pkg)
		if !packageNameRe.MatchString(pkg) {
			return dispatch.Fail("Invalid package_name: %s", pkg)
		}

		return fn(ctx, pkg)
	}
}

type installedApp struct {
	PackageName   string `json:"package_name"`
	AppName       string `json:"app_name"`
	VersionName   string `json:"version_name"`
	IsSystem      bool   `json:"is_system"`
	Enabled       bool   `json:"enabled"`
	InstalledSize int    `json:"installed_size_kb,omitempty"`
}

func (a *appManagement) queryPackages(ctx context.Context, pkg string) ([]installedApp, error) {
	args := []string{"-W", "-f=" + dpkgFormat}
	if pkg != "" {
		args = append(args, pkg)
	}

	out, err := a.runner.Run(ctx, "dpkg-query", args...)
	if errors.Is(err, ErrToolMissing) {
		rpmArgs := []string{"-q", "--qf", "%{NAME}\t%{VERSION}-%{RELEASE}\tinstall ok installed\toptional\t%{SIZE}\n"}
		if pkg == "" {
			rpmArgs = append(rpmArgs, "-a")
		} else {
			rpmArgs = append(rpmArgs, pkg)
		}

		out, err = a.runner.Run(ctx, "rpm", rpmArgs...)
	}

	if err != nil {
		return nil, err
	}

	return parsePackages(out), nil
}

func parsePackages(out []byte) []installedApp {
	var apps []installedApp

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 4 || fields[0] == "" {
			continue
		}

		app := installedApp{
			PackageName: fields[0],
			AppName:     fields[0],
			VersionName: fields[1],
			Enabled:     strings.HasSuffix(fields[2], " installed"),
			IsSystem:    systemPriorities[fields[3]],
		}

		if len(fields) > 4 {
			app.InstalledSize, _ = strconv.Atoi(strings.TrimSpace(fields[4]))
		}

		apps = append(apps, app)
	}

	return apps
}

func (a *appManagement) installedApps(ctx context.Context, _ string, p dispatch.Params) dispatch.Result {
	maxApps, bad := intInRange(p, "max_apps", 100, 1, 10000, "max_apps must be between 1-10000")
	if bad != nil {
		return *bad
	}

	apps, err := a.queryPackages(ctx, "")
	if err != nil {
		return dispatch.FailErr("get installed apps", err)
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].PackageName < apps[j].PackageName })

	total := len(apps)
	system := 0

	for _, app := range apps {
		if app.IsSystem {
			system++
		}
	}

	if len(apps) > maxApps {
		apps = apps[:maxApps]
	}

	return dispatch.OK(fmt.Sprintf("Found %d installed apps", total), map[string]interface{}{
		"apps":        apps,
		"total_apps":  total,
		"user_apps":   total - system,
		"system_apps": system,
	})
}

func (a *appManagement) appInfo(ctx context.Context, pkg string) dispatch.Result {
	apps, err := a.queryPackages(ctx, pkg)
	if err != nil || len(apps) == 0 {
		return dispatch.Fail("App not found: %s", pkg)
	}

	procs := a.matching(ctx, pkg)

	info := map[string]interface{}{
		"package_name":      apps[0].PackageName,
		"app_name":          apps[0].AppName,
		"version_name":      apps[0].VersionName,
		"is_system":         apps[0].IsSystem,
		"enabled":           apps[0].Enabled,
		"installed_size_kb": apps[0].InstalledSize,
		"running_processes": len(procs),
	}

	// is-enabled exits non-zero for disabled or unknown units but still prints the state
	if out, _ := a.runner.Run(ctx, "systemctl", "is-enabled", pkg); len(bytes.TrimSpace(out)) > 0 {
		info["service_state"] = strings.TrimSpace(string(out))
	}

	return dispatch.OK("App info retrieved", info)
}

// matching returns the processes whose name equals pkg.
func (a *appManagement) matching(ctx context.Context, pkg string) []*process.Process {
	procs, err := listProcesses(ctx)
	if err != nil {
		a.logger.Debug().Err(err).Msg("List processes")
		return nil
	}

	var out []*process.Process

	for _, p := range procs {
		if name, err := p.NameWithContext(ctx); err == nil && name == pkg {
			out = append(out, p)
		}
	}

	return out
}

func (a *appManagement) signal(ctx context.Context, pkg, okPrefix string,
	send func(*process.Process, context.Context) error) dispatch.Result {
	procs := a.matching(ctx, pkg)

	signalled := 0

	var errs []error

	for _, p := range procs {
		if err := send(p, ctx); err != nil {
			errs = append(errs, fmt.Errorf("pid %d: %w", p.Pid, err))
			continue
		}

		signalled++
	}

	if signalled == 0 && len(errs) > 0 {
		return dispatch.FailErr("signal "+pkg, errors.Join(errs...))
	}

	return dispatch.OK(okPrefix+pkg, map[string]int{"processes_signalled": signalled})
}
