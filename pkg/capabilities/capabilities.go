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

// Package capabilities implements the device operations behind every dispatchable
// action on a Linux host.
package capabilities

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/hoststatus"
	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/notify"
)

// host probes, replaced in tests
var (
	hostInfo       = host.InfoWithContext
	virtualMemory  = mem.VirtualMemoryWithContext
	swapMemory     = mem.SwapMemoryWithContext
	diskPartitions = disk.PartitionsWithContext
	diskUsage      = disk.UsageWithContext
	cpuCounts      = cpu.CountsWithContext
	loadAvg        = load.AvgWithContext
	netInterfaces  = psnet.InterfacesWithContext
	netIOCounters  = psnet.IOCountersWithContext
	listProcesses  = process.ProcessesWithContext
	effectiveUID   = os.Geteuid
)

// ErrMissingDependency is returned by Register when Deps lacks a required collaborator.
var ErrMissingDependency = errors.New("capability dependency missing")

// Deps are the collaborators shared by the domain handlers.
type Deps struct {
	Runner        Runner
	Identity      models.DeviceIdentity
	Host          *hoststatus.Provider
	Notifications *notify.Store
	// FilesRoot confines every file_management action.
	FilesRoot string
	// DataDir holds recordings, photos and screenshots.
	DataDir string
	Logger  logger.Logger
}

// entry binds one action to its handler.
type entry struct {
	capability dispatch.Capability
	run        dispatch.HandlerFunc
}

type domain interface {
	entries() []entry
}

// Register installs every domain handler into d.
func Register(d *dispatch.Dispatcher, deps Deps) error {
	if deps.Host == nil || deps.Notifications == nil {
		return fmt.Errorf("%w: host status provider and notification store are required", ErrMissingDependency)
	}

	if deps.Runner == nil {
		deps.Runner = ExecRunner{}
	}

	if deps.Logger == nil {
		deps.Logger = logger.NewTestLogger()
	}

	domains := []domain{
		newDeviceControl(deps),
		newNetworkControl(deps),
		newLocation(),
		newMedia(deps),
		newSystemInfo(deps),
		newAppManagement(deps),
		newPersonalData(),
		newNotifications(deps),
		newFileManagement(deps),
	}

	for _, dom := range domains {
		for _, e := range dom.entries() {
			if err := d.Register(e.run, e.capability); err != nil {
				return fmt.Errorf("register %s: %w", e.capability.Action, err)
			}
		}
	}

	return nil
}

// unsupported answers an action the host has no means to perform.
func unsupported(what, requirement string) dispatch.Result {
	return dispatch.Fail("%s is not supported on this host: requires %s", what, requirement)
}

// runTool executes a host utility and maps its outcome onto a Result.
func runTool(ctx context.Context, r Runner, what, okMessage string, name string, args ...string) dispatch.Result {
	if _, err := r.Run(ctx, name, args...); err != nil {
		return dispatch.FailErr(what, err)
	}

	return dispatch.OK(okMessage, nil)
}

// intInRange reads an integer parameter and checks lo <= v <= hi.
func intInRange(p dispatch.Params, key string, def, lo, hi int, rangeMsg string) (int, *dispatch.Result) {
	var (
		v   int
		err error
	)

	if def < lo {
		v, err = p.RequireInt(key)
	} else {
		v, err = p.Int(key, def)
	}

	if err != nil {
		r := dispatch.ParamError(err)
		return 0, &r
	}

	if v < lo || v > hi {
		r := dispatch.Fail("%s", rangeMsg)
		return 0, &r
	}

	return v, nil
}
