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

// Package hoststatus produces the periodic device status snapshot.
package hoststatus

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
)

const unknownApp = "unknown"

var (
	processesWithContext = process.ProcessesWithContext
	effectiveUID         = os.Geteuid
	now                  = time.Now
)

// Provider computes StatusSnapshots from the local host.
type Provider struct {
	sysfs  Sysfs
	logger logger.Logger
}

// NewProvider creates a Provider reading sysfs under root ("" means /sys).
func NewProvider(root string, log logger.Logger) *Provider {
	return &Provider{sysfs: Sysfs{Root: root}, logger: log}
}

// Sysfs exposes the underlying sysfs reader.
func (p *Provider) Sysfs() Sysfs {
	return p.sysfs
}

// Snapshot implements session.StatusProvider.
func (p *Provider) Snapshot(ctx context.Context) models.StatusSnapshot {
	snap := models.StatusSnapshot{
		BatteryLevel:  -1,
		AdminActive:   effectiveUID() == 0,
		ForegroundApp: p.ForegroundApp(ctx),
		Timestamp:     now().UnixMilli(),
	}

	if bat, err := p.sysfs.Battery(); err == nil {
		snap.BatteryLevel = bat.Level
		snap.IsCharging = bat.IsCharging
	}

	if bl, err := p.sysfs.Backlight(); err == nil {
		snap.ScreenOn = bl.PoweredOn
	}

	return snap
}

// ForegroundApp approximates the foreground application as the busiest
// non-kernel process.
func (p *Provider) ForegroundApp(ctx context.Context) string {
	procs, err := processesWithContext(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Process listing failed")
		return unknownApp
	}

	self := int32(os.Getpid())
	best, bestCPU := unknownApp, -1.0

	for _, proc := range procs {
		if proc.Pid == self {
			continue
		}

		// kthreadd children are kernel threads
		if ppid, err := proc.PpidWithContext(ctx); err != nil || ppid == 2 || proc.Pid == 2 {
			continue
		}

		cpuPct, err := proc.CPUPercentWithContext(ctx)
		if err != nil || cpuPct <= bestCPU {
			continue
		}

		name, err := proc.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}

		best, bestCPU = name, cpuPct
	}

	return best
}
