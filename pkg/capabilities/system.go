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
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/logger"
)

type systemInfo struct {
	logger logger.Logger
}

func newSystemInfo(deps Deps) *systemInfo {
	return &systemInfo{logger: deps.Logger}
}

func (s *systemInfo) entries() []entry {
	return []entry{
		{
			capability: dispatch.Capability{
				Action: "get_storage_info", Domain: dispatch.DomainSystem,
				Description: "Report capacity and usage of mounted filesystems",
				Help:        dispatch.Help{Example: `{"action":"get_storage_info"}`},
			},
			run: s.storageInfo,
		},
		{
			capability: dispatch.Capability{
				Action: "get_memory_info", Domain: dispatch.DomainSystem,
				Description: "Report physical memory and swap usage",
				Help:        dispatch.Help{Example: `{"action":"get_memory_info"}`},
			},
			run: s.memoryInfo,
		},
		{
			capability: dispatch.Capability{
				Action: "get_usage_stats", Domain: dispatch.DomainSystem,
				Description: "Summarize CPU time of programs started within a period",
				Help: dispatch.Help{
					Parameters: map[string]string{
						"days":     "integer 1-365 (optional, default 1)",
						"max_apps": "integer 1-500 (optional, default 20)",
					},
					Example: `{"action":"get_usage_stats","params":{"days":7}}`,
				},
			},
			run: s.usageStats,
		},
		{
			capability: dispatch.Capability{
				Action: "get_running_processes", Domain: dispatch.DomainSystem,
				Description: "List running processes by CPU usage",
				Help: dispatch.Help{
					Parameters: map[string]string{"limit": "integer 1-1000 (optional, default 20)"},
					Example:    `{"action":"get_running_processes","params":{"limit":10}}`,
				},
			},
			run: s.runningProcesses,
		},
	}
}

type volumeUsage struct {
	Mountpoint        string `json:"mountpoint"`
	Device            string `json:"device"`
	FSType            string `json:"fstype"`
	TotalBytes        uint64 `json:"total_bytes"`
	AvailableBytes    uint64 `json:"available_bytes"`
	UsedBytes         uint64 `json:"used_bytes"`
	TotalReadable     string `json:"total_readable"`
	AvailableReadable string `json:"available_readable"`
	UsedReadable      string `json:"used_readable"`
	UsagePercentage   int    `json:"usage_percentage"`
}

func newVolumeUsage(p disk.PartitionStat, u *disk.UsageStat) volumeUsage {
	return volumeUsage{
		Mountpoint:        p.Mountpoint,
		Device:            p.Device,
		FSType:            p.Fstype,
		TotalBytes:        u.Total,
		AvailableBytes:    u.Free,
		UsedBytes:         u.Used,
		TotalReadable:     humanize.IBytes(u.Total),
		AvailableReadable: humanize.IBytes(u.Free),
		UsedReadable:      humanize.IBytes(u.Used),
		UsagePercentage:   int(u.UsedPercent),
	}
}

func (s *systemInfo) storageInfo(ctx context.Context, _ string, _ dispatch.Params) dispatch.Result {
	parts, err := diskPartitions(ctx, false)
	if err != nil {
		return dispatch.FailErr("get storage info", err)
	}

	volumes := make([]volumeUsage, 0, len(parts))

	var root *volumeUsage

	for _, p := range parts {
		u, err := diskUsage(ctx, p.Mountpoint)
		if err != nil || u.Total == 0 {
			continue
		}

		v := newVolumeUsage(p, u)
		volumes = append(volumes, v)

		if p.Mountpoint == "/" {
			root = &volumes[len(volumes)-1]
		}
	}

	out := map[string]interface{}{"volumes": volumes}
	if root != nil {
		out["internal_storage"] = *root
	}

	return dispatch.OK("Storage info retrieved", out)
}

func (s *systemInfo) memoryInfo(ctx context.Context, _ string, _ dispatch.Params) dispatch.Result {
	vm, err := virtualMemory(ctx)
	if err != nil {
		return dispatch.FailErr("get memory info", err)
	}

	out := map[string]interface{}{
		"system_memory": map[string]interface{}{
			"total_memory":       vm.Total,
			"available_memory":   vm.Available,
			"used_memory":        vm.Total - vm.Available,
			"total_readable":     humanize.IBytes(vm.Total),
			"available_readable": humanize.IBytes(vm.Available),
			"used_readable":      humanize.IBytes(vm.Total - vm.Available),
			"usage_percentage":   int(vm.UsedPercent),
			"low_memory":         vm.Total > 0 && vm.Available*10 < vm.Total,
		},
	}

	if sw, err := swapMemory(ctx); err == nil {
		out["swap"] = map[string]interface{}{
			"total":            sw.Total,
			"used":             sw.Used,
			"free":             sw.Free,
			"usage_percentage": int(sw.UsedPercent),
		}
	}

	return dispatch.OK("Memory info retrieved", out)
}

type programUsage struct {
	AppName          string  `json:"app_name"`
	Executable       string  `json:"package_name"`
	CPUSeconds       float64 `json:"total_time_foreground"`
	CPUReadable      string  `json:"total_time_readable"`
	LastTimeUsed     int64   `json:"last_time_used"`
	FirstTimeStarted int64   `json:"first_time_stamp"`
	Instances        int     `json:"instances"`
}

func (s *systemInfo) usageStats(ctx context.Context, _ string, p dispatch.Params) dispatch.Result {
	days, bad := intInRange(p, "days", 1, 1, 365, "Days must be between 1-365")
	if bad != nil {
		return *bad
	}

	maxApps, bad := intInRange(p, "max_apps", 20, 1, 500, "max_apps must be between 1-500")
	if bad != nil {
		return *bad
	}

	procs, err := listProcesses(ctx)
	if err != nil {
		return dispatch.FailErr("get usage stats", err)
	}

	end := time.Now()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)
	byName := make(map[string]*programUsage)

	for _, proc := range procs {
		created, err := proc.CreateTimeWithContext(ctx)
		if err != nil || created < start.UnixMilli() {
			continue
		}

		name, err := proc.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}

		u, ok := byName[name]
		if !ok {
			exe, _ := proc.ExeWithContext(ctx)
			u = &programUsage{AppName: name, Executable: exe, FirstTimeStarted: created}
			byName[name] = u
		}

		if times, err := proc.TimesWithContext(ctx); err == nil {
			u.CPUSeconds += times.User + times.System
		}

		u.Instances++

		if created > u.LastTimeUsed {
			u.LastTimeUsed = created
		}

		if created < u.FirstTimeStarted {
			u.FirstTimeStarted = created
		}
	}

	usage := make([]programUsage, 0, len(byName))

	var total float64

	for _, u := range byName {
		u.CPUReadable = formatSeconds(u.CPUSeconds)
		total += u.CPUSeconds
		usage = append(usage, *u)
	}

	sort.Slice(usage, func(i, j int) bool {
		if usage[i].CPUSeconds != usage[j].CPUSeconds {
			return usage[i].CPUSeconds > usage[j].CPUSeconds
		}

		return usage[i].AppName < usage[j].AppName
	})

	if len(usage) > maxApps {
		usage = usage[:maxApps]
	}

	return dispatch.OK(fmt.Sprintf("Usage stats retrieved for %d apps", len(usage)), map[string]interface{}{
		"usage_stats":               usage,
		"total_apps":                len(usage),
		"total_usage_time":          total,
		"total_usage_time_readable": formatSeconds(total),
		"period_days":               days,
		"start_time":                start.UnixMilli(),
		"end_time":                  end.UnixMilli(),
	})
}

type processInfo struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	Username   string  `json:"username,omitempty"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
	Status     string  `json:"status,omitempty"`
}

func (s *systemInfo) runningProcesses(ctx context.Context, _ string, p dispatch.Params) dispatch.Result {
	limit, bad := intInRange(p, "limit", 20, 1, 1000, "Limit must be between 1-1000")
	if bad != nil {
		return *bad
	}

	procs, err := listProcesses(ctx)
	if err != nil {
		return dispatch.FailErr("get running processes", err)
	}

	out := make([]processInfo, 0, len(procs))

	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}

		info := processInfo{PID: proc.Pid, Name: name}
		info.Username, _ = proc.UsernameWithContext(ctx)
		info.CPUPercent, _ = proc.CPUPercentWithContext(ctx)

		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			info.MemoryRSS = mi.RSS
		}

		if st, err := proc.StatusWithContext(ctx); err == nil && len(st) > 0 {
			info.Status = st[0]
		}

		out = append(out, info)
	}

	total := len(out)

	sort.Slice(out, func(i, j int) bool {
		if out[i].CPUPercent != out[j].CPUPercent {
			return out[i].CPUPercent > out[j].CPUPercent
		}

		return out[i].PID < out[j].PID
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return dispatch.OK(fmt.Sprintf("Found %d running processes", total), map[string]interface{}{
		"processes":       out,
		"total_processes": total,
	})
}

func formatSeconds(secs float64) string {
	d := time.Duration(secs * float64(time.Second)).Round(time.Second)

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}

	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, sec)
	}

	return fmt.Sprintf("%ds", sec)
}
