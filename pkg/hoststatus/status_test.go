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

package hoststatus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/cmdagent/pkg/logger"
)

func writeAttr(t *testing.T, root, rel, value string) {
	t.Helper()

	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(value+"\n"), 0o644))
}

func laptopSysfs(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	writeAttr(t, root, "class/power_supply/AC/type", "Mains")
	writeAttr(t, root, "class/power_supply/AC/online", "1")
	writeAttr(t, root, "class/power_supply/BAT0/type", "Battery")
	writeAttr(t, root, "class/power_supply/BAT0/capacity", "73")
	writeAttr(t, root, "class/power_supply/BAT0/status", "Charging")
	writeAttr(t, root, "class/power_supply/BAT0/health", "Good")
	writeAttr(t, root, "class/backlight/intel_backlight/brightness", "600")
	writeAttr(t, root, "class/backlight/intel_backlight/max_brightness", "1200")
	writeAttr(t, root, "class/backlight/intel_backlight/bl_power", "0")

	return root
}

func stubHost(t *testing.T, uid int) {
	t.Helper()

	origProcs, origUID, origNow := processesWithContext, effectiveUID, now

	processesWithContext = func(context.Context) ([]*process.Process, error) {
		return nil, errors.New("procfs unavailable")
	}
	effectiveUID = func() int { return uid }
	now = func() time.Time { return time.UnixMilli(1700000000123) }

	t.Cleanup(func() {
		processesWithContext, effectiveUID, now = origProcs, origUID, origNow
	})
}

func TestSnapshotOnLaptop(t *testing.T) {
	stubHost(t, 0)

	snap := NewProvider(laptopSysfs(t), logger.NewTestLogger()).Snapshot(context.Background())

	assert.Equal(t, 73, snap.BatteryLevel)
	assert.True(t, snap.IsCharging)
	assert.True(t, snap.AdminActive)
	assert.True(t, snap.ScreenOn)
	assert.Equal(t, "unknown", snap.ForegroundApp)
	assert.Equal(t, int64(1700000000123), snap.Timestamp)
}

func TestSnapshotOnHeadlessServer(t *testing.T) {
	stubHost(t, 1000)

	snap := NewProvider(t.TempDir(), logger.NewTestLogger()).Snapshot(context.Background())

	assert.Equal(t, -1, snap.BatteryLevel)
	assert.False(t, snap.IsCharging)
	assert.False(t, snap.AdminActive)
	assert.False(t, snap.ScreenOn)
}

func TestBatteryDischarging(t *testing.T) {
	root := t.TempDir()
	writeAttr(t, root, "class/power_supply/BAT1/type", "Battery")
	writeAttr(t, root, "class/power_supply/BAT1/capacity", "12")
	writeAttr(t, root, "class/power_supply/BAT1/status", "Discharging")

	bat, err := Sysfs{Root: root}.Battery()
	require.NoError(t, err)
	assert.Equal(t, "BAT1", bat.Name)
	assert.Equal(t, 12, bat.Level)
	assert.False(t, bat.IsCharging)
	assert.False(t, bat.ACOnline)

	_, err = Sysfs{Root: t.TempDir()}.Battery()
	assert.ErrorIs(t, err, ErrNoBattery)
}

func TestSetBrightness(t *testing.T) {
	root := laptopSysfs(t)
	fs := Sysfs{Root: root}

	bl, err := fs.SetBrightness(25)
	require.NoError(t, err)
	assert.Equal(t, 300, bl.Brightness)

	data, err := os.ReadFile(filepath.Join(root, "class/backlight/intel_backlight/brightness"))
	require.NoError(t, err)
	assert.Equal(t, "300", string(data))

	_, err = Sysfs{Root: t.TempDir()}.SetBrightness(50)
	assert.ErrorIs(t, err, ErrNoBacklight)
}
