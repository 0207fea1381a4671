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

package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stub(t *testing.T, info *host.InfoStat, infoErr error) {
	t.Helper()

	origInfo, origName := hostInfo, hostname

	hostInfo = func(context.Context) (*host.InfoStat, error) { return info, infoErr }
	hostname = func() (string, error) { return "bench-01", nil }

	t.Cleanup(func() { hostInfo, hostname = origInfo, origName })
}

func TestResolveFromHostInfo(t *testing.T) {
	stub(t, &host.InfoStat{
		HostID:          "8f0c1d2e-aaaa-bbbb-cccc-0123456789ab",
		Platform:        "ubuntu",
		PlatformVersion: "24.04",
		KernelArch:      "x86_64",
	}, nil)

	id, err := Resolve(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, "8f0c1d2e-aaaa-bbbb-cccc-0123456789ab", id.ID)
	assert.Equal(t, "bench-01", id.DisplayName)
	assert.Equal(t, "ubuntu x86_64", id.Model)
	assert.Equal(t, "24.04", id.OSVersion)
}

func TestResolveFallsBackToStableNameID(t *testing.T) {
	stub(t, nil, errors.New("no host info"))

	first, err := Resolve(context.Background(), Options{})
	require.NoError(t, err)

	second, err := Resolve(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "fallback id must be stable across runs")

	_, err = uuid.Parse(first.ID)
	assert.NoError(t, err)
	assert.Equal(t, "unknown", first.OSVersion)
}

func TestResolveOverrides(t *testing.T) {
	stub(t, &host.InfoStat{HostID: "host-id"}, nil)

	id, err := Resolve(context.Background(), Options{DeviceID: "lab-7", DeviceName: "Lab seven"})
	require.NoError(t, err)

	assert.Equal(t, "lab-7", id.ID)
	assert.Equal(t, "Lab seven", id.DisplayName)
}
