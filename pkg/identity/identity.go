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

// Package identity computes the DeviceIdentity reported at registration.
package identity

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/carverauto/cmdagent/pkg/models"
)

var (
	hostInfo = host.InfoWithContext
	hostname = os.Hostname
)

// agentNamespace scopes name-based device ids to this agent.
var agentNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("cmdagent.carverauto.dev"))

// Options override computed identity fields.
type Options struct {
	DeviceID   string
	DeviceName string
}

// Resolve computes the identity of this host. Call it once per process.
func Resolve(ctx context.Context, opts Options) (models.DeviceIdentity, error) {
	name, err := hostname()
	if err != nil {
		return models.DeviceIdentity{}, fmt.Errorf("resolve hostname: %w", err)
	}

	id := models.DeviceIdentity{
		ID:          opts.DeviceID,
		DisplayName: name,
		Model:       runtime.GOOS + " " + runtime.GOARCH,
		OSVersion:   "unknown",
	}

	info, err := hostInfo(ctx)
	if err == nil && info != nil {
		if info.Platform != "" {
			id.Model = strings.TrimSpace(info.Platform + " " + info.KernelArch)
		}

		if info.PlatformVersion != "" {
			id.OSVersion = info.PlatformVersion
		} else if info.KernelVersion != "" {
			id.OSVersion = info.KernelVersion
		}

		if id.ID == "" && info.HostID != "" {
			id.ID = info.HostID
		}
	}

	if id.ID == "" {
		id.ID = uuid.NewSHA1(agentNamespace, []byte(name)).String()
	}

	if opts.DeviceName != "" {
		id.DisplayName = opts.DeviceName
	}

	return id, nil
}
