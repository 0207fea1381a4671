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

package models

// DeviceIdentity describes this device to the controller. It is computed once per process.
type DeviceIdentity struct {
	ID          string `json:"device_id"`
	DisplayName string `json:"device_name"`
	Model       string `json:"device_model"`
	OSVersion   string `json:"os_version"`
}

// RegistrationPayload is the body of register_device.
type RegistrationPayload struct {
	DeviceIdentity
	AgentVersion string `json:"agent_version,omitempty"`
}

// StatusSnapshot is produced fresh on every heartbeat tick.
type StatusSnapshot struct {
	BatteryLevel  int    `json:"battery_level"` // -1 when the device has no battery
	IsCharging    bool   `json:"is_charging"`
	AdminActive   bool   `json:"device_admin_active"`
	ScreenOn      bool   `json:"screen_on"`
	ForegroundApp string `json:"current_app"`
	Timestamp     int64  `json:"timestamp"` // unix milliseconds
}
