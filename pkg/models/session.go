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

import "encoding/json"

// ConnectionState is the lifecycle state of the controller session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateRegistered
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Wire event names exchanged with the controller.
const (
	// outbound
	EventRegisterDevice  = "register_device"
	EventCommandResponse = "command_response"
	EventHeartbeat       = "heartbeat"
	EventStatusUpdate    = "status_update"
	EventNotification    = "notification"

	// inbound
	EventCommand             = "command"
	EventRegistrationSuccess = "registration_success"
	EventRegistrationError   = "registration_error"
	EventHeartbeatResponse   = "heartbeat_response"
)

// Frame is a single event-tagged message on the session transport.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
