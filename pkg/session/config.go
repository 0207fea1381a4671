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

package session

import "time"

const (
	defaultReconnectionAttempts = 10
	defaultReconnectionDelay    = 2 * time.Second
	defaultHeartbeatInterval    = 30 * time.Second
	defaultRegistrationTimeout  = 30 * time.Second
	defaultCommandTimeout       = 60 * time.Second
	defaultMaxInFlight          = 16
	mirrorTimeout               = 5 * time.Second
)

// Config holds the session policy knobs.
type Config struct {
	Reconnection         bool
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	HeartbeatInterval    time.Duration
	// RegistrationTimeout bounds the wait for a registration verdict. Zero waits forever.
	RegistrationTimeout time.Duration
	CommandTimeout      time.Duration
	MaxInFlightCommands int
	AgentVersion        string
}

// DefaultConfig returns the stock session policy.
func DefaultConfig() Config {
	return Config{
		Reconnection:         true,
		ReconnectionAttempts: defaultReconnectionAttempts,
		ReconnectionDelay:    defaultReconnectionDelay,
		HeartbeatInterval:    defaultHeartbeatInterval,
		RegistrationTimeout:  defaultRegistrationTimeout,
		CommandTimeout:       defaultCommandTimeout,
		MaxInFlightCommands:  defaultMaxInFlight,
	}
}

func (c *Config) normalize() {
	if c.ReconnectionAttempts <= 0 {
		c.ReconnectionAttempts = defaultReconnectionAttempts
	}

	if c.ReconnectionDelay < 0 {
		c.ReconnectionDelay = 0
	}

	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}

	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}

	if c.MaxInFlightCommands <= 0 {
		c.MaxInFlightCommands = defaultMaxInFlight
	}
}
