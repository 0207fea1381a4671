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

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/transport"
)

// handshake tracks the controller's verdict for one connection. Fields are guarded
// by Manager.mu.
type handshake struct {
	settled  bool
	answered chan struct{}
}

func (h *handshake) settleLocked() bool {
	if h.settled {
		return false
	}

	h.settled = true
	close(h.answered)

	return true
}

// startHandshake sends register_device and, when a registration timeout is set,
// starts a watchdog scoped to ctx.
func (m *Manager) startHandshake(ctx context.Context, gen uint64, conn transport.Conn, wg *sync.WaitGroup) *handshake {
	hs := &handshake{answered: make(chan struct{})}

	payload := models.RegistrationPayload{
		DeviceIdentity: m.identity,
		AgentVersion:   m.cfg.AgentVersion,
	}

	if err := conn.Send(ctx, models.EventRegisterDevice, payload); err != nil {
		m.logger.Error().Err(err).Msg("Failed to send device registration")
		m.reportError(gen, fmt.Sprintf("Failed to register device: %v", err))

		return hs
	}

	m.logger.Info().Str("device_id", m.identity.ID).Msg("Device registration sent")

	if m.cfg.RegistrationTimeout <= 0 {
		return hs
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		select {
		case <-ctx.Done():
		case <-hs.answered:
		case <-m.clock.After(m.cfg.RegistrationTimeout):
			m.registrationTimedOut(gen, hs)
		}
	}()

	return hs
}

func (m *Manager) registrationSucceeded(gen uint64, hs *handshake) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(gen) {
		return
	}

	if !hs.settleLocked() {
		m.logger.Debug().Msg("Ignoring repeated registration verdict")
		return
	}

	m.registered = true
	m.logger.Info().Str("device_id", m.identity.ID).Msg("Device registered with controller")
	m.setStateLocked(models.StateRegistered, StatusRegistered)
}

// registrationFailed leaves the session Connected; the transport stays open.
func (m *Manager) registrationFailed(gen uint64, hs *handshake, data json.RawMessage) {
	reason := rejectionReason(data)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(gen) {
		return
	}

	if !hs.settleLocked() {
		m.logger.Debug().Msg("Ignoring repeated registration verdict")
		return
	}

	m.logger.Warn().Str("reason", reason).Msg("Controller rejected device registration")
	m.notifier.status(StatusRegistrationFailed)
	m.notifier.error(fmt.Sprintf("Registration failed: %v: %s", ErrRegistrationRejected, reason))
}

// registrationTimedOut reports a silent controller. A late verdict is still honoured.
func (m *Manager) registrationTimedOut(gen uint64, hs *handshake) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(gen) || hs.settled {
		return
	}

	m.logger.Warn().Dur("timeout", m.cfg.RegistrationTimeout).Msg("No registration verdict from controller")
	m.notifier.status(StatusRegistrationTimedOut)
	m.notifier.error(fmt.Sprintf("Registration timed out: %v after %s", ErrRegistrationTimeout, m.cfg.RegistrationTimeout))
}

func (m *Manager) reportError(gen uint64, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentLocked(gen) {
		m.notifier.error(text)
	}
}

func rejectionReason(data json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}

	if len(data) > 0 && json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}

		if body.Error != "" {
			return body.Error
		}
	}

	return "no reason given"
}
