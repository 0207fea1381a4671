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

	"github.com/carverauto/cmdagent/pkg/models"
)

// acceptCommand parses a command frame on the read goroutine and hands it to a
// worker. Malformed envelopes cannot be answered and are dropped. The reader never
// waits for a free worker.
func (m *Manager) acceptCommand(data json.RawMessage) {
	env, err := models.ParseCommandEnvelope(data)
	if err != nil {
		m.logger.Warn().Err(err).RawJSON("data", safeRaw(data)).Msg("Dropping malformed command")
		return
	}

	m.cmdWG.Add(1)

	go func() {
		defer m.cmdWG.Done()

		m.execute(env)
	}()
}

// execute waits for a worker slot and runs one command, both under the command
// timeout, then answers on whatever connection is open when it finishes.
func (m *Manager) execute(env *models.CommandEnvelope) {
	ctx, cancel := context.WithTimeout(m.baseCtx, m.cfg.CommandTimeout)
	defer cancel()

	var resp *models.CommandResponse

	if err := m.sem.Acquire(ctx, 1); err != nil {
		if m.baseCtx.Err() != nil {
			m.logger.Warn().
				Str("command_id", env.CommandID).
				Str("action", env.Action).
				Msg("Session ended before command could start")

			return
		}

		m.logger.Warn().
			Err(err).
			Str("command_id", env.CommandID).
			Str("action", env.Action).
			Int("max_in_flight", m.cfg.MaxInFlightCommands).
			Msg("No free worker for command")

		resp = &models.CommandResponse{
			CommandID: env.CommandID,
			Action:    env.Action,
			Message:   fmt.Sprintf("Agent busy: %d commands already running", m.cfg.MaxInFlightCommands),
		}
	} else {
		m.logger.Debug().
			Str("command_id", env.CommandID).
			Str("action", env.Action).
			Msg("Executing command")

		resp = m.dispatcher.Dispatch(ctx, env)
		m.sem.Release(1)
	}

	if err := m.Send(m.baseCtx, models.EventCommandResponse, resp); err != nil {
		m.logger.Warn().
			Err(err).
			Str("command_id", env.CommandID).
			Msg("Command response not delivered")
	}
}

func safeRaw(data json.RawMessage) []byte {
	if json.Valid(data) {
		return data
	}

	return []byte("null")
}
