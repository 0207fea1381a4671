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

	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/transport"
)

// heartbeat ticks until ctx is cancelled. There is one loop per served connection and
// connections are served one at a time, so at most one loop is ever active.
func (m *Manager) heartbeat(ctx context.Context, gen uint64, conn transport.Conn) {
	ticker := m.clock.Ticker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	m.logger.Debug().Dur("interval", m.cfg.HeartbeatInterval).Msg("Heartbeat started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug().Msg("Heartbeat stopped")
			return
		case <-ticker.Chan():
			m.beat(ctx, gen, conn)
		}
	}
}

func (m *Manager) beat(ctx context.Context, gen uint64, conn transport.Conn) {
	m.mu.Lock()
	live := m.currentLocked(gen) && m.conn == conn &&
		(m.state == models.StateConnected || m.state == models.StateRegistered)
	m.mu.Unlock()

	if !live || ctx.Err() != nil {
		return
	}

	if err := conn.Send(ctx, models.EventHeartbeat, struct{}{}); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to send heartbeat")
		return
	}

	m.metrics.Heartbeat()

	if m.status == nil {
		return
	}

	snap := m.status.Snapshot(ctx)

	if err := conn.Send(ctx, models.EventStatusUpdate, snap); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to send status update")
		return
	}

	m.mirror(ctx, models.EventStatusUpdate, snap)

	m.logger.Debug().
		Time("at", m.clock.Now()).
		Int("battery_level", snap.BatteryLevel).
		Msg("Heartbeat sent")
}
