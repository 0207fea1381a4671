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

//go:generate mockgen -destination=mock_session.go -package=session github.com/carverauto/cmdagent/pkg/session Clock,Ticker

import (
	"context"
	"time"

	"github.com/carverauto/cmdagent/pkg/models"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Dispatcher executes inbound commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *models.CommandEnvelope) *models.CommandResponse
}

// StatusProvider computes a fresh StatusSnapshot for each heartbeat.
type StatusProvider interface {
	Snapshot(ctx context.Context) models.StatusSnapshot
}

// Observer receives human-readable session status. Calls are made on one dedicated
// goroutine in the order the underlying transitions happened.
type Observer interface {
	OnStatusChange(status string)
	OnError(description string)
}

// ObserverFuncs adapts a pair of functions to Observer. Either may be nil.
type ObserverFuncs struct {
	Status func(status string)
	Error  func(description string)
}

func (o ObserverFuncs) OnStatusChange(status string) {
	if o.Status != nil {
		o.Status(status)
	}
}

func (o ObserverFuncs) OnError(description string) {
	if o.Error != nil {
		o.Error(description)
	}
}

// EventSink mirrors outbound telemetry somewhere other than the controller.
type EventSink interface {
	Publish(ctx context.Context, event string, payload interface{}) error
}

// Metrics receives session-level measurements.
type Metrics interface {
	ConnectionState(state models.ConnectionState)
	ReconnectAttempt()
	Heartbeat()
}

type nopMetrics struct{}

func (nopMetrics) ConnectionState(models.ConnectionState) {}
func (nopMetrics) ReconnectAttempt()                      {}
func (nopMetrics) Heartbeat()                             {}
