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

// Package transport carries event-tagged frames between the agent and its controller.
package transport

import (
	"context"
	"errors"

	"github.com/carverauto/cmdagent/pkg/models"
)

var (
	// ErrClosed is returned by Send and Receive once the connection has been closed.
	ErrClosed = errors.New("transport connection closed")
	// ErrMalformedFrame is returned by Receive for a message that is not a valid frame.
	// The connection remains usable.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrEmptyEvent is returned when sending a frame without an event name.
	ErrEmptyEvent = errors.New("frame event name is empty")
)

// Transport opens connections to the controller.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one open connection. Send may be called from any goroutine; Receive is
// called from a single reader. Close unblocks a pending Receive.
type Conn interface {
	Send(ctx context.Context, event string, payload interface{}) error
	Receive() (models.Frame, error)
	Close() error
}
