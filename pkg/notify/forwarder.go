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

package notify

import (
	"context"
	"fmt"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
)

// Session is the part of the controller session the forwarder needs.
type Session interface {
	IsConnected() bool
	Connect()
	Send(ctx context.Context, event string, payload interface{}) error
	DeviceID() string
}

// Listener receives notification post and remove callbacks from an event source.
type Listener interface {
	Posted(ctx context.Context, ev models.NotificationEvent) error
	Removed(key string) bool
}

// Forwarder records notifications and forwards them to the controller on a
// best-effort basis. Unsent events stay only in the Store.
type Forwarder struct {
	store   *Store
	session Session
	logger  logger.Logger
}

var _ Listener = (*Forwarder)(nil)

// NewForwarder creates a Forwarder over store and sess.
func NewForwarder(store *Store, sess Session, log logger.Logger) *Forwarder {
	return &Forwarder{store: store, session: sess, logger: log}
}

// Posted buffers ev and tries to send it once. When the session is down it first
// asks for a connection; no retry is queued.
func (f *Forwarder) Posted(ctx context.Context, ev models.NotificationEvent) error {
	f.store.Post(ev)

	if !f.session.IsConnected() {
		f.logger.Debug().Str("key", ev.Key).Msg("Session down, requesting connection before forwarding")
		f.session.Connect()
	}

	payload := models.NotificationPayload{
		DeviceID:         f.session.DeviceID(),
		NotificationData: ev.Wire(),
	}

	if err := f.session.Send(ctx, models.EventNotification, payload); err != nil {
		f.logger.Debug().Err(err).Str("key", ev.Key).Msg("Notification kept in buffer only")
		return fmt.Errorf("forward notification %s: %w", ev.Key, err)
	}

	return nil
}

// Removed drops the buffered notification matching key.
func (f *Forwarder) Removed(key string) bool {
	return f.store.Remove(key)
}
