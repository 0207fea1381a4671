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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/transport"
)

var errRefused = errors.New("connection refused")

type sentFrame struct {
	Event string
	Data  json.RawMessage
}

// fakeConn is an in-memory controller connection.
type fakeConn struct {
	inbound chan models.Frame
	sent    chan sentFrame

	mu  sync.Mutex
	log []sentFrame

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan models.Frame, 16),
		sent:    make(chan sentFrame, 256),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(_ context.Context, event string, payload interface{}) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	f := sentFrame{Event: event, Data: data}

	c.mu.Lock()
	c.log = append(c.log, f)
	c.mu.Unlock()

	select {
	case c.sent <- f:
	default:
	}

	return nil
}

func (c *fakeConn) Receive() (models.Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.closed:
		return models.Frame{}, transport.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// push delivers a frame from the controller.
func (c *fakeConn) push(event string, data string) {
	c.inbound <- models.Frame{Event: event, Data: json.RawMessage(data)}
}

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, f := range c.log {
		if f.Event == event {
			n++
		}
	}

	return n
}

// next waits for the next outbound frame with the given event, skipping others.
func (c *fakeConn) next(t *testing.T, event string) sentFrame {
	t.Helper()

	deadline := time.After(2 * time.Second)

	for {
		select {
		case f := <-c.sent:
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame sent", event)
			return sentFrame{}
		}
	}
}

type fakeTransport struct {
	mu    sync.Mutex
	dials int
	fail  bool
	conns chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(chan *fakeConn, 16)}
}

func (f *fakeTransport) Dial(ctx context.Context) (transport.Conn, error) {
	f.mu.Lock()
	f.dials++
	fail := f.fail
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if fail {
		return nil, errRefused
	}

	c := newFakeConn()
	f.conns <- c

	return c, nil
}

func (f *fakeTransport) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.dials
}

func (f *fakeTransport) accept(t *testing.T) *fakeConn {
	t.Helper()

	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("manager never dialed")
		return nil
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
	errs     []string
}

func (r *recordingObserver) OnStatusChange(status string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
}

func (r *recordingObserver) OnError(description string) {
	r.mu.Lock()
	r.errs = append(r.errs, description)
	r.mu.Unlock()
}

func (r *recordingObserver) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.statuses...)
}

func (r *recordingObserver) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.errs...)
}

func (r *recordingObserver) countStatus(status string) int {
	n := 0

	for _, s := range r.Statuses() {
		if s == status {
			n++
		}
	}

	return n
}

type staticStatus struct{ snap models.StatusSnapshot }

func (s staticStatus) Snapshot(context.Context) models.StatusSnapshot { return s.snap }

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Publish(_ context.Context, event string, _ interface{}) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()

	return nil
}

func (s *recordingSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.events...)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
