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

// Package session owns the controller connection: its state machine, reconnection
// policy, registration handshake, heartbeat and inbound command routing.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/transport"
)

var (
	// ErrNotConnected is returned by Send when no transport connection is open.
	ErrNotConnected = errors.New("session not connected")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("session manager closed")
	// ErrRegistrationRejected reports a registration_error from the controller.
	ErrRegistrationRejected = errors.New("registration rejected by controller")
	// ErrRegistrationTimeout reports a controller that never answered register_device.
	ErrRegistrationTimeout = errors.New("registration timed out")
)

// Human-readable statuses reported to observers.
const (
	StatusConnecting           = "Connecting..."
	StatusRegistering          = "Connected - Registering device..."
	StatusRegistered           = "Registered"
	StatusRegistrationFailed   = "Registration Failed"
	StatusRegistrationTimedOut = "Registration Timed Out"
	StatusConnectionLost       = "Connection Lost - Reconnecting..."
	StatusReconnecting         = "Reconnecting (attempt %d/%d)..."
	StatusFailed               = "Connection Failed - Check Network"
	StatusDisconnected         = "Disconnected"
)

// Manager is the single owner of the controller session.
type Manager struct {
	transport  transport.Transport
	dispatcher Dispatcher
	identity   models.DeviceIdentity
	status     StatusProvider

	cfg       Config
	clock     Clock
	logger    logger.Logger
	sink      EventSink
	metrics   Metrics
	observers []Observer
	notifier  *notifier

	sem      *semaphore.Weighted
	cmdWG    sync.WaitGroup
	baseCtx  context.Context
	shutdown context.CancelFunc

	mu         sync.Mutex
	state      models.ConnectionState
	conn       transport.Conn
	registered bool
	attempts   int
	gen        uint64
	cancel     context.CancelFunc
	runDone    chan struct{}
	closed     bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig replaces the default session policy.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) {
		m.logger = log
	}
}

// WithClock substitutes the time source.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithEventSink mirrors status, notification and command response events to sink.
func WithEventSink(sink EventSink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithMetrics reports session measurements to mt.
func WithMetrics(mt Metrics) Option {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithObserver registers an observer. Observers are fixed at construction.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// New builds a Manager in the Disconnected state. Close must be called to release it.
func New(t transport.Transport, d Dispatcher, id models.DeviceIdentity, status StatusProvider, opts ...Option) *Manager {
	m := &Manager{
		transport:  t,
		dispatcher: d,
		identity:   id,
		status:     status,
		cfg:        DefaultConfig(),
		clock:      realClock{},
		logger:     logger.NewTestLogger(),
		metrics:    nopMetrics{},
		state:      models.StateDisconnected,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.cfg.normalize()
	m.sem = semaphore.NewWeighted(int64(m.cfg.MaxInFlightCommands))
	m.baseCtx, m.shutdown = context.WithCancel(context.Background())
	m.notifier = newNotifier(m.observers, m.logger)

	return m
}

// Connect starts a session if none is active. It is a no-op while Connecting,
// Connected or Registered, and resets the reconnection attempt counter.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	switch m.state {
	case models.StateConnecting, models.StateConnected, models.StateRegistered:
		return
	case models.StateDisconnected, models.StateFailed:
	}

	if m.cancel != nil {
		m.cancel()
	}

	m.gen++
	m.attempts = 0
	m.registered = false

	ctx, cancel := context.WithCancel(m.baseCtx)
	prev := m.runDone
	done := make(chan struct{})

	m.cancel = cancel
	m.runDone = done

	m.setStateLocked(models.StateConnecting, StatusConnecting)

	go m.run(ctx, m.gen, prev, done)
}

// Disconnect closes the transport, stops the heartbeat and suppresses reconnection.
// It returns once every session goroutine has exited.
func (m *Manager) Disconnect() {
	m.mu.Lock()

	cancel, conn, done := m.cancel, m.conn, m.runDone
	m.cancel, m.conn, m.runDone = nil, nil, nil
	m.gen++
	m.registered = false
	m.attempts = 0

	if m.state != models.StateDisconnected {
		m.setStateLocked(models.StateDisconnected, StatusDisconnected)
	}

	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("Error closing transport")
		}
	}

	if done != nil {
		<-done
	}
}

// Close disconnects, waits for in-flight commands (bounded by ctx) and stops observer delivery.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}

	m.closed = true
	m.mu.Unlock()

	m.Disconnect()

	waited := make(chan struct{})

	go func() {
		m.cmdWG.Wait()
		close(waited)
	}()

	var err error

	select {
	case <-waited:
	case <-ctx.Done():
		m.shutdown()
		<-waited

		err = fmt.Errorf("waiting for in-flight commands: %w", ctx.Err())
	}

	m.shutdown()
	m.notifier.stop()

	return err
}

// IsConnected reports whether the transport is open and the controller has
// acknowledged registration.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.conn != nil && m.registered && m.state == models.StateRegistered
}

// State returns the current connection state.
func (m *Manager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// DeviceID returns the identity this session registers with.
func (m *Manager) DeviceID() string {
	return m.identity.ID
}

// Send writes one event on the open connection.
func (m *Manager) Send(ctx context.Context, event string, payload interface{}) error {
	m.mu.Lock()
	conn, closed := m.conn, m.closed
	m.mu.Unlock()

	if closed {
		return ErrClosed
	}

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.Send(ctx, event, payload); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}

	m.mirror(ctx, event, payload)

	return nil
}

func (m *Manager) mirror(ctx context.Context, event string, payload interface{}) {
	if m.sink == nil {
		return
	}

	switch event {
	case models.EventStatusUpdate, models.EventNotification, models.EventCommandResponse:
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()

	if err := m.sink.Publish(ctx, event, payload); err != nil {
		m.logger.Warn().Err(err).Str("event", event).Msg("Failed to mirror event")
	}
}

// setStateLocked records a transition and queues its status notice. Caller holds m.mu.
func (m *Manager) setStateLocked(state models.ConnectionState, status string) {
	if m.state != state {
		m.logger.Info().
			Str("from", m.state.String()).
			Str("to", state.String()).
			Msg("Session state changed")
	}

	m.state = state
	m.metrics.ConnectionState(state)

	if status != "" {
		m.notifier.status(status)
	}
}

// currentLocked reports whether gen is still the live session. Caller holds m.mu.
func (m *Manager) currentLocked(gen uint64) bool {
	return !m.closed && m.gen == gen
}

// run dials, serves and redials until the session ends. prev is the previous run's
// done channel; a new run never overlaps an old one.
func (m *Manager) run(ctx context.Context, gen uint64, prev <-chan struct{}, done chan struct{}) {
	defer close(done)

	if prev != nil {
		<-prev
	}

	for {
		conn, err := m.transport.Dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}

			return
		}

		if err != nil {
			if !m.dialFailed(gen, err) {
				return
			}

			if !m.wait(ctx) {
				return
			}

			continue
		}

		if !m.opened(gen, conn) {
			_ = conn.Close()
			return
		}

		err = m.serve(ctx, gen, conn)
		_ = conn.Close()

		if !m.closedByPeer(gen, err) {
			return
		}

		if !m.wait(ctx) {
			return
		}
	}
}

func (m *Manager) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-m.clock.After(m.cfg.ReconnectionDelay):
		return true
	}
}

// dialFailed counts a failed connection attempt and reports whether to retry.
func (m *Manager) dialFailed(gen uint64, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(gen) {
		return false
	}

	m.attempts++

	m.logger.Warn().
		Err(err).
		Int("attempt", m.attempts).
		Int("budget", m.cfg.ReconnectionAttempts).
		Msg("Connection attempt failed")

	m.notifier.error(fmt.Sprintf("Connection error: %v", err))

	if !m.cfg.Reconnection || m.attempts >= m.cfg.ReconnectionAttempts {
		m.setStateLocked(models.StateFailed, StatusFailed)
		m.logger.Error().Int("attempts", m.attempts).Msg("Reconnection budget exhausted")

		return false
	}

	m.metrics.ReconnectAttempt()
	m.setStateLocked(models.StateConnecting,
		fmt.Sprintf(StatusReconnecting, m.attempts+1, m.cfg.ReconnectionAttempts))

	return true
}

func (m *Manager) opened(gen uint64, conn transport.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(gen) {
		return false
	}

	m.conn = conn
	m.attempts = 0
	m.registered = false
	m.setStateLocked(models.StateConnected, StatusRegistering)

	return true
}

// closedByPeer handles the end of a served connection and reports whether to redial.
func (m *Manager) closedByPeer(gen uint64, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(gen) {
		return false
	}

	m.conn = nil
	m.registered = false

	m.logger.Warn().Err(err).Msg("Controller connection lost")
	m.notifier.error(fmt.Sprintf("Connection lost: %v", err))

	if !m.cfg.Reconnection {
		m.setStateLocked(models.StateDisconnected, StatusDisconnected)
		return false
	}

	m.metrics.ReconnectAttempt()
	m.setStateLocked(models.StateConnecting, StatusConnectionLost)

	return true
}

// serve runs one open connection until it fails or the session is cancelled. The
// handshake watchdog and heartbeat are scoped to the connection and have exited
// when serve returns.
func (m *Manager) serve(ctx context.Context, gen uint64, conn transport.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup

	defer func() {
		cancel()
		wg.Wait()
	}()

	hs := m.startHandshake(connCtx, gen, conn, &wg)

	wg.Add(1)

	go func() {
		defer wg.Done()
		m.heartbeat(connCtx, gen, conn)
	}()

	return m.readLoop(gen, conn, hs)
}

func (m *Manager) readLoop(gen uint64, conn transport.Conn, hs *handshake) error {
	for {
		frame, err := conn.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrMalformedFrame) {
				m.logger.Warn().Err(err).Msg("Dropping malformed frame")
				continue
			}

			return err
		}

		switch frame.Event {
		case models.EventCommand:
			m.acceptCommand(frame.Data)
		case models.EventRegistrationSuccess:
			m.registrationSucceeded(gen, hs)
		case models.EventRegistrationError:
			m.registrationFailed(gen, hs, frame.Data)
		case models.EventHeartbeatResponse:
			m.logger.Debug().Msg("Heartbeat acknowledged")
		default:
			m.logger.Debug().Str("event", frame.Event).Msg("Ignoring unrecognized event")
		}
	}
}
