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

package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/carverauto/cmdagent/pkg/config"
	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/session"
	"github.com/carverauto/cmdagent/pkg/transport"
)

var errRefused = errors.New("connection refused")

type refusingTransport struct {
	mu    sync.Mutex
	dials int
}

func (r *refusingTransport) Dial(context.Context) (transport.Conn, error) {
	r.mu.Lock()
	r.dials++
	r.mu.Unlock()

	return nil, errRefused
}

func (r *refusingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.dials
}

type statusLog struct {
	mu       sync.Mutex
	statuses []string
	errs     []string
}

func (s *statusLog) OnStatusChange(status string) {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
}

func (s *statusLog) OnError(description string) {
	s.mu.Lock()
	s.errs = append(s.errs, description)
	s.mu.Unlock()
}

func (s *statusLog) has(status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.statuses {
		if st == status {
			return true
		}
	}

	return false
}

func testConfig(t *testing.T) *config.AgentConfig {
	t.Helper()

	cfg := config.Default()
	cfg.Reconnection = false
	cfg.DataDir = t.TempDir()
	cfg.FilesRoot = t.TempDir()
	cfg.NotificationSpoolDir = filepath.Join(t.TempDir(), "spool")

	return cfg
}

func TestNewAgentRequiresConfig(t *testing.T) {
	_, err := NewAgent(context.Background(), Options{})
	require.ErrorIs(t, err, errConfigRequired)
}

func TestNewAgentWiresCapabilities(t *testing.T) {
	id := models.DeviceIdentity{ID: "dev-1", DisplayName: "bench", Model: "linux amd64", OSVersion: "6.1"}

	cfg := testConfig(t)
	cfg.DeniedActions = []string{"reboot_device"}

	a, err := NewAgent(context.Background(), Options{
		Config:    cfg,
		Identity:  &id,
		Transport: &refusingTransport{},
		Logger:    logger.NewTestLogger(),
	})
	require.NoError(t, err)

	assert.Equal(t, "dev-1", a.Identity.ID)
	assert.Equal(t, "dev-1", a.Session.DeviceID())
	assert.Contains(t, a.Dispatcher.Actions(), "lock_screen")
	assert.Contains(t, a.Dispatcher.Actions(), "get_available_commands")

	resp := a.Dispatcher.Dispatch(context.Background(), &models.CommandEnvelope{
		CommandID: "c-1",
		Action:    "reboot_device",
	})
	assert.False(t, resp.Success)

	require.NoError(t, a.Session.Close(context.Background()))
}

func TestAgentRunUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	id := models.DeviceIdentity{ID: "dev-2", DisplayName: "bench"}
	tr := &refusingTransport{}
	observed := &statusLog{}
	cfg := testConfig(t)

	a, err := NewAgent(context.Background(), Options{
		Config:    cfg,
		Identity:  &id,
		Transport: tr,
		Observers: []session.Observer{observed},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return a.Session.State() == models.StateFailed
	}, 5*time.Second, 10*time.Millisecond)

	ev, err := json.Marshal(models.NotificationEvent{PackageName: "mail", Title: "hello"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(cfg.NotificationSpoolDir)
		return statErr == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.NotificationSpoolDir, "n-1.json"), ev, 0o600))

	require.Eventually(t, func() bool {
		return a.Notifications.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.GreaterOrEqual(t, tr.count(), 1)
	assert.Equal(t, models.StateDisconnected, a.Session.State())
	assert.True(t, observed.has(session.StatusConnecting))
}

func TestCreateComponentLogger(t *testing.T) {
	_, err := CreateComponentLogger("agent", &logger.Config{Level: "loud"})
	require.Error(t, err)

	log, err := CreateComponentLogger("agent", &logger.Config{Level: "warn"})
	require.NoError(t, err)
	assert.NotNil(t, log)

	var buf bytes.Buffer

	base := logger.NewWriterLogger(&buf)
	logger.New(base.WithComponent("session")).Info().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"session"`)
}
