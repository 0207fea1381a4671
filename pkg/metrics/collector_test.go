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

package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/notify"
)

func TestObserveCommand(t *testing.T) {
	c := New(WithActions("lock_screen", "set_volume"))

	c.ObserveCommand("lock_screen", true, 20*time.Millisecond)
	c.ObserveCommand("lock_screen", false, time.Second)
	c.ObserveCommand("made_up_action", false, 0)

	assert.InDelta(t, 1, testutil.ToFloat64(c.commands.WithLabelValues("lock_screen", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.commands.WithLabelValues("lock_screen", "failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.commands.WithLabelValues("other", "failure")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(c.durations))
}

func TestSessionMetrics(t *testing.T) {
	c := New()

	c.ConnectionState(models.StateRegistered)
	c.ReconnectAttempt()
	c.ReconnectAttempt()
	c.Heartbeat()

	assert.InDelta(t, 3, testutil.ToFloat64(c.state), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.reconnects), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.heartbeats), 0)

	c.ConnectionState(models.StateFailed)
	assert.InDelta(t, 4, testutil.ToFloat64(c.state), 0)
}

func TestNotificationGaugeTracksStore(t *testing.T) {
	c := New()
	store := notify.NewStore(notify.WithCapacity(2), notify.WithGauge(c.NotificationsGauge()))

	for _, key := range []string{"a", "b", "c"} {
		store.Post(models.NotificationEvent{Key: key})
	}

	assert.InDelta(t, 2, testutil.ToFloat64(c.buffered), 0)

	store.Clear()
	assert.InDelta(t, 0, testutil.ToFloat64(c.buffered), 0)
}

func TestHandlerExposesAgentMetrics(t *testing.T) {
	c := New()
	c.Heartbeat()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "cmdagent_heartbeats_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	c := New()

	go func() { done <- c.Serve(ctx, addr, logger.NewTestLogger()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}

		defer resp.Body.Close()

		b, _ := io.ReadAll(resp.Body)

		return strings.Contains(string(b), "cmdagent_connection_state")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
