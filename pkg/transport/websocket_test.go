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

package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
)

// controller is a minimal websocket peer: it records the upgrade request and hands each
// server-side connection to the test.
type controller struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	auth  chan string
}

func newController(t *testing.T) *controller {
	t.Helper()

	c := &controller{
		conns: make(chan *websocket.Conn, 1),
		auth:  make(chan string, 1),
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}

		c.auth <- r.Header.Get("Authorization")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		c.conns <- conn
	}))

	t.Cleanup(c.srv.Close)

	return c
}

func (c *controller) config(t *testing.T) Config {
	t.Helper()

	u, err := url.Parse(c.srv.URL)
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return Config{Host: host, Port: port, ConnectTimeout: 2 * time.Second}
}

func (c *controller) accept(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case conn := <-c.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("controller never accepted a connection")
		return nil
	}
}

func TestConfigURL(t *testing.T) {
	assert.Equal(t, "ws://10.0.0.5:3000/ws", Config{Host: "10.0.0.5", Port: 3000}.URL())
	assert.Equal(t, "wss://ctl.example.com:443/agent", Config{Host: "ctl.example.com", Port: 443, Secure: true, Path: "/agent"}.URL())
	assert.Equal(t, "ws://[::1]:8080/ws", Config{Host: "::1", Port: 8080}.URL())
}

func TestWebSocket_RoundTrip(t *testing.T) {
	ctl := newController(t)
	cfg := ctl.config(t)
	cfg.AuthToken = "s3cret"

	conn, err := NewWebSocket(cfg, logger.NewTestLogger()).Dial(context.Background())
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	assert.Equal(t, "Bearer s3cret", <-ctl.auth)

	peer := ctl.accept(t)

	require.NoError(t, conn.Send(context.Background(), models.EventRegisterDevice, models.DeviceIdentity{
		ID:          "dev-1",
		DisplayName: "lab-host",
		Model:       "linux amd64",
		OSVersion:   "6.1",
	}))

	_, raw, err := peer.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "register_device", got.Event)
	assert.Equal(t, "dev-1", got.Data["device_id"])
	assert.Equal(t, "lab-host", got.Data["device_name"])

	require.NoError(t, peer.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"command","data":{"commandId":"c1","action":"lock_screen"}}`)))

	frame, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, models.EventCommand, frame.Event)

	env, err := models.ParseCommandEnvelope(frame.Data)
	require.NoError(t, err)
	assert.Equal(t, "c1", env.CommandID)
}

func TestWebSocket_NilPayloadIsEmptyObject(t *testing.T) {
	ctl := newController(t)

	conn, err := NewWebSocket(ctl.config(t), logger.NewTestLogger()).Dial(context.Background())
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	<-ctl.auth
	peer := ctl.accept(t)

	require.NoError(t, conn.Send(context.Background(), models.EventHeartbeat, nil))

	_, raw, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"heartbeat","data":{}}`, string(raw))

	assert.ErrorIs(t, conn.Send(context.Background(), "", nil), ErrEmptyEvent)
}

func TestWebSocket_MalformedFrameKeepsConnection(t *testing.T) {
	ctl := newController(t)

	conn, err := NewWebSocket(ctl.config(t), logger.NewTestLogger()).Dial(context.Background())
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	<-ctl.auth
	peer := ctl.accept(t)

	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)))
	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(`{"event":"heartbeat_response","data":{}}`)))

	_, err = conn.Receive()
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = conn.Receive()
	require.ErrorIs(t, err, ErrMalformedFrame)

	frame, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, models.EventHeartbeatResponse, frame.Event)
}

func TestWebSocket_CloseUnblocksReceive(t *testing.T) {
	ctl := newController(t)

	conn, err := NewWebSocket(ctl.config(t), logger.NewTestLogger()).Dial(context.Background())
	require.NoError(t, err)

	<-ctl.auth
	ctl.accept(t)

	errs := make(chan error, 1)

	go func() {
		_, err := conn.Receive()
		errs <- err
	}()

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after Close")
	}

	assert.ErrorIs(t, conn.Send(context.Background(), models.EventHeartbeat, nil), ErrClosed)
}

func TestWebSocket_DialFailure(t *testing.T) {
	ctl := newController(t)
	cfg := ctl.config(t)
	cfg.Path = "/nope"

	_, err := NewWebSocket(cfg, logger.NewTestLogger()).Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
