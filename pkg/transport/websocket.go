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
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	closeGracePeriod      = time.Second
	defaultPath           = "/ws"
)

// Config describes how to reach the controller.
type Config struct {
	Host           string
	Port           int
	Secure         bool
	Path           string
	AuthToken      string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// URL returns the websocket endpoint for c.
func (c Config) URL() string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}

	path := c.Path
	if path == "" {
		path = defaultPath
	}

	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   path,
	}

	return u.String()
}

// WebSocket dials the controller over gorilla/websocket.
type WebSocket struct {
	cfg    Config
	dialer *websocket.Dialer
	logger logger.Logger
}

// NewWebSocket builds a websocket Transport for cfg.
func NewWebSocket(cfg Config, log logger.Logger) *WebSocket {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	return &WebSocket{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		logger: log,
	}
}

// Dial opens a new connection. The dial is bounded by the connect timeout and ctx.
func (w *WebSocket) Dial(ctx context.Context) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ConnectTimeout)
	defer cancel()

	headers := http.Header{}
	if w.cfg.AuthToken != "" {
		headers.Set("Authorization", "Bearer "+w.cfg.AuthToken)
	}

	endpoint := w.cfg.URL()

	conn, resp, err := w.dialer.DialContext(ctx, endpoint, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", endpoint, err, resp.Status)
		}

		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	w.logger.Debug().Str("url", endpoint).Msg("WebSocket connection established")

	return newWSConn(conn, w.cfg.WriteTimeout), nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		conn:         conn,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

func (c *wsConn) Send(ctx context.Context, event string, payload interface{}) error {
	if event == "" {
		return ErrEmptyEvent
	}

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	msg, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return c.mapErr(err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return c.mapErr(fmt.Errorf("write %s: %w", event, err))
	}

	return nil
}

func (c *wsConn) Receive() (models.Frame, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return models.Frame{}, c.mapErr(err)
		}

		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			return models.Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}

		if frame.Event == "" {
			return models.Frame{}, fmt.Errorf("%w: missing event", ErrMalformedFrame)
		}

		return frame, nil
	}
}

// Close sends a normal close frame and tears down the socket. Safe to call repeatedly.
func (c *wsConn) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.closed)

		// WriteControl may run concurrently with WriteMessage.
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)

		err = c.conn.Close()
	})

	return err
}

func (c *wsConn) mapErr(err error) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}

	return err
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	var data json.RawMessage

	switch p := payload.(type) {
	case nil:
		data = json.RawMessage("{}")
	case json.RawMessage:
		data = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}

		data = b
	}

	msg, err := json.Marshal(models.Frame{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}

	return msg, nil
}
