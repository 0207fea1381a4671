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

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/natsutil"
	"github.com/carverauto/cmdagent/pkg/notify"
	"github.com/carverauto/cmdagent/pkg/session"
	"github.com/carverauto/cmdagent/pkg/transport"
)

const (
	// DefaultServerHost is the controller the agent dials out of the box.
	DefaultServerHost = "10.88.66.40"
	// DefaultServerPort is the controller port the agent dials out of the box.
	DefaultServerPort = 3001

	defaultServerPath           = "/ws"
	defaultConnectTimeout       = 10 * time.Second
	defaultWriteTimeout         = 10 * time.Second
	defaultReconnectionAttempts = 10
	defaultReconnectionDelay    = 2 * time.Second
	defaultHeartbeatInterval    = 30 * time.Second
	defaultRegistrationTimeout  = 30 * time.Second
	defaultCommandTimeout       = 60 * time.Second
	defaultMaxInFlight          = 16
	defaultDedupWindow          = 256
	defaultDataDir              = "/var/lib/cmdagent"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
	errInvalidServer = errors.New("invalid server address")
)

// ServerConfig locates the controller.
type ServerConfig struct {
	Host      string `json:"host" yaml:"host" env:"HOST" validate:"required,hostname_rfc1123"`
	Port      int    `json:"port" yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	Secure    bool   `json:"secure" yaml:"secure" env:"SECURE"`
	Path      string `json:"path" yaml:"path" env:"PATH" validate:"omitempty,startswith=/"`
	AuthToken string `json:"auth_token,omitempty" yaml:"auth_token,omitempty" env:"AUTH_TOKEN"`
}

// NATSConfig enables the JetStream event mirror when URL is set.
type NATSConfig struct {
	URL           string             `json:"url,omitempty" yaml:"url,omitempty" env:"URL" validate:"omitempty,url"`
	Stream        string             `json:"stream,omitempty" yaml:"stream,omitempty" env:"STREAM"`
	SubjectPrefix string             `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty" env:"SUBJECT_PREFIX"`
	Domain        string             `json:"domain,omitempty" yaml:"domain,omitempty" env:"DOMAIN"`
	TLS           natsutil.TLSFiles `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// AgentConfig is the complete runtime configuration of the agent.
type AgentConfig struct {
	Server     ServerConfig `json:"server" yaml:"server" envPrefix:"SERVER_"`
	DeviceID   string       `json:"device_id,omitempty" yaml:"device_id,omitempty" env:"DEVICE_ID"`
	DeviceName string       `json:"device_name,omitempty" yaml:"device_name,omitempty" env:"DEVICE_NAME"`

	ConnectTimeout       models.Duration `json:"connect_timeout" yaml:"connect_timeout" env:"CONNECT_TIMEOUT" validate:"gt=0"`
	WriteTimeout         models.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT" validate:"gte=0"`
	Reconnection         bool            `json:"reconnection" yaml:"reconnection" env:"RECONNECTION"`
	ReconnectionAttempts int             `json:"reconnection_attempts" yaml:"reconnection_attempts" env:"RECONNECTION_ATTEMPTS" validate:"min=1"`
	ReconnectionDelay    models.Duration `json:"reconnection_delay" yaml:"reconnection_delay" env:"RECONNECTION_DELAY" validate:"gte=0"`
	HeartbeatInterval    models.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL" validate:"gt=0"`

	// RegistrationTimeout of zero waits for the controller forever.
	RegistrationTimeout models.Duration `json:"registration_timeout" yaml:"registration_timeout" env:"REGISTRATION_TIMEOUT" validate:"gte=0"`
	CommandTimeout      models.Duration `json:"command_timeout" yaml:"command_timeout" env:"COMMAND_TIMEOUT" validate:"gt=0"`
	MaxInFlightCommands int             `json:"max_in_flight_commands" yaml:"max_in_flight_commands" env:"MAX_IN_FLIGHT_COMMANDS" validate:"min=1"`
	DeniedActions       []string        `json:"denied_actions,omitempty" yaml:"denied_actions,omitempty" env:"DENIED_ACTIONS" envSeparator:","`
	DedupWindow         int             `json:"dedup_window" yaml:"dedup_window" env:"DEDUP_WINDOW" validate:"gte=0"`

	NotificationSpoolDir string `json:"notification_spool_dir,omitempty" yaml:"notification_spool_dir,omitempty" env:"NOTIFICATION_SPOOL_DIR"`
	NotificationHistory  int    `json:"notification_history" yaml:"notification_history" env:"NOTIFICATION_HISTORY" validate:"min=1"`
	DataDir              string `json:"data_dir" yaml:"data_dir" env:"DATA_DIR" validate:"required"`
	FilesRoot            string `json:"files_root,omitempty" yaml:"files_root,omitempty" env:"FILES_ROOT"`
	MetricsAddr          string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty" env:"METRICS_ADDR" validate:"omitempty,hostname_port"`

	NATS    NATSConfig    `json:"nats" yaml:"nats" envPrefix:"NATS_"`
	Logging logger.Config `json:"logging" yaml:"logging" envPrefix:"LOG_"`
}

// Default returns the stock agent configuration.
func Default() *AgentConfig {
	return &AgentConfig{
		Server: ServerConfig{
			Host: DefaultServerHost,
			Port: DefaultServerPort,
			Path: defaultServerPath,
		},
		ConnectTimeout:       models.Duration(defaultConnectTimeout),
		WriteTimeout:         models.Duration(defaultWriteTimeout),
		Reconnection:         true,
		ReconnectionAttempts: defaultReconnectionAttempts,
		ReconnectionDelay:    models.Duration(defaultReconnectionDelay),
		HeartbeatInterval:    models.Duration(defaultHeartbeatInterval),
		RegistrationTimeout:  models.Duration(defaultRegistrationTimeout),
		CommandTimeout:       models.Duration(defaultCommandTimeout),
		MaxInFlightCommands:  defaultMaxInFlight,
		DedupWindow:          defaultDedupWindow,
		NotificationHistory:  notify.DefaultCapacity,
		DataDir:              defaultDataDir,
		Logging:              *logger.DefaultConfig(),
	}
}

// Validate implements Validator.
func (c *AgentConfig) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// SetServer points the agent at a different controller.
func (c *AgentConfig) SetServer(host string, port int) error {
	next := c.Server
	next.Host = host
	next.Port = port

	if err := validator.New().Struct(next); err != nil {
		return fmt.Errorf("%w: %w", errInvalidServer, err)
	}

	c.Server = next

	return nil
}

// ResetServer restores the default controller address.
func (c *AgentConfig) ResetServer() {
	c.Server.Host = DefaultServerHost
	c.Server.Port = DefaultServerPort
}

// IsCustomServer reports whether the controller address differs from the default.
func (c *AgentConfig) IsCustomServer() bool {
	return c.Server.Host != DefaultServerHost || c.Server.Port != DefaultServerPort
}

// ServerURL is the websocket endpoint the agent dials.
func (c *AgentConfig) ServerURL() string {
	return c.Transport().URL()
}

// Transport returns the dialer settings.
func (c *AgentConfig) Transport() transport.Config {
	return transport.Config{
		Host:           c.Server.Host,
		Port:           c.Server.Port,
		Secure:         c.Server.Secure,
		Path:           c.Server.Path,
		AuthToken:      c.Server.AuthToken,
		ConnectTimeout: c.ConnectTimeout.Std(),
		WriteTimeout:   c.WriteTimeout.Std(),
	}
}

// Session returns the connection policy, reporting version at registration.
func (c *AgentConfig) Session(version string) session.Config {
	return session.Config{
		Reconnection:         c.Reconnection,
		ReconnectionAttempts: c.ReconnectionAttempts,
		ReconnectionDelay:    c.ReconnectionDelay.Std(),
		HeartbeatInterval:    c.HeartbeatInterval.Std(),
		RegistrationTimeout:  c.RegistrationTimeout.Std(),
		CommandTimeout:       c.CommandTimeout.Std(),
		MaxInFlightCommands:  c.MaxInFlightCommands,
		AgentVersion:         version,
	}
}

// DispatchOptions returns the command policy options.
func (c *AgentConfig) DispatchOptions() []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithDeniedActions(c.DeniedActions...),
		dispatch.WithDedupWindow(c.DedupWindow),
	}
}

// MirrorEnabled reports whether outbound events are mirrored to NATS.
func (c *AgentConfig) MirrorEnabled() bool {
	return c.NATS.URL != ""
}

// Mirror returns the NATS mirror settings. TLS is used only when a CA file is set.
func (c *AgentConfig) Mirror() natsutil.Config {
	out := natsutil.Config{
		URL:           c.NATS.URL,
		Stream:        c.NATS.Stream,
		SubjectPrefix: c.NATS.SubjectPrefix,
		Domain:        c.NATS.Domain,
	}

	if c.NATS.TLS.CAFile != "" {
		files := c.NATS.TLS
		out.TLS = &files
	}

	return out
}
