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

// Package lifecycle assembles the agent and runs it until it is told to stop.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/cmdagent/pkg/capabilities"
	"github.com/carverauto/cmdagent/pkg/config"
	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/hoststatus"
	"github.com/carverauto/cmdagent/pkg/identity"
	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/metrics"
	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/natsutil"
	"github.com/carverauto/cmdagent/pkg/notify"
	"github.com/carverauto/cmdagent/pkg/session"
	"github.com/carverauto/cmdagent/pkg/transport"
)

const defaultShutdownTimeout = 10 * time.Second

var errConfigRequired = errors.New("agent configuration is required")

// Options configures NewAgent. Only Config is required.
type Options struct {
	Config  *config.AgentConfig
	Version string
	Logger  logger.Logger

	// Transport replaces the websocket dialer built from Config.
	Transport transport.Transport
	// Identity replaces the identity computed from the host.
	Identity *models.DeviceIdentity
	// Runner replaces the exec-backed tool runner used by capabilities.
	Runner capabilities.Runner
	// HostRoot relocates /sys lookups for battery and backlight.
	HostRoot  string
	Observers []session.Observer

	ShutdownTimeout time.Duration
}

// Agent is the assembled device agent.
type Agent struct {
	Identity      models.DeviceIdentity
	Dispatcher    *dispatch.Dispatcher
	Session       *session.Manager
	Notifications *notify.Store
	Forwarder     *notify.Forwarder
	Metrics       *metrics.Collector

	cfg             *config.AgentConfig
	logger          logger.Logger
	spool           *notify.SpoolSource
	natsConn        *nats.Conn
	shutdownTimeout time.Duration
}

// NewAgent resolves the device identity and wires the dispatcher, capabilities,
// notification pipeline, metrics and the controller session.
func NewAgent(ctx context.Context, opts Options) (*Agent, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errConfigRequired
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	id, err := resolveIdentity(ctx, cfg, opts.Identity)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		Identity:        id,
		Metrics:         metrics.New(),
		cfg:             cfg,
		logger:          log,
		shutdownTimeout: opts.ShutdownTimeout,
	}

	if a.shutdownTimeout <= 0 {
		a.shutdownTimeout = defaultShutdownTimeout
	}

	a.Notifications = notify.NewStore(
		notify.WithCapacity(cfg.NotificationHistory),
		notify.WithGauge(a.Metrics.NotificationsGauge()),
	)

	dispatchOpts := append(cfg.DispatchOptions(), dispatch.WithRecorder(a.Metrics))
	a.Dispatcher = dispatch.New(logger.New(log.WithComponent("dispatch")), dispatchOpts...)

	host := hoststatus.NewProvider(opts.HostRoot, logger.New(log.WithComponent("hoststatus")))

	if err := capabilities.Register(a.Dispatcher, capabilities.Deps{
		Runner:        opts.Runner,
		Identity:      id,
		Host:          host,
		Notifications: a.Notifications,
		FilesRoot:     cfg.FilesRoot,
		DataDir:       cfg.DataDir,
		Logger:        logger.New(log.WithComponent("capabilities")),
	}); err != nil {
		return nil, fmt.Errorf("register capabilities: %w", err)
	}

	a.Metrics.SetActions(a.Dispatcher.Actions()...)

	sessOpts := []session.Option{
		session.WithConfig(cfg.Session(opts.Version)),
		session.WithLogger(logger.New(log.WithComponent("session"))),
		session.WithMetrics(a.Metrics),
		session.WithObserver(a.logObserver()),
	}

	for _, o := range opts.Observers {
		sessOpts = append(sessOpts, session.WithObserver(o))
	}

	if cfg.MirrorEnabled() {
		pub, nc, err := natsutil.Connect(ctx, cfg.Mirror(), "cmdagent/"+id.ID, logger.New(log.WithComponent("nats")))
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("Event mirror unavailable, continuing without it")
		} else {
			a.natsConn = nc
			sessOpts = append(sessOpts, session.WithEventSink(pub))
		}
	}

	tr := opts.Transport
	if tr == nil {
		tr = transport.NewWebSocket(cfg.Transport(), logger.New(log.WithComponent("transport")))
	}

	a.Session = session.New(tr, a.Dispatcher, id, host, sessOpts...)
	a.Forwarder = notify.NewForwarder(a.Notifications, a.Session, logger.New(log.WithComponent("notify")))

	if cfg.NotificationSpoolDir != "" {
		a.spool = notify.NewSpoolSource(cfg.NotificationSpoolDir, a.Forwarder, logger.New(log.WithComponent("spool")),
			notify.WithTrackLimit(cfg.NotificationHistory))
	}

	return a, nil
}

func resolveIdentity(ctx context.Context, cfg *config.AgentConfig, override *models.DeviceIdentity) (models.DeviceIdentity, error) {
	if override != nil {
		return *override, nil
	}

	id, err := identity.Resolve(ctx, identity.Options{DeviceID: cfg.DeviceID, DeviceName: cfg.DeviceName})
	if err != nil {
		return models.DeviceIdentity{}, fmt.Errorf("resolve device identity: %w", err)
	}

	return id, nil
}

func (a *Agent) logObserver() session.Observer {
	return session.ObserverFuncs{
		Status: func(status string) {
			a.logger.Info().Str("status", status).Msg("Session status changed")
		},
		Error: func(description string) {
			a.logger.Warn().Str("error", description).Msg("Session error")
		},
	}
}

// Run connects to the controller and serves until ctx is done or a background
// service fails, then closes the session.
func (a *Agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return a.Metrics.Serve(gctx, a.cfg.MetricsAddr, a.logger)
		})
	}

	if a.spool != nil {
		g.Go(func() error {
			return a.spool.Run(gctx)
		})
	}

	a.logger.Info().
		Str("device_id", a.Identity.ID).
		Str("server", a.cfg.ServerURL()).
		Int("capabilities", len(a.Dispatcher.Actions())).
		Msg("Starting agent")

	a.Session.Connect()

	<-gctx.Done()

	closeErr := a.shutdown(ctx)
	runErr := g.Wait()

	return errors.Join(runErr, closeErr)
}

func (a *Agent) shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down agent")

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
	defer cancel()

	err := a.Session.Close(sctx)

	if a.natsConn != nil {
		a.natsConn.Close()
	}

	a.logger.Info().Msg("Agent stopped")

	return err
}

// RunAgent builds the agent and runs it until SIGINT or SIGTERM.
func RunAgent(ctx context.Context, opts Options) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := NewAgent(ctx, opts)
	if err != nil {
		return err
	}

	return a.Run(ctx)
}
