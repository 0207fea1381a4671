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

// Package metrics exposes agent measurements to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
)

const (
	namespace       = "cmdagent"
	otherAction     = "other"
	shutdownTimeout = 5 * time.Second
)

// Collector implements dispatch.Recorder and session.Metrics on a private registry.
type Collector struct {
	registry   *prometheus.Registry
	commands   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	reconnects prometheus.Counter
	state      prometheus.Gauge
	buffered   prometheus.Gauge
	heartbeats prometheus.Counter

	mu    sync.RWMutex
	known map[string]struct{}
}

// Option configures a Collector.
type Option func(*Collector)

// WithActions bounds the action label to the given names; anything else is
// reported as "other".
func WithActions(actions ...string) Option {
	return func(c *Collector) {
		c.SetActions(actions...)
	}
}

// New creates a Collector with Go runtime and process collectors attached.
func New(opts ...Option) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed by action and result",
		}, []string{"action", "result"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution time in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60},
		}, []string{"action"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Failed connection attempts that consumed reconnection budget",
		}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Session state: 0 disconnected, 1 connecting, 2 connected, 3 registered, 4 failed",
		}),
		buffered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_buffered",
			Help:      "Notifications currently held in the history buffer",
		}),
		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent to the controller",
		}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetActions replaces the set of actions reported under their own label value.
func (c *Collector) SetActions(actions ...string) {
	known := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		known[a] = struct{}{}
	}

	c.mu.Lock()
	c.known = known
	c.mu.Unlock()
}

func (c *Collector) label(action string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.known == nil {
		return action
	}

	if _, ok := c.known[action]; ok {
		return action
	}

	return otherAction
}

// ObserveCommand records one command outcome.
func (c *Collector) ObserveCommand(action string, success bool, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}

	action = c.label(action)

	c.commands.WithLabelValues(action, result).Inc()
	c.durations.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ConnectionState records the current session state.
func (c *Collector) ConnectionState(s models.ConnectionState) {
	c.state.Set(float64(s))
}

// ReconnectAttempt counts one failed connection attempt.
func (c *Collector) ReconnectAttempt() {
	c.reconnects.Inc()
}

// Heartbeat counts one heartbeat.
func (c *Collector) Heartbeat() {
	c.heartbeats.Inc()
}

// NotificationsGauge is the gauge the notification store reports its length to.
func (c *Collector) NotificationsGauge() prometheus.Gauge {
	return c.buffered
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")

		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}

		<-errCh

		return nil
	}
}
