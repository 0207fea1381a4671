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

// Package dispatch routes controller commands to capability handlers.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
)

const (
	ActionAvailableCommands = "get_available_commands"
	ActionCommandHelp       = "get_command_help"
)

// Dispatcher is the routing table from action name to Handler.
type Dispatcher struct {
	mu       sync.RWMutex
	routes   map[string]route
	denied   map[string]struct{}
	recent   *idWindow
	recorder Recorder
	logger   logger.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDeniedActions refuses the named actions while keeping them registered.
func WithDeniedActions(actions ...string) Option {
	return func(d *Dispatcher) {
		for _, a := range actions {
			d.denied[a] = struct{}{}
		}
	}
}

// WithDedupWindow suppresses re-execution of the last size command ids. Zero disables it.
func WithDedupWindow(size int) Option {
	return func(d *Dispatcher) {
		d.recent = newIDWindow(size)
	}
}

// WithRecorder reports command outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// New builds a Dispatcher holding only the two meta-operations.
func New(log logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		routes:   make(map[string]route),
		denied:   make(map[string]struct{}),
		recorder: nopRecorder{},
		logger:   log,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.MustRegister(HandlerFunc(d.executeMeta), metaCapabilities()...)

	return d
}

// Dispatch executes env and always returns a response correlated by CommandID.
func (d *Dispatcher) Dispatch(ctx context.Context, env *models.CommandEnvelope) *models.CommandResponse {
	if d.recent.observe(env.CommandID) {
		d.logger.Warn().
			Str("command_id", env.CommandID).
			Str("action", env.Action).
			Msg("Duplicate command id, not re-executing")

		return Fail("Duplicate command: %s", env.CommandID).Response(env)
	}

	d.mu.RLock()
	r, ok := d.routes[env.Action]
	_, denied := d.denied[env.Action]
	d.mu.RUnlock()

	if !ok {
		d.logger.Warn().Str("command_id", env.CommandID).Str("action", env.Action).Msg("Unknown command")
		d.recorder.ObserveCommand(env.Action, false, 0)

		return Fail("Unknown command: %s", env.Action).Response(env)
	}

	if denied {
		d.logger.Warn().Str("command_id", env.CommandID).Str("action", env.Action).Msg("Command denied by policy")
		d.recorder.ObserveCommand(env.Action, false, 0)

		return Fail("Command disabled by policy: %s", env.Action).Response(env)
	}

	start := time.Now()
	result := d.encodable(env, d.invoke(ctx, r.handler, env))
	elapsed := time.Since(start)

	d.recorder.ObserveCommand(env.Action, result.Success, elapsed)

	d.logger.Info().
		Str("command_id", env.CommandID).
		Str("action", env.Action).
		Bool("success", result.Success).
		Dur("elapsed", elapsed).
		Msg("Command executed")

	return result.Response(env)
}

// invoke runs the handler on its own goroutine so a panic or a handler that ignores
// ctx still yields a result at this boundary.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, env *models.CommandEnvelope) Result {
	done := make(chan Result, 1)
	start := time.Now()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error().
					Str("command_id", env.CommandID).
					Str("action", env.Action).
					Interface("panic", p).
					Msg("Capability handler panicked")

				done <- Fail("Command execution failed: %v", p)
			}
		}()

		done <- h.Execute(ctx, env.Action, Params(env.Params))
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		go d.abandoned(env, start, done)

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Fail("Command timed out: %s", env.Action)
		}

		return Fail("Command cancelled: %v", ctx.Err())
	}
}

// abandoned logs a handler that outlived its command once it finally returns.
func (d *Dispatcher) abandoned(env *models.CommandEnvelope, start time.Time, done <-chan Result) {
	res := <-done

	d.logger.Warn().
		Str("command_id", env.CommandID).
		Str("action", env.Action).
		Bool("success", res.Success).
		Dur("elapsed", time.Since(start)).
		Msg("Abandoned capability handler returned")
}

// encodable turns a result whose data cannot be put on the wire into a failure, so
// every command still gets a response.
func (d *Dispatcher) encodable(env *models.CommandEnvelope, r Result) Result {
	if r.Data == nil {
		return r
	}

	if _, err := json.Marshal(r.Data); err != nil {
		d.logger.Error().
			Err(err).
			Str("command_id", env.CommandID).
			Str("action", env.Action).
			Msg("Capability result is not encodable")

		return Fail("Command execution failed: %v", err)
	}

	return r
}

func metaCapabilities() []Capability {
	return []Capability{
		{
			Action:      ActionAvailableCommands,
			Domain:      DomainMeta,
			Description: "List every command this agent accepts, grouped by domain",
			Help: Help{
				Example: `{"action":"get_available_commands"}`,
			},
		},
		{
			Action:      ActionCommandHelp,
			Domain:      DomainMeta,
			Description: "Describe the parameters and requirements of one command",
			Help: Help{
				Parameters: map[string]string{"command": "name of the command to describe (required)"},
				Example:    `{"action":"get_command_help","params":{"command":"lock_screen"}}`,
			},
		},
	}
}

type commandSummary struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// AvailableCommands is the result of get_available_commands.
type AvailableCommands struct {
	Total   int                         `json:"total"`
	Domains map[string][]commandSummary `json:"domains"`
}

// CommandHelp is the result of get_command_help.
type CommandHelp struct {
	Command     string            `json:"command"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters"`
	Requires    string            `json:"requires"`
	Example     string            `json:"example"`
}

func (d *Dispatcher) executeMeta(_ context.Context, action string, params Params) Result {
	switch action {
	case ActionAvailableCommands:
		caps := d.Capabilities()
		out := AvailableCommands{Total: len(caps), Domains: make(map[string][]commandSummary)}

		for _, c := range caps {
			out.Domains[c.Domain] = append(out.Domains[c.Domain], commandSummary{
				Command:     c.Action,
				Description: c.Description,
			})
		}

		return OK(fmt.Sprintf("%d commands available", out.Total), out)
	case ActionCommandHelp:
		name, err := params.RequireString("command")
		if err != nil {
			return ParamError(err)
		}

		c, ok := d.Lookup(name)
		if !ok {
			return Fail("Unknown command for help: %s", name)
		}

		return OK("Help for "+name, CommandHelp{
			Command:     c.Action,
			Description: c.Description,
			Parameters:  c.Help.Parameters,
			Requires:    c.Help.Requires,
			Example:     c.Help.Example,
		})
	default:
		return Fail("Unknown command: %s", action)
	}
}
