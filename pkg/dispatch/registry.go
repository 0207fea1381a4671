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

package dispatch

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmptyAction indicates a capability was registered without an action name.
	ErrEmptyAction = errors.New("capability action name is empty")
	// ErrDuplicateAction indicates two handlers claimed the same action.
	ErrDuplicateAction = errors.New("capability action already registered")
	// ErrNilHandler indicates a capability was registered without a handler.
	ErrNilHandler = errors.New("capability handler is nil")
)

// Capability domains.
const (
	DomainDevice        = "device_control"
	DomainNetwork       = "network_control"
	DomainLocation      = "location"
	DomainMedia         = "media"
	DomainSystem        = "system_info"
	DomainApps          = "app_management"
	DomainPersonalData  = "personal_data"
	DomainNotifications = "notifications"
	DomainFiles         = "file_management"
	DomainMeta          = "meta"
)

// Help documents how to call a capability.
type Help struct {
	Parameters map[string]string `json:"parameters"`
	Requires   string            `json:"requires"`
	Example    string            `json:"example"`
}

// Capability is a static registry entry describing one dispatchable action.
type Capability struct {
	Action      string `json:"command"`
	Domain      string `json:"domain"`
	Description string `json:"description"`
	Help        Help   `json:"-"`
}

type route struct {
	capability Capability
	handler    Handler
}

// Register adds capabilities served by h. Every action must be unique across the table.
func (d *Dispatcher) Register(h Handler, caps ...Capability) error {
	if h == nil {
		return ErrNilHandler
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// validate everything before mutating so a bad batch leaves the table untouched
	seen := make(map[string]struct{}, len(caps))

	for _, c := range caps {
		if c.Action == "" {
			return ErrEmptyAction
		}

		if _, exists := d.routes[c.Action]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateAction, c.Action)
		}

		if _, dup := seen[c.Action]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateAction, c.Action)
		}

		seen[c.Action] = struct{}{}
	}

	for _, c := range caps {
		if c.Help.Parameters == nil {
			c.Help.Parameters = map[string]string{}
		}

		d.routes[c.Action] = route{capability: c, handler: h}
	}

	return nil
}

// MustRegister is Register for static wiring; it panics on a programming error.
func (d *Dispatcher) MustRegister(h Handler, caps ...Capability) {
	if err := d.Register(h, caps...); err != nil {
		panic(err)
	}
}

// Capabilities returns every registered capability ordered by domain then action.
func (d *Dispatcher) Capabilities() []Capability {
	d.mu.RLock()
	out := make([]Capability, 0, len(d.routes))

	for _, r := range d.routes {
		out = append(out, r.capability)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}

		return out[i].Action < out[j].Action
	})

	return out
}

// Actions returns the sorted set of dispatchable action names.
func (d *Dispatcher) Actions() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.routes))

	for action := range d.routes {
		out = append(out, action)
	}
	d.mu.RUnlock()

	sort.Strings(out)

	return out
}

// Lookup returns the capability registered for action.
func (d *Dispatcher) Lookup(action string) (Capability, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.routes[action]

	return r.capability, ok
}
