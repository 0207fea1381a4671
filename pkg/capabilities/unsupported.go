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

package capabilities

import (
	"context"

	"github.com/carverauto/cmdagent/pkg/dispatch"
)

// gated serves actions that need a facility this host type never has. They stay
// registered so the controller sees the complete vocabulary.
type gated struct {
	domain string
	items  []gatedAction
}

type gatedAction struct {
	action      string
	description string
	what        string
	requirement string
	params      map[string]string
}

func newLocation() *gated {
	return &gated{
		domain: dispatch.DomainLocation,
		items: []gatedAction{
			{"get_location", "Report the last known position", "Location lookup", "a positioning provider (GPS or geoclue)", nil},
			{"enable_location", "Turn location services on", "Enabling location services", "a positioning provider (GPS or geoclue)", nil},
			{"disable_location", "Turn location services off", "Disabling location services", "a positioning provider (GPS or geoclue)", nil},
		},
	}
}

func newPersonalData() *gated {
	limit := map[string]string{"limit": "integer (optional)"}

	return &gated{
		domain: dispatch.DomainPersonalData,
		items: []gatedAction{
			{"get_contacts", "Read the address book", "Contact retrieval", "a telephony contacts provider", nil},
			{"get_call_logs", "Read the call history", "Call log retrieval", "a telephony call log provider", limit},
			{"get_sms_messages", "Read SMS messages", "SMS retrieval", "a telephony SMS provider", limit},
		},
	}
}

func (g *gated) entries() []entry {
	out := make([]entry, 0, len(g.items))

	for _, it := range g.items {
		it := it

		out = append(out, entry{
			capability: dispatch.Capability{
				Action:      it.action,
				Domain:      g.domain,
				Description: it.description,
				Help: dispatch.Help{
					Parameters: it.params,
					Requires:   it.requirement,
					Example:    `{"action":"` + it.action + `"}`,
				},
			},
			run: func(context.Context, string, dispatch.Params) dispatch.Result {
				return unsupported(it.what, it.requirement)
			},
		})
	}

	return out
}
