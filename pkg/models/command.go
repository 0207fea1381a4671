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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned for inbound commands that cannot be correlated or routed.
var ErrMalformedEnvelope = errors.New("malformed command envelope")

// CommandEnvelope is a unit of work received from the controller.
type CommandEnvelope struct {
	// CommandID is the controller's correlation token. It is only ever echoed.
	CommandID string `json:"commandId"`
	// Action names the capability to invoke.
	Action string `json:"action"`
	// Params carries action-specific arguments and may be absent.
	Params map[string]interface{} `json:"params,omitempty"`
}

// CommandResponse is sent back for every well-formed CommandEnvelope.
type CommandResponse struct {
	CommandID string      `json:"commandId"`
	Action    string      `json:"action"`
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Result    interface{} `json:"result"`
}

// ParseCommandEnvelope decodes and validates a command payload.
func ParseCommandEnvelope(data []byte) (*CommandEnvelope, error) {
	var env CommandEnvelope

	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	if env.CommandID == "" {
		return nil, fmt.Errorf("%w: missing commandId", ErrMalformedEnvelope)
	}

	if env.Action == "" {
		return nil, fmt.Errorf("%w: missing action", ErrMalformedEnvelope)
	}

	return &env, nil
}
