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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseCommandEnvelope(t *testing.T) {
	env, err := ParseCommandEnvelope([]byte(`{"commandId":"c-1","action":"set_volume","params":{"volume":40}}`))
	require.NoError(t, err)
	assert.Equal(t, "c-1", env.CommandID)
	assert.Equal(t, "set_volume", env.Action)
	assert.InDelta(t, 40, env.Params["volume"], 0)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing command id", `{"action":"lock_screen"}`},
		{"missing action", `{"commandId":"c-2"}`},
		{"wrong type", `{"commandId":7,"action":"lock_screen"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCommandEnvelope([]byte(tc.body))
			require.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestCommandResponseWireShape(t *testing.T) {
	body, err := json.Marshal(CommandResponse{CommandID: "c-1", Action: "lock_screen", Message: "Failed"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"commandId":"c-1","action":"lock_screen","success":false,"message":"Failed","result":null}`, string(body))
}

func TestRegistrationPayloadFlattensIdentity(t *testing.T) {
	body, err := json.Marshal(RegistrationPayload{
		DeviceIdentity: DeviceIdentity{ID: "d", DisplayName: "n", Model: "m", OSVersion: "v"},
		AgentVersion:   "1.0.1",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"device_id":"d","device_name":"n","device_model":"m","os_version":"v","agent_version":"1.0.1"}`, string(body))
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "registered", StateRegistered.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}

func TestDurationDecoding(t *testing.T) {
	var d struct {
		A Duration `json:"a" yaml:"a"`
		B Duration `json:"b" yaml:"b"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"a":"1m30s","b":2000000000}`), &d))
	assert.Equal(t, 90*time.Second, d.A.Std())
	assert.Equal(t, 2*time.Second, d.B.Std())

	require.NoError(t, yaml.Unmarshal([]byte("a: 250ms\nb: 3000000000\n"), &d))
	assert.Equal(t, 250*time.Millisecond, d.A.Std())
	assert.Equal(t, 3*time.Second, d.B.Std())

	require.ErrorIs(t, json.Unmarshal([]byte(`{"a":true}`), &d), errInvalidDuration)
	require.ErrorIs(t, d.A.UnmarshalText([]byte("soon")), errInvalidDuration)

	out, err := json.Marshal(Duration(5 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"5s"`, string(out))
}
