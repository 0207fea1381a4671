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
	"fmt"

	"github.com/carverauto/cmdagent/pkg/models"
)

// Result is the uniform outcome of a capability invocation.
type Result struct {
	Success bool
	Message string
	Data    interface{}
}

// OK builds a successful result.
func OK(message string, data interface{}) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Fail builds a failed result with a formatted message.
func Fail(format string, args ...interface{}) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// FailErr builds a failed result from an error, prefixing it with what was attempted.
func FailErr(what string, err error) Result {
	return Result{Message: fmt.Sprintf("Failed to %s: %v", what, err)}
}

// Response correlates a result with the envelope that produced it.
func (r Result) Response(env *models.CommandEnvelope) *models.CommandResponse {
	return &models.CommandResponse{
		CommandID: env.CommandID,
		Action:    env.Action,
		Success:   r.Success,
		Message:   r.Message,
		Result:    r.Data,
	}
}
