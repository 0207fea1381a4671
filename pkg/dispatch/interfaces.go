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
	"context"
	"time"
)

//go:generate mockgen -destination=mock_dispatch.go -package=dispatch github.com/carverauto/cmdagent/pkg/dispatch Handler,Recorder

// Handler performs one class of device operation. Implementations report every
// failure through the returned Result; the dispatcher still recovers panics.
type Handler interface {
	Execute(ctx context.Context, action string, params Params) Result
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, action string, params Params) Result

func (f HandlerFunc) Execute(ctx context.Context, action string, params Params) Result {
	return f(ctx, action, params)
}

// Recorder receives per-command outcomes.
type Recorder interface {
	ObserveCommand(action string, success bool, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCommand(string, bool, time.Duration) {}
