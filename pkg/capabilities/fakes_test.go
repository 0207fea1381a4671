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
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/hoststatus"
	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/notify"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	reply   func(ctx context.Context, cmdline string) ([]byte, error)
	started []*fakeProcess
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmdline := strings.Join(append([]string{name}, args...), " ")

	r.mu.Lock()
	r.calls = append(r.calls, cmdline)
	reply := r.reply
	r.mu.Unlock()

	if reply == nil {
		return nil, nil
	}

	return reply(ctx, cmdline)
}

func (r *fakeRunner) Start(name string, args ...string) (Process, error) {
	p := &fakeProcess{cmdline: strings.Join(append([]string{name}, args...), " "), exited: make(chan struct{})}

	r.mu.Lock()
	r.started = append(r.started, p)
	r.mu.Unlock()

	return p, nil
}

func (r *fakeRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

type fakeProcess struct {
	cmdline string
	once    sync.Once
	exited  chan struct{}
}

func (p *fakeProcess) Interrupt() error {
	p.once.Do(func() { close(p.exited) })
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.exited
	return nil
}

type harness struct {
	d      *dispatch.Dispatcher
	runner *fakeRunner
	store  *notify.Store
	files  string
	data   string
	seq    int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		d:      dispatch.New(logger.NewTestLogger()),
		runner: &fakeRunner{},
		store:  notify.NewStore(),
		files:  t.TempDir(),
		data:   t.TempDir(),
	}

	err := Register(h.d, Deps{
		Runner:        h.runner,
		Identity:      models.DeviceIdentity{ID: "dev-1", DisplayName: "bench", Model: "ubuntu amd64", OSVersion: "24.04"},
		Host:          hoststatus.NewProvider(t.TempDir(), logger.NewTestLogger()),
		Notifications: h.store,
		FilesRoot:     h.files,
		DataDir:       h.data,
		Logger:        logger.NewTestLogger(),
	})
	require.NoError(t, err)

	return h
}

func (h *harness) run(t *testing.T, action string, params map[string]interface{}) *models.CommandResponse {
	t.Helper()

	h.seq++

	resp := h.d.Dispatch(context.Background(), &models.CommandEnvelope{
		CommandID: fmt.Sprintf("%s-%d", action, h.seq),
		Action:    action,
		Params:    params,
	})
	require.NotNil(t, resp)

	return resp
}
