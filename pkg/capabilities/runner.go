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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrToolMissing is returned when a required host utility is not installed.
var ErrToolMissing = errors.New("required host tool not installed")

// Runner executes host utilities.
type Runner interface {
	// Run waits for the command and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// Start launches a long-running command and returns a handle to it.
	Start(name string, args ...string) (Process, error)
}

// Process is a running background command.
type Process interface {
	// Interrupt asks the process to finish cleanly.
	Interrupt() error
	// Wait blocks until the process exits.
	Wait() error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, name)
	}

	var out bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return out.Bytes(), fmt.Errorf("%s: %w", name, ctx.Err())
		}

		msg := strings.TrimSpace(out.String())
		if msg == "" {
			return out.Bytes(), fmt.Errorf("%s: %w", name, err)
		}

		return out.Bytes(), fmt.Errorf("%s: %w: %s", name, err, msg)
	}

	return out.Bytes(), nil
}

func (ExecRunner) Start(name string, args ...string) (Process, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, name)
	}

	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Interrupt() error {
	return interrupt(p.cmd.Process)
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}
