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

package logger

import (
	"io"

	"github.com/rs/zerolog"
)

// Logger is the structured logger injected into every agent component.
type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	Panic() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) zerolog.Logger
	WithFields(fields map[string]interface{}) zerolog.Logger
	SetLevel(level zerolog.Level)
	SetDebug(debug bool)
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	zl zerolog.Logger
}

// New wraps an existing zerolog logger.
func New(zl zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{zl: zl}
}

// NewWriterLogger builds a debug-level JSON logger writing to w.
func NewWriterLogger(w io.Writer) *ZerologLogger {
	return New(zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger())
}

func (l *ZerologLogger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *ZerologLogger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *ZerologLogger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *ZerologLogger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *ZerologLogger) Error() *zerolog.Event { return l.zl.Error() }
func (l *ZerologLogger) Fatal() *zerolog.Event { return l.zl.Fatal() }
func (l *ZerologLogger) Panic() *zerolog.Event { return l.zl.Panic() }
func (l *ZerologLogger) With() zerolog.Context { return l.zl.With() }

func (l *ZerologLogger) WithComponent(component string) zerolog.Logger {
	return l.zl.With().Str("component", component).Logger()
}

func (l *ZerologLogger) WithFields(fields map[string]interface{}) zerolog.Logger {
	ctx := l.zl.With()
	for key, value := range fields {
		ctx = ctx.Interface(key, value)
	}

	return ctx.Logger()
}

func (l *ZerologLogger) SetLevel(level zerolog.Level) {
	l.zl = l.zl.Level(level)
}

func (l *ZerologLogger) SetDebug(debug bool) {
	if debug {
		l.SetLevel(zerolog.DebugLevel)
	} else {
		l.SetLevel(zerolog.InfoLevel)
	}
}

// NewTestLogger creates a no-op logger for testing that discards all output
func NewTestLogger() Logger {
	return New(zerolog.New(io.Discard).Level(zerolog.Disabled))
}
