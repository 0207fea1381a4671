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

// Package natsutil mirrors agent telemetry to NATS JetStream as CloudEvents.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
)

const (
	eventTypePrefix      = "com.carverauto.cmdagent."
	defaultSubjectPrefix = "cmdagent.events"
	defaultStream        = "CMDAGENT_EVENTS"
)

// ErrEmptyEvent is returned when Publish is called without an event name.
var ErrEmptyEvent = errors.New("event name is required")

// Config selects the NATS server and stream for the mirror.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	Domain        string
	TLS           *TLSFiles
}

// publisher is the part of jetstream.JetStream the mirror needs.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher publishes outbound agent events as CloudEvents. It satisfies
// session.EventSink.
type EventPublisher struct {
	js     publisher
	stream string
	prefix string
	source string
	logger logger.Logger
	now    func() time.Time
}

// NewEventPublisher creates an EventPublisher writing to subjects under prefix.
func NewEventPublisher(js jetstream.JetStream, streamName, prefix, source string, log logger.Logger) *EventPublisher {
	return newEventPublisher(js, streamName, prefix, source, log)
}

func newEventPublisher(js publisher, streamName, prefix, source string, log logger.Logger) *EventPublisher {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	return &EventPublisher{
		js:     js,
		stream: streamName,
		prefix: strings.TrimSuffix(prefix, "."),
		source: source,
		logger: log,
		now:    time.Now,
	}
}

// Subject returns the subject an event is published on.
func (p *EventPublisher) Subject(event string) string {
	return p.prefix + "." + event
}

// Publish wraps payload in a CloudEvent and publishes it on <prefix>.<event>.
func (p *EventPublisher) Publish(ctx context.Context, event string, payload interface{}) error {
	if event == "" {
		return ErrEmptyEvent
	}

	ts := p.now().UTC()

	ce := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          p.source,
		Type:            eventTypePrefix + event,
		DataContentType: "application/json",
		Subject:         p.Subject(event),
		Time:            &ts,
		Data:            payload,
	}

	body, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}

	ack, err := p.js.Publish(ctx, ce.Subject, body, jetstream.WithMsgID(ce.ID))
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event, err)
	}

	p.logger.Debug().
		Str("event_id", ce.ID).
		Str("subject", ce.Subject).
		Uint64("seq", ack.Sequence).
		Msg("Mirrored event")

	return nil
}

// Connect dials NATS, ensures the stream covers the mirror subjects and returns the
// publisher together with the connection the caller must close.
func Connect(ctx context.Context, cfg Config, source string, log logger.Logger) (*EventPublisher, *nats.Conn, error) {
	nc, err := ConnectWithSecurity(cfg.URL, cfg.TLS, log)
	if err != nil {
		return nil, nil, err
	}

	pub, err := CreateEventPublisherWithDomain(ctx, nc, cfg, source, log)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	return pub, nc, nil
}

// ConnectWithSecurity creates a NATS connection, using mTLS when files are given.
func ConnectWithSecurity(natsURL string, files *TLSFiles, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{nats.Name("cmdagent")}

	if files != nil {
		tlsConf, err := TLSConfig(files)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// CreateEventPublisherWithDomain creates an EventPublisher with optional NATS domain support.
func CreateEventPublisherWithDomain(ctx context.Context, nc *nats.Conn, cfg Config, source string,
	log logger.Logger) (*EventPublisher, error) {
	var (
		js  jetstream.JetStream
		err error
	)

	if cfg.Domain != "" {
		js, err = jetstream.NewWithDomain(nc, cfg.Domain)
	} else {
		js, err = jetstream.New(nc)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamName := cfg.Stream
	if streamName == "" {
		streamName = defaultStream
	}

	pub := NewEventPublisher(js, streamName, cfg.SubjectPrefix, source, log)

	if err := ensureStream(ctx, js, streamName, pub.prefix+".>", log); err != nil {
		return nil, err
	}

	return pub, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, streamName, subject string, log logger.Logger) error {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", streamName, err)
		}

		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{subject},
		}); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}

		log.Info().Str("stream", streamName).Msg("Created NATS JetStream stream")

		return nil
	}

	cfg := stream.CachedInfo().Config

	subjects := ensureSubjectList(cfg.Subjects, subject)
	if len(subjects) == len(cfg.Subjects) {
		return nil
	}

	cfg.Subjects = subjects

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to add %s to stream %s: %w", subject, streamName, err)
	}

	return nil
}

// ensureSubjectList appends subject unless an existing pattern already covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether pattern covers subject using NATS wildcard rules.
// A literal ">" in subject is treated as a token so "a.>" covers itself.
func matchesSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}

		if i >= len(st) {
			return false
		}

		if tok != "*" && tok != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
