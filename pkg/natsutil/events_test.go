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

package natsutil

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
)

var errTestFixture = errors.New("fixture error")

type publishedMsg struct {
	subject string
	body    []byte
}

type fakeJetStream struct {
	msgs []publishedMsg
	err  error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, payload []byte,
	_ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.msgs = append(f.msgs, publishedMsg{subject: subject, body: payload})

	return &jetstream.PubAck{Stream: "CMDAGENT_EVENTS", Sequence: uint64(len(f.msgs))}, nil
}

func TestPublishWrapsPayloadInCloudEvent(t *testing.T) {
	t.Parallel()

	js := &fakeJetStream{}
	pub := newEventPublisher(js, "CMDAGENT_EVENTS", "agents.dev-1.", "cmdagent/dev-1", logger.NewTestLogger())
	pub.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	payload := models.CommandResponse{CommandID: "c1", Action: "lock_screen", Success: true, Message: "ok"}
	require.NoError(t, pub.Publish(context.Background(), "command_response", payload))

	require.Len(t, js.msgs, 1)
	assert.Equal(t, "agents.dev-1.command_response", js.msgs[0].subject)

	var ce struct {
		models.CloudEvent
		Data models.CommandResponse `json:"data"`
	}

	require.NoError(t, json.Unmarshal(js.msgs[0].body, &ce))
	assert.Equal(t, "1.0", ce.SpecVersion)
	assert.Equal(t, "com.carverauto.cmdagent.command_response", ce.Type)
	assert.Equal(t, "cmdagent/dev-1", ce.Source)
	assert.Equal(t, "agents.dev-1.command_response", ce.Subject)
	assert.NotEmpty(t, ce.ID)
	assert.Equal(t, payload, ce.Data)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	js := &fakeJetStream{err: errTestFixture}
	pub := newEventPublisher(js, "", "", "cmdagent/dev-1", logger.NewTestLogger())

	assert.Equal(t, "cmdagent.events.status_update", pub.Subject("status_update"))
	require.ErrorIs(t, pub.Publish(context.Background(), "", nil), ErrEmptyEvent)
	require.ErrorIs(t, pub.Publish(context.Background(), "status_update", struct{}{}), errTestFixture)

	err := pub.Publish(context.Background(), "status_update", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal status_update event")
}

func TestEnsureSubjectList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subjects []string
		subject  string
		want     []string
	}{
		{
			name:     "adds subject when list empty",
			subjects: nil,
			subject:  "cmdagent.events.>",
			want:     []string{"cmdagent.events.>"},
		},
		{
			name:     "keeps list when wildcard matches",
			subjects: []string{"cmdagent.*.status_update"},
			subject:  "cmdagent.events.status_update",
			want:     []string{"cmdagent.*.status_update"},
		},
		{
			name:     "keeps list when greater wildcard matches",
			subjects: []string{"cmdagent.>"},
			subject:  "cmdagent.events.>",
			want:     []string{"cmdagent.>"},
		},
		{
			name:     "appends when unmatched",
			subjects: []string{"logs.syslog.*"},
			subject:  "cmdagent.events.>",
			want:     []string{"logs.syslog.*", "cmdagent.events.>"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result := ensureSubjectList(append([]string(nil), tc.subjects...), tc.subject)
			assert.Equal(t, tc.want, result)
		})
	}
}

func TestMatchesSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		subject  string
		expected bool
	}{
		{"exact match", "cmdagent.events.notification", "cmdagent.events.notification", true},
		{"single wildcard", "cmdagent.*.notification", "cmdagent.events.notification", true},
		{"greater wildcard", "cmdagent.>", "cmdagent.events.notification", true},
		{"no match length", "cmdagent.*", "cmdagent.events.notification", false},
		{"no match tokens", "logs.syslog.*", "cmdagent.events.notification", false},
		{"pattern longer than subject", "cmdagent.events.a.b", "cmdagent.events", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := matchesSubject(tc.pattern, tc.subject); got != tc.expected {
				t.Fatalf("matchesSubject(%q, %q) = %t, want %t", tc.pattern, tc.subject, got, tc.expected)
			}
		})
	}
}

func TestIsStreamMissingErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"jetstream no stream response", jetstream.ErrNoStreamResponse, true},
		{"jetstream stream not found", jetstream.ErrStreamNotFound, true},
		{"nats no stream response", nats.ErrNoStreamResponse, true},
		{"nats stream not found", nats.ErrStreamNotFound, true},
		{"nats no responders", nats.ErrNoResponders, true},
		{"other error", errTestFixture, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := isStreamMissingErr(tc.err); got != tc.expected {
				t.Fatalf("isStreamMissingErr(%v) = %t, want %t", tc.err, got, tc.expected)
			}
		})
	}
}

func writePEM(t *testing.T, path, kind string, der []byte) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: kind, Bytes: der}), 0o600))
}

func selfSigned(t *testing.T, dir string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "cmdagent"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	writePEM(t, filepath.Join(dir, "client.pem"), "CERTIFICATE", der)
	writePEM(t, filepath.Join(dir, "client-key.pem"), "EC PRIVATE KEY", keyDER)
	writePEM(t, filepath.Join(dir, "root.pem"), "CERTIFICATE", der)
}

func TestTLSConfig(t *testing.T) {
	t.Parallel()

	_, err := TLSConfig(nil)
	require.ErrorIs(t, err, ErrTLSFilesRequired)

	dir := t.TempDir()
	selfSigned(t, dir)

	files := &TLSFiles{CertDir: dir, CAFile: "root.pem", CertFile: "client.pem", KeyFile: "client-key.pem", ServerName: "nats.local"}

	conf, err := TLSConfig(files)
	require.NoError(t, err)
	assert.Equal(t, "nats.local", conf.ServerName)
	assert.Len(t, conf.Certificates, 1)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad-ca.pem"), []byte("not a certificate"), 0o600))

	files.CAFile = "bad-ca.pem"
	_, err = TLSConfig(files)
	require.ErrorIs(t, err, ErrCAParsingFailed)

	files.CertFile = "missing.pem"
	_, err = TLSConfig(files)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load client certificate")
}
