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

package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
)

func event(i int) models.NotificationEvent {
	return models.NotificationEvent{
		ID:          i,
		Key:         fmt.Sprintf("0|org.example.mail|%d|null|10001", i),
		PackageName: "org.example.mail",
		Title:       fmt.Sprintf("message %d", i),
	}
}

func TestStoreKeepsMostRecentHundred(t *testing.T) {
	s := NewStore()

	for i := 1; i <= 101; i++ {
		s.Post(event(i))
	}

	snap := s.Snapshot()
	require.Len(t, snap, 100)
	assert.Equal(t, 101, snap[0].ID, "newest first")
	assert.Equal(t, 2, snap[99].ID, "oldest retained")

	for i, ev := range snap {
		assert.Equal(t, 101-i, ev.ID)
	}

	assert.False(t, s.Remove(event(1).Key), "evicted entry is gone")
}

func TestStoreRemoveByKey(t *testing.T) {
	s := NewStore(WithCapacity(3))

	s.Post(event(1))
	s.Post(event(2))
	s.Post(event(3))

	assert.True(t, s.Remove(event(2).Key))
	assert.False(t, s.Remove(event(2).Key), "removing twice is a no-op")
	assert.False(t, s.Remove("missing"))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, []int{3, 1}, []int{snap[0].ID, snap[1].ID})
}

func TestStoreSnapshotIsIsolated(t *testing.T) {
	s := NewStore()
	s.Post(event(1))

	snap := s.Snapshot()
	snap[0].Title = "mutated"

	s.Post(event(2))

	assert.Equal(t, "message 1", s.Snapshot()[1].Title)
	assert.Len(t, snap, 1)
}

type gaugeRecorder struct {
	mu   sync.Mutex
	last float64
}

func (g *gaugeRecorder) Set(v float64) {
	g.mu.Lock()
	g.last = v
	g.mu.Unlock()
}

func TestStoreClearAndGauge(t *testing.T) {
	g := &gaugeRecorder{}
	s := NewStore(WithGauge(g))

	s.Post(event(1))
	s.Post(event(2))
	assert.InDelta(t, 2, g.last, 0)

	assert.Equal(t, 2, s.Clear())
	assert.Equal(t, 0, s.Len())
	assert.InDelta(t, 0, g.last, 0)
}

func TestStoreConcurrentProducersAndReaders(t *testing.T) {
	s := NewStore(WithCapacity(50))

	var wg sync.WaitGroup

	for p := 0; p < 4; p++ {
		wg.Add(1)

		go func(p int) {
			defer wg.Done()

			for i := 0; i < 200; i++ {
				ev := event(p*1000 + i)
				s.Post(ev)

				if i%3 == 0 {
					s.Remove(ev.Key)
				}
			}
		}(p)
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		for i := 0; i < 200; i++ {
			assert.LessOrEqual(t, len(s.Snapshot()), 50)
		}
	}()

	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 50)
}

type fakeSession struct {
	mu        sync.Mutex
	connected bool
	connects  int
	sent      []models.NotificationPayload
	sendErr   error
}

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connected
}

func (f *fakeSession) Connect() {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
}

func (f *fakeSession) Send(_ context.Context, event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return f.sendErr
	}

	if event == models.EventNotification {
		f.sent = append(f.sent, payload.(models.NotificationPayload))
	}

	return nil
}

func (f *fakeSession) DeviceID() string { return "dev-7" }

func TestForwarderSendsWhenConnected(t *testing.T) {
	sess := &fakeSession{connected: true}
	store := NewStore()
	fwd := NewForwarder(store, sess, logger.NewTestLogger())

	ev := event(5)
	ev.ExtendedText = "long body"

	require.NoError(t, fwd.Posted(context.Background(), ev))

	assert.Equal(t, 0, sess.connects)
	require.Len(t, sess.sent, 1)
	assert.Equal(t, "dev-7", sess.sent[0].DeviceID)
	assert.Equal(t, ev.Key, sess.sent[0].NotificationData.Key)
	assert.Equal(t, "long body", sess.sent[0].NotificationData.Notification.BigText)
	assert.Equal(t, 1, store.Len())
}

func TestForwarderConnectsThenKeepsUnsentEvents(t *testing.T) {
	errDown := errors.New("session not connected")
	sess := &fakeSession{sendErr: errDown}
	store := NewStore()
	fwd := NewForwarder(store, sess, logger.NewTestLogger())

	err := fwd.Posted(context.Background(), event(1))
	require.ErrorIs(t, err, errDown)

	assert.Equal(t, 1, sess.connects, "a disconnected session is asked to connect")
	assert.Equal(t, 1, store.Len(), "the event stays buffered")

	// no retry queue: a later successful send only carries the new event
	sess.mu.Lock()
	sess.sendErr = nil
	sess.connected = true
	sess.mu.Unlock()

	require.NoError(t, fwd.Posted(context.Background(), event(2)))
	require.Len(t, sess.sent, 1)
	assert.Equal(t, 2, sess.sent[0].NotificationData.ID)

	assert.True(t, fwd.Removed(event(1).Key))
	assert.Equal(t, 1, store.Len())
}

type listenerRecorder struct {
	mu      sync.Mutex
	posted  []models.NotificationEvent
	removed []string
}

func (l *listenerRecorder) Posted(_ context.Context, ev models.NotificationEvent) error {
	l.mu.Lock()
	l.posted = append(l.posted, ev)
	l.mu.Unlock()

	return nil
}

func (l *listenerRecorder) Removed(key string) bool {
	l.mu.Lock()
	l.removed = append(l.removed, key)
	l.mu.Unlock()

	return true
}

func (l *listenerRecorder) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.posted), len(l.removed)
}

// writeSpool writes atomically so the watcher never sees a partial file.
func writeSpool(t *testing.T, dir, name, body string) string {
	t.Helper()

	tmp := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(tmp, []byte(body), 0o600))

	dst := filepath.Join(dir, name)
	require.NoError(t, os.Rename(tmp, dst))

	return dst
}

func TestSpoolSourcePostsAndRemoves(t *testing.T) {
	dir := t.TempDir()
	rec := &listenerRecorder{}

	writeSpool(t, dir, "backlog.json", `{"package_name":"org.example.chat","title":"old"}`)

	src := NewSpoolSource(dir, rec, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- src.Run(ctx) }()

	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.Eventually(t, func() bool { p, _ := rec.counts(); return p == 1 }, 2*time.Second, 10*time.Millisecond)

	path := writeSpool(t, dir, "n-2.json", `{"key":"k-2","package_name":"org.example.mail","title":"hi","is_clearable":true}`)

	require.Eventually(t, func() bool { p, _ := rec.counts(); return p == 2 }, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	backlog, fresh := rec.posted[0], rec.posted[1]
	rec.mu.Unlock()

	assert.Equal(t, "backlog", backlog.Key, "key defaults to the file name")
	assert.NotZero(t, backlog.PostTime)
	assert.Equal(t, "k-2", fresh.Key)
	assert.True(t, fresh.IsClearable)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool { _, r := rec.counts(); return r == 1 }, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, []string{"k-2"}, rec.removed)
	rec.mu.Unlock()

	p, _ := rec.counts()
	assert.Equal(t, 2, p)
}

func (s *SpoolSource) tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.posted)
}

func TestSpoolSourceForgetsBeyondTrackLimit(t *testing.T) {
	dir := t.TempDir()
	rec := &listenerRecorder{}
	src := NewSpoolSource(dir, rec, logger.NewTestLogger(), WithTrackLimit(2))
	ctx := context.Background()

	paths := make([]string, 0, 3)

	for i := 0; i < 3; i++ {
		p := writeSpool(t, dir, fmt.Sprintf("n-%d.json", i), fmt.Sprintf(`{"key":"k-%d","title":"t"}`, i))
		paths = append(paths, p)
		src.post(ctx, p)
	}

	assert.Equal(t, 2, src.tracked())

	// still tracked files are not reposted
	src.post(ctx, paths[2])

	p, _ := rec.counts()
	assert.Equal(t, 3, p)

	// the oldest file was forgotten, so deleting it is not reported
	src.remove(paths[0])
	src.remove(paths[1])

	rec.mu.Lock()
	assert.Equal(t, []string{"k-1"}, rec.removed)
	rec.mu.Unlock()

	assert.Equal(t, 1, src.tracked())
}
