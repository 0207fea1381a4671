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
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/carverauto/cmdagent/pkg/logger"
	"github.com/carverauto/cmdagent/pkg/models"
)

const spoolSuffix = ".json"

// ErrSpoolRunning is returned when Run is called on a source that is already running.
var ErrSpoolRunning = errors.New("spool source already running")

// SpoolSource turns a directory of JSON notification files into post/remove callbacks.
// Writing <name>.json posts a notification; deleting it removes the notification.
type SpoolSource struct {
	dir      string
	listener Listener
	logger   logger.Logger

	mu      sync.Mutex
	running bool
	limit   int
	posted  map[string]*list.Element // file path -> element in order
	order   *list.List               // spoolEntry, oldest first
	nextID  int
}

type spoolEntry struct {
	path string
	key  string
}

// SpoolOption configures a SpoolSource.
type SpoolOption func(*SpoolSource)

// WithTrackLimit bounds how many posted files are remembered. Files beyond the limit
// are forgotten oldest first, so deleting them no longer removes a notification.
// It should match the capacity of the store behind the listener.
func WithTrackLimit(n int) SpoolOption {
	return func(s *SpoolSource) {
		if n > 0 {
			s.limit = n
		}
	}
}

// NewSpoolSource watches dir and reports to l.
func NewSpoolSource(dir string, l Listener, log logger.Logger, opts ...SpoolOption) *SpoolSource {
	s := &SpoolSource{
		dir:      dir,
		listener: l,
		logger:   log,
		limit:    DefaultCapacity,
		posted:   make(map[string]*list.Element),
		order:    list.New(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run posts files already present, then follows the directory until ctx is done.
func (s *SpoolSource) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSpoolRunning
	}

	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create spool dir %s: %w", s.dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create spool watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch spool dir %s: %w", s.dir, err)
	}

	s.logger.Info().Str("dir", s.dir).Msg("Watching notification spool")

	s.backfill(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			s.handle(ctx, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			s.logger.Warn().Err(err).Msg("Notification spool watcher error")
		}
	}
}

func (s *SpoolSource) backfill(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to scan notification spool")
		return
	}

	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), spoolSuffix) {
			s.post(ctx, filepath.Join(s.dir, e.Name()))
		}
	}
}

func (s *SpoolSource) handle(ctx context.Context, ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, spoolSuffix) {
		return
	}

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		s.remove(ev.Name)
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		s.post(ctx, ev.Name)
	}
}

// post reads path and reports it once. A file caught mid-write fails to parse and is
// picked up again on its next write event.
func (s *SpoolSource) post(ctx context.Context, path string) {
	s.mu.Lock()
	_, seen := s.posted[path]
	s.mu.Unlock()

	if seen {
		return
	}

	ev, err := s.read(path)
	if err != nil {
		s.logger.Debug().Err(err).Str("file", path).Msg("Spool file not ready")
		return
	}

	s.mu.Lock()
	if _, seen := s.posted[path]; seen {
		s.mu.Unlock()
		return
	}

	s.posted[path] = s.order.PushBack(spoolEntry{path: path, key: ev.Key})
	s.pruneLocked()
	s.mu.Unlock()

	if err := s.listener.Posted(ctx, ev); err != nil {
		s.logger.Debug().Err(err).Str("key", ev.Key).Msg("Notification buffered without forwarding")
	}
}

// pruneLocked forgets the oldest files once more are tracked than the store can hold.
func (s *SpoolSource) pruneLocked() {
	for s.order.Len() > s.limit {
		oldest := s.order.Remove(s.order.Front()).(spoolEntry)
		delete(s.posted, oldest.path)
	}
}

func (s *SpoolSource) remove(path string) {
	s.mu.Lock()
	el, ok := s.posted[path]

	var key string

	if ok {
		key = s.order.Remove(el).(spoolEntry).key
		delete(s.posted, path)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	if s.listener.Removed(key) {
		s.logger.Debug().Str("key", key).Msg("Notification removed")
	}
}

func (s *SpoolSource) read(path string) (models.NotificationEvent, error) {
	var ev models.NotificationEvent

	info, err := os.Stat(path)
	if err != nil {
		return ev, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ev, err
	}

	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	if ev.Key == "" {
		ev.Key = strings.TrimSuffix(filepath.Base(path), spoolSuffix)
	}

	if ev.PostTime == 0 {
		ev.PostTime = info.ModTime().UnixMilli()
	}

	if ev.WhenMs == 0 {
		ev.WhenMs = ev.PostTime
	}

	if ev.ID == 0 {
		s.mu.Lock()
		s.nextID++
		ev.ID = s.nextID
		s.mu.Unlock()
	}

	return ev, nil
}
