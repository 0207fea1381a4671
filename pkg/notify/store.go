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

// Package notify buffers passively observed system notifications and forwards them
// to the controller.
package notify

import (
	"sync"

	"github.com/carverauto/cmdagent/pkg/models"
)

// DefaultCapacity is the number of notifications retained.
const DefaultCapacity = 100

// Gauge tracks the buffered notification count. prometheus.Gauge satisfies it.
type Gauge interface {
	Set(float64)
}

// Store is a fixed-capacity, most-recent-first history of notifications. Every
// operation runs under one mutex.
type Store struct {
	mu       sync.Mutex
	items    []models.NotificationEvent // items[0] is the newest
	capacity int
	gauge    Gauge
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithGauge reports the buffer length after every mutation.
func WithGauge(g Gauge) StoreOption {
	return func(s *Store) {
		s.gauge = g
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{capacity: DefaultCapacity}

	for _, opt := range opts {
		opt(s)
	}

	s.items = make([]models.NotificationEvent, 0, s.capacity)

	return s
}

// Post inserts ev at the head, evicting the oldest entry past capacity.
func (s *Store) Post(ev models.NotificationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) < s.capacity {
		s.items = append(s.items, models.NotificationEvent{})
	}

	copy(s.items[1:], s.items[:len(s.items)-1])
	s.items[0] = ev

	s.reportLocked()
}

// Remove deletes the entry with key. It reports whether one was found.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].Key == key {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.reportLocked()

			return true
		}
	}

	return false
}

// Snapshot returns a copy of the buffer, most recent first.
func (s *Store) Snapshot() []models.NotificationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.NotificationEvent, len(s.items))
	copy(out, s.items)

	return out
}

// Clear empties the buffer and returns how many entries were dropped.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.items)
	s.items = s.items[:0]
	s.reportLocked()

	return n
}

// Len returns the number of buffered entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

func (s *Store) reportLocked() {
	if s.gauge != nil {
		s.gauge.Set(float64(len(s.items)))
	}
}
