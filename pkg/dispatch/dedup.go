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

import "sync"

// idWindow remembers the last N command ids in arrival order.
type idWindow struct {
	mu   sync.Mutex
	ids  []string
	next int
	seen map[string]struct{}
}

func newIDWindow(size int) *idWindow {
	if size <= 0 {
		return nil
	}

	return &idWindow{
		ids:  make([]string, size),
		seen: make(map[string]struct{}, size),
	}
}

// observe records id and reports whether it was already in the window.
func (w *idWindow) observe(id string) bool {
	if w == nil || id == "" {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[id]; dup {
		return true
	}

	if evicted := w.ids[w.next]; evicted != "" {
		delete(w.seen, evicted)
	}

	w.ids[w.next] = id
	w.seen[id] = struct{}{}
	w.next = (w.next + 1) % len(w.ids)

	return false
}
