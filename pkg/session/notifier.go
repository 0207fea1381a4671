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

package session

import (
	"sync"

	"github.com/carverauto/cmdagent/pkg/logger"
)

type noticeKind int

const (
	noticeStatus noticeKind = iota
	noticeError
)

type notice struct {
	kind noticeKind
	text string
}

// notifier delivers observer callbacks on a single goroutine. Enqueue never blocks,
// so it can be called while holding the manager lock, which fixes delivery order to
// transition order.
type notifier struct {
	observers []Observer
	logger    logger.Logger

	mu      sync.Mutex
	queue   []notice
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newNotifier(observers []Observer, log logger.Logger) *notifier {
	n := &notifier{
		observers: observers,
		logger:    log,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	go n.run()

	return n
}

func (n *notifier) status(text string) { n.enqueue(notice{kind: noticeStatus, text: text}) }

func (n *notifier) error(text string) { n.enqueue(notice{kind: noticeError, text: text}) }

func (n *notifier) enqueue(nt notice) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}

	n.queue = append(n.queue, nt)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)

	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		stopped := n.stopped
		n.mu.Unlock()

		for _, nt := range batch {
			n.deliver(nt)
		}

		if len(batch) > 0 {
			continue
		}

		if stopped {
			return
		}

		<-n.wake
	}
}

func (n *notifier) deliver(nt notice) {
	for _, o := range n.observers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					n.logger.Error().Interface("panic", p).Msg("Session observer panicked")
				}
			}()

			if nt.kind == noticeStatus {
				o.OnStatusChange(nt.text)
			} else {
				o.OnError(nt.text)
			}
		}()
	}
}

// stop drains pending notices and waits for the delivery goroutine to exit.
func (n *notifier) stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		<-n.done

		return
	}

	n.stopped = true
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}

	<-n.done
}
