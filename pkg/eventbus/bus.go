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

// Package eventbus fans typed scan lifecycle events out to in-process
// subscribers (a CLI progress reporter, a web UI) and, when started via
// RunServer, to external consumers over HTTP/WebSocket and gRPC.
// Grounded on the teacher's pkg/lifecycle/server.go composition of
// listeners behind one RunServer entry point.
package eventbus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// defaultHistoryCap bounds the ring buffer spec.md 4.K requires for
// late subscribers: "a capped ring buffer retains the last N events".
const defaultHistoryCap = 1000

// Filter selects which event types a subscriber receives. The zero
// value matches every event ("all"); FilterTypes restricts it to a
// specific set ("by event type").
type Filter struct {
	types map[EventType]bool
}

// AllEvents returns a Filter matching every event type.
func AllEvents() Filter {
	return Filter{}
}

// FilterTypes returns a Filter matching only the named event types.
func FilterTypes(types ...EventType) Filter {
	m := make(map[EventType]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return Filter{types: m}
}

func (f Filter) matches(t EventType) bool {
	if len(f.types) == 0 {
		return true
	}
	return f.types[t]
}

// Bus is a typed pub/sub fan-out publisher. Each subscriber owns an
// unbounded queue (spec.md 4.K: subscribers "receive via an unbounded
// queue") drained by a dedicated goroutine into its output channel, so
// one slow consumer backs up only its own queue, never the publisher
// or other subscribers. A capped ring buffer retains the most recent
// events for History queries and for replaying into new subscribers
// that ask for it. Back-to-back publications of an identical event (a
// scheduler retry re-emitting the same progress update) are collapsed
// to one send, tracked via a cheap content hash rather than a deep
// equality check.
type Bus struct {
	mu         sync.Mutex
	subs       map[int]*subscriber
	next       int
	seq        uint64
	history    []Event
	historyCap int
	lastHash   uint64
	haveLast   bool
	metrics    *metrics
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber), metrics: newMetrics(), historyCap: defaultHistoryCap}
}

// Subscribe returns a channel of events matching filter and an
// unsubscribe function. When replay is true, the subscriber's queue is
// pre-loaded with every currently retained history event filter
// matches, so a late subscriber does not miss what happened before it
// connected.
func (b *Bus) Subscribe(filter Filter, replay bool) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := newSubscriber(filter)
	if replay {
		for _, ev := range b.history {
			if filter.matches(ev.Type) {
				sub.push(ev)
			}
		}
	}
	b.subs[id] = sub
	b.metrics.subscribers.Inc()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			s.closeQueue()
			b.metrics.subscribers.Dec()
		}
	}
	return sub.out, unsubscribe
}

// Publish builds an Event from typ and data, retains it in the ring
// buffer, and fans it out to every subscriber whose filter accepts
// typ. It never blocks on a subscriber: each subscriber's unbounded
// queue absorbs the send immediately.
func (b *Bus) Publish(typ EventType, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if hash, ok := hashEvent(typ, data); ok {
		if b.haveLast && hash == b.lastHash {
			return
		}
		b.lastHash, b.haveLast = hash, true
	}

	b.seq++
	ev := Event{Type: typ, Seq: b.seq, Time: time.Now(), Data: data}

	b.history = append(b.history, ev)
	if len(b.history) > b.historyCap {
		b.history = append([]Event(nil), b.history[len(b.history)-b.historyCap:]...)
	}

	b.metrics.published.Inc()
	for _, s := range b.subs {
		if !s.filter.matches(typ) {
			continue
		}
		s.push(ev)
	}
}

// History returns up to the last n retained events matching filter,
// oldest first. n <= 0 returns the entire retained window. Scans the
// in-memory ring buffer only, so a 1000-event query is a slice copy,
// not an I/O round trip — spec.md 4.K's "< 100 µs" budget.
func (b *Bus) History(filter Filter, n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []Event
	for _, ev := range b.history {
		if filter.matches(ev.Type) {
			matched = append(matched, ev)
		}
	}
	if n > 0 && len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched
}

// hashEvent returns a 64-bit content hash of (typ, data)'s JSON
// encoding. It reports false if data cannot be marshalled, in which
// case the caller should publish unconditionally rather than treat it
// as a duplicate.
func hashEvent(typ EventType, data any) (uint64, bool) {
	b, err := json.Marshal(struct {
		Type EventType
		Data any
	}{typ, data})
	if err != nil {
		return 0, false
	}
	return xxhash.Sum64(b), true
}

// SubscriberCount reports the current number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// subscriber backs one Subscribe call: an unbounded FIFO guarded by a
// mutex/condvar, drained by pump into the unbuffered out channel so a
// blocked reader never stalls Bus.Publish.
type subscriber struct {
	filter Filter

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	out    chan Event
}

func newSubscriber(filter Filter) *subscriber {
	s := &subscriber{filter: filter, out: make(chan Event)}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) closeQueue() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			close(s.out)
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.out <- ev
	}
}
