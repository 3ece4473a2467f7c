// Copyright 2024 The Brisk Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package expqueue implements the O(1) expiration queue used to reap idle
// keep-alive connections: a fixed-capacity ring buffer of fd values ordered
// by arrival time. Because every push uses the same keep-alive timeout,
// arrival order and expiration order coincide, so the queue never needs to
// reorder itself.
package expqueue

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// Slab is the minimal view of the connection slab the queue needs: whether
// an fd's connection record is still alive, and a hook to reap one.
type Slab interface {
	// Alive reports whether the connection at fd is still alive. A
	// connection flipped to not-alive by a HUP event but not yet reaped is
	// the queue's lazy-skip case.
	Alive(fd int) bool

	// TimeToDie reports the tick at which fd should be reaped if still
	// alive and idle.
	TimeToDie(fd int) int64

	// Reap closes fd's connection, frees its task, and clears its alive
	// flag. Called only for fds the queue believes are still alive.
	Reap(fd int)

	// FreeDeferredTask frees fd's task if one is still attached despite the
	// connection already being marked not-alive (the HUP case, §4.3: "do
	// not free task here, reaping drains it"). Idempotent; called for
	// every not-alive entry the queue skips so no task is ever abandoned
	// in a connection record that's already past MarkHangup.
	FreeDeferredTask(fd int)
}

// Queue is a fixed-capacity ring buffer of fds in arrival order.
//
// INVARIANT: queue[first].TimeToDie() <= queue[(first+1)%cap].TimeToDie()
// whenever all pushes used the same keep-alive timeout (property #4).
type Queue struct {
	slab Slab
	clk  timeutil.Clock

	buf   []int
	first int
	last  int // index one past the last occupied slot
	pop   int // population

	time       int64 // logical tick, incremented once per idle tick
	lastTickAt time.Time
}

// LastTickAt reports the wall-clock time of the most recent TickAndReap
// call, per the injected Clock (a fake clock in tests), for diagnostics.
func (q *Queue) LastTickAt() time.Time { return q.lastTickAt }

// New creates a queue with the given capacity (normally the worker's fd
// slab size) backed by slab and clk.
func New(capacity int, slab Slab, clk timeutil.Clock) *Queue {
	if capacity <= 0 {
		panic("expqueue: capacity must be positive")
	}
	return &Queue{
		slab: slab,
		clk:  clk,
		buf:  make([]int, capacity),
	}
}

// Len returns the current population of the queue.
func (q *Queue) Len() int { return q.pop }

// Cap returns the queue's fixed capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Time returns the current logical tick.
func (q *Queue) Time() int64 { return q.time }

// Push appends fd to the queue. It does not change the connection's alive
// flag: the caller marks the connection alive before pushing it (brisk's
// Slab.Accept does so), and must not push an fd that is already queued.
//
// If the queue is already at capacity — which should not happen when the
// queue is sized to the slab, since the slab itself bounds live
// connections, but is guarded here rather than silently corrupting the
// ring — the oldest entry is force-reaped to make room (Open Question #3 in
// SPEC_FULL.md §9: refuse-vs-force-reap, resolved as force-reap).
func (q *Queue) Push(fd int) {
	if q.pop == len(q.buf) {
		q.reapOldest()
	}

	q.buf[q.last] = fd
	q.last = (q.last + 1) % len(q.buf)
	q.pop++
}

// TickAndReap increments the logical time by one and reaps every entry at
// the head whose time-to-die has arrived. Entries whose alive flag was
// already cleared (by a HUP observed elsewhere) are popped without being
// reaped again — the queue's lazy-delete discipline.
func (q *Queue) TickAndReap() {
	q.time++
	q.lastTickAt = q.clk.Now()

	for q.pop > 0 {
		fd := q.buf[q.first]

		if q.slab.Alive(fd) {
			if q.slab.TimeToDie(fd) > q.time {
				break
			}
			q.slab.Reap(fd)
		} else {
			// Already flipped not-alive by a HUP observed mid-request:
			// the fd and alive flag were handled there, but its task (if
			// any) is still this queue's responsibility to drain.
			q.slab.FreeDeferredTask(fd)
		}

		q.first = (q.first + 1) % len(q.buf)
		q.pop--
	}
}

func (q *Queue) reapOldest() {
	if q.pop == 0 {
		return
	}
	fd := q.buf[q.first]
	if q.slab.Alive(fd) {
		q.slab.Reap(fd)
	} else {
		q.slab.FreeDeferredTask(fd)
	}
	q.first = (q.first + 1) % len(q.buf)
	q.pop--
}

// TimeoutSuggestionMillis returns the timeout the worker should pass to its
// readiness-wait primitive: 1000ms if any connection is tracked, else -1
// (meaning "wait indefinitely").
func (q *Queue) TimeoutSuggestionMillis() int {
	if q.pop > 0 {
		return 1000
	}
	return -1
}
