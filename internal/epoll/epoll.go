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

// Package epoll wraps the readiness-notification primitive each Worker
// uses to wait for socket events, per spec.md §4.3: edge-triggered read
// readiness, level-triggered write readiness, one set per worker. Linux
// gets a real epoll(7) implementation; other platforms get a poll(2)
// fallback (one poll call over all registered fds per Wait) behind the
// same interface, as the design
// notes in spec.md §9 permit ("implementations on platforms where fd
// values are not dense should substitute...").
package epoll

// Direction names which readiness direction an fd is currently armed for.
type Direction int

const (
	// DirRead arms a connection for edge-triggered read readiness.
	DirRead Direction = iota
	// DirWrite arms a connection for level-triggered write readiness.
	DirWrite
)

// Event is one readiness notification delivered by Wait.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	Hangup   bool // HUP or peer reset
	Err      bool
}

// Set is one worker's readiness-notification set.
type Set interface {
	// Add registers fd for the given direction.
	Add(fd int, dir Direction) error

	// Rearm changes fd's registered direction.
	Rearm(fd int, dir Direction) error

	// Remove deregisters fd. Safe to call even if fd was never added.
	Remove(fd int)

	// Wait blocks up to timeoutMillis and appends ready events to dst,
	// returning the extended slice. A negative timeoutMillis, or one above
	// one second, is capped at one second. A timeoutMillis of 0 with no
	// ready fds returns immediately with an empty slice.
	Wait(dst []Event, timeoutMillis int) ([]Event, error)

	// Close releases the underlying notification fd, per spec.md §4.3's
	// shutdown discipline ("closes all multiplexor fds to signal
	// shutdown"). A Wait already blocked is not woken early: it returns
	// when its (at most one-second) wait ends, and every later Wait call
	// returns an error.
	Close() error
}
