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

//go:build !linux

package epoll

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by Wait once Close has been called.
var ErrClosed = errors.New("epoll: set closed")

// maxPollWaitMillis bounds how long a single poll(2) call blocks when the
// caller asked to wait indefinitely, so that Close (which cannot interrupt
// an in-flight poll(2)) is noticed within a bounded time instead of only
// on the next event.
const maxPollWaitMillis = 1000

// pollSet is the portable poll(2)-based fallback Set for platforms without
// epoll, per spec.md §9's license to substitute an alternative
// implementation so long as the observable contract (edge-ish read
// readiness, level write readiness, one set per worker) holds. It is
// O(n) in the number of registered fds per Wait rather than epoll's O(1),
// a reduced-performance fallback, not a protocol change.
type pollSet struct {
	mu     sync.Mutex
	dir    map[int]Direction
	closed atomic.Bool
}

// New constructs a portable Set. hint is accepted for interface symmetry
// with the Linux implementation but unused here.
func New(hint int) (Set, error) {
	return &pollSet{dir: make(map[int]Direction)}, nil
}

func (s *pollSet) Add(fd int, dir Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir[fd] = dir
	return nil
}

func (s *pollSet) Rearm(fd int, dir Direction) error {
	return s.Add(fd, dir)
}

func (s *pollSet) Remove(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dir, fd)
}

func (s *pollSet) Wait(dst []Event, timeoutMillis int) ([]Event, error) {
	if s.closed.Load() {
		return dst, ErrClosed
	}
	if timeoutMillis < 0 || timeoutMillis > maxPollWaitMillis {
		timeoutMillis = maxPollWaitMillis
	}

	s.mu.Lock()
	fds := make([]unix.PollFd, 0, len(s.dir))
	order := make([]int, 0, len(s.dir))
	for fd, dir := range s.dir {
		var events int16 = unix.POLLHUP | unix.POLLERR
		if dir == DirWrite {
			events |= unix.POLLOUT
		} else {
			events |= unix.POLLIN
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		order = append(order, fd)
	}
	s.mu.Unlock()

	if len(fds) == 0 {
		// poll(2) with zero fds still honors the timeout as a sleep, which
		// is exactly the behavior a worker with an empty slab wants while
		// waiting for its next accept.
	}

	n, err := unix.Poll(fds, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	if n == 0 {
		return dst, nil
	}

	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		e := Event{Fd: order[i]}
		e.Readable = pfd.Revents&unix.POLLIN != 0
		e.Writable = pfd.Revents&unix.POLLOUT != 0
		e.Hangup = pfd.Revents&unix.POLLHUP != 0
		e.Err = pfd.Revents&unix.POLLERR != 0
		dst = append(dst, e)
	}
	return dst, nil
}

func (s *pollSet) Close() error {
	s.closed.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = make(map[int]Direction)
	return nil
}
