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

//go:build linux

package epoll

import (
	"golang.org/x/sys/unix"
)

// epollSet is the Linux epoll(7)-backed Set.
type epollSet struct {
	fd   int
	buf  []unix.EpollEvent
}

// New creates a Set backed by a fresh epoll instance sized to hint
// (normally the worker's fd slab size, used only to presize Wait's scratch
// buffer).
func New(hint int) (Set, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if hint <= 0 {
		hint = 64
	}
	return &epollSet{fd: fd, buf: make([]unix.EpollEvent, hint)}, nil
}

func eventsFor(dir Direction) uint32 {
	switch dir {
	case DirWrite:
		// Level-triggered: re-delivered as long as the socket is writable,
		// per spec.md §4.3.
		return unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLERR
	default:
		// Edge-triggered: delivered once per readability transition.
		return unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLERR | unix.EPOLLET
	}
}

func (s *epollSet) Add(fd int, dir Direction) error {
	ev := unix.EpollEvent{Events: eventsFor(dir), Fd: int32(fd)}
	return unix.EpollCtl(s.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (s *epollSet) Rearm(fd int, dir Direction) error {
	ev := unix.EpollEvent{Events: eventsFor(dir), Fd: int32(fd)}
	return unix.EpollCtl(s.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (s *epollSet) Remove(fd int) {
	// EpollCtl with a nil event is accepted by the kernel for DEL, but the
	// Go binding still requires a non-nil pointer; its contents are
	// ignored for DEL.
	var ev unix.EpollEvent
	_ = unix.EpollCtl(s.fd, unix.EPOLL_CTL_DEL, fd, &ev)
}

// maxEpollWaitMillis bounds how long a single epoll_wait(2) call blocks.
// Closing the epoll fd does not wake a thread already blocked in
// epoll_wait(2), so an unbounded wait would never notice Close.
const maxEpollWaitMillis = 1000

func (s *epollSet) Wait(dst []Event, timeoutMillis int) ([]Event, error) {
	if timeoutMillis < 0 || timeoutMillis > maxEpollWaitMillis {
		timeoutMillis = maxEpollWaitMillis
	}
	n, err := unix.EpollWait(s.fd, s.buf, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}

	for i := 0; i < n; i++ {
		raw := s.buf[i]
		e := Event{Fd: int(raw.Fd)}
		e.Readable = raw.Events&unix.EPOLLIN != 0
		e.Writable = raw.Events&unix.EPOLLOUT != 0
		e.Hangup = raw.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0
		e.Err = raw.Events&unix.EPOLLERR != 0
		dst = append(dst, e)
	}
	return dst, nil
}

func (s *epollSet) Close() error {
	return unix.Close(s.fd)
}
