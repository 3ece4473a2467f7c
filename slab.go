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

package brisk

import (
	"bufio"
	"bytes"
	"io"
	"net"

	"golang.org/x/sys/unix"

	"github.com/nmarsh/brisk/httpproto"
	"github.com/nmarsh/brisk/internal/epoll"
	"github.com/nmarsh/brisk/metrics"
	"github.com/nmarsh/brisk/task"
)

// Connection is one per-fd record, pre-allocated in a Slab indexed by fd,
// per spec.md §3. Its fields are touched only by the worker that owns the
// Slab it lives in — connections are never shared across workers.
type Connection struct {
	fd     int
	remote net.Addr

	// worker is the owning Worker, needed by the request pipeline to reach
	// its worker's per-tick Date/Expires cache (DateSource).
	worker *Worker

	// reader persists across every request served on this connection —
	// HTTP/1.1 pipelining depends on not discarding bytes already buffered
	// past the end of the previous request.
	reader *bufio.Reader

	// task is the in-flight request/response cycle's task, non-nil only
	// while one is created or running, per §3's invariant that a present
	// task is solely owned by this record.
	task *task.Task

	// responseBuf is reused across requests on the same connection.
	responseBuf bytes.Buffer

	// bytesWritten counts bytes pushed through Write during the current
	// request, for the bytes-served metric. It does not see payload bytes
	// a Large artifact transfers via sendfile, which bypass Write entirely
	// for zero-copy — those bytes are not counted by the metric.
	bytesWritten int64

	// queryKV is reset on every request; see httpproto.ParseQuery's shared
	// empty-sentinel discipline (§9 "Sentinel empty query-string
	// container").
	queryKV []httpproto.KV

	alive       bool
	isKeepAlive bool
	inQueue     bool

	registered    bool
	registeredDir epoll.Direction

	timeToDie int64
}

// Fd returns the connection's file descriptor (also its slab index).
func (c *Connection) Fd() int { return c.fd }

// RemoteAddr returns the peer address recorded at accept time.
func (c *Connection) RemoteAddr() net.Addr { return c.remote }

// ResponseBuffer exposes the connection's reusable response scratch
// buffer to the request pipeline.
func (c *Connection) ResponseBuffer() *bytes.Buffer { return &c.responseBuf }

// IsKeepAlive reports whether the most recently completed request asked
// the connection to stay open.
func (c *Connection) IsKeepAlive() bool { return c.isKeepAlive }

// SetKeepAlive is called by the request pipeline after deciding, from the
// parsed request, whether this connection should stay open.
func (c *Connection) SetKeepAlive(v bool) { c.isKeepAlive = v }

// QueryKV returns the connection's current query key/value slice,
// populated by resetForRequest from the most recently read request line.
func (c *Connection) QueryKV() []httpproto.KV { return c.queryKV }

// Reader returns the connection's persistent buffered reader.
func (c *Connection) Reader() *bufio.Reader { return c.reader }

// Read implements io.Reader against the raw non-blocking fd, yielding the
// connection's in-flight task with task.ReasonRead on EAGAIN rather than
// blocking the worker — the suspension point spec.md §5 calls "any
// socket send/receive performed inside a task that would block".
func (c *Connection) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil:
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		case err == unix.EAGAIN:
			c.task.Yield(task.ReasonRead)
		default:
			return 0, err
		}
	}
}

// Write implements io.Writer against the raw non-blocking fd, yielding on
// EAGAIN the same way Read does.
func (c *Connection) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(c.fd, p[total:])
		if n > 0 {
			total += n
		}
		switch {
		case err == nil:
			continue
		case err == unix.EAGAIN:
			c.task.Yield(task.ReasonWrite)
		default:
			c.bytesWritten += int64(total)
			return total, err
		}
	}
	c.bytesWritten += int64(total)
	return total, nil
}

// BytesWritten reports bytes written via Write during the current
// request (see the bytesWritten field's doc for its Large/sendfile gap).
func (c *Connection) BytesWritten() int64 { return c.bytesWritten }

// resetForRequest implements §4.3's request entry function: reset the
// connection's per-request mutable state (freeing previous query-string
// storage, resetting the response buffer) while preserving the task
// handle, fd, buffer ownership, and remote address.
func (c *Connection) resetForRequest(rawQuery string) {
	c.responseBuf.Reset()
	c.bytesWritten = 0
	c.queryKV = httpproto.ParseQuery(rawQuery, c.queryKV[:0])
}

// Slab is the fd-indexed connection-record array a single Worker owns.
// fd-as-index is O(1) and avoids a hashmap on the hottest path; the
// kernel guarantees fd uniqueness while open, per spec.md §4.3's
// rationale.
type Slab struct {
	conns   []Connection
	owner   interface{}
	metrics *metrics.Worker
}

// NewSlab allocates a slab sized to maxFD, the worker's per-process fd
// cap (spec.md §6's threads.max_fd). owner is the *Worker that will call
// Resume/Free on every task created for connections in this slab. m may
// be nil.
func NewSlab(maxFD int, owner interface{}, m *metrics.Worker) *Slab {
	return &Slab{conns: make([]Connection, maxFD), owner: owner, metrics: m}
}

// Cap reports the slab's fixed capacity.
func (s *Slab) Cap() int { return len(s.conns) }

// At returns the connection record for fd, or nil if fd is out of range
// (a fd value exceeding threads.max_fd; the caller must refuse or close
// such a connection rather than index into the slab).
func (s *Slab) At(fd int) *Connection {
	if fd < 0 || fd >= len(s.conns) {
		return nil
	}
	return &s.conns[fd]
}

// Accept initializes fd's slab slot for a freshly accepted connection,
// marking it alive. The fd must already be set non-blocking by the
// caller (Worker.acceptAll accepts with SOCK_NONBLOCK).
func (s *Slab) Accept(fd int, remote net.Addr, w *Worker) *Connection {
	c := s.At(fd)
	if c == nil {
		return nil
	}
	*c = Connection{
		fd:     fd,
		remote: remote,
		worker: w,
		alive:  true,
	}
	c.reader = bufio.NewReader(c)
	if s.metrics != nil {
		s.metrics.IncConnections()
	}
	return c
}

// Alive implements expqueue.Slab.
func (s *Slab) Alive(fd int) bool {
	c := s.At(fd)
	return c != nil && c.alive
}

// TimeToDie implements expqueue.Slab.
func (s *Slab) TimeToDie(fd int) int64 {
	c := s.At(fd)
	if c == nil {
		return 0
	}
	return c.timeToDie
}

// Reap implements expqueue.Slab: closes the fd, frees fd's task (running
// its deferred cleanups), and clears the alive flag. Called only for fds
// the expiration queue still believes are alive.
//
// The fd is closed before the task is freed, not after: a task reaped
// mid-request is usually parked inside Connection.Read/Write waiting on
// EAGAIN, and Task.Free drives such a task to completion by resuming it.
// Closing first means that resumed retry sees a closed fd (EBADF) instead
// of looping on EAGAIN forever, so the task's entry function unwinds
// immediately instead of Free spinning against a socket nothing will ever
// make ready again.
func (s *Slab) Reap(fd int) {
	c := s.At(fd)
	if c == nil || !c.alive {
		return
	}
	_ = unix.Close(fd)
	if c.task != nil {
		c.task.Free(s.owner)
		c.task = nil
	}
	c.alive = false
	c.inQueue = false
	if s.metrics != nil {
		s.metrics.DecConnections()
	}
}

// MarkHangup flips a connection's alive flag without reaping its task —
// §4.3's "On HUP or peer-reset: set alive=false, close fd, do not free
// task here (reaping drains it)". The expiration queue lazily skips a
// not-alive entry when it next reaches the head, calling
// FreeDeferredTask to finish draining any task left attached here.
func (s *Slab) MarkHangup(fd int) {
	c := s.At(fd)
	if c == nil {
		return
	}
	_ = unix.Close(fd)
	c.alive = false
}

// FreeDeferredTask implements expqueue.Slab: frees fd's task if
// MarkHangup left one attached to an already not-alive connection.
// Idempotent — safe to call on an fd with no leftover task.
func (s *Slab) FreeDeferredTask(fd int) {
	c := s.At(fd)
	if c == nil || c.task == nil {
		return
	}
	c.task.Free(s.owner)
	c.task = nil
}
