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
	"context"
	"net"

	"github.com/jacobsa/timeutil"
	"golang.org/x/sys/unix"

	"github.com/nmarsh/brisk/expqueue"
	"github.com/nmarsh/brisk/httpproto"
	"github.com/nmarsh/brisk/internal/epoll"
	"github.com/nmarsh/brisk/metrics"
	"github.com/nmarsh/brisk/task"
)

// Worker owns one readiness-notification set, a slab of per-fd connection
// records, and one expiration queue, and runs the event loop, per spec.md
// §4.3. Everything it touches — its slab, its queue, its readiness set —
// belongs to it alone; the only state it shares with other workers is the
// Handler's cache (C6), which is internally synchronized.
type Worker struct {
	id int

	set   epoll.Set
	slab  *Slab
	queue *expqueue.Queue

	// listenFD is the shared listening socket's fd, armed into this
	// worker's own epoll set by ArmListener, or -1 if none is armed yet.
	// Accept happens on whichever worker's event loop wakes for it first
	// — every worker registers the same fd in its own independent epoll
	// set, so acceptance is never routed through a separate goroutine
	// that would touch this worker's slab/queue/set from outside it
	// (spec.md §5: "each fd's record is touched only by the worker that
	// accepted it").
	listenFD int

	handler          *Handler
	dates            *httpproto.DateCache
	keepAliveTimeout int64 // in queue ticks (seconds)

	metrics *metrics.Worker
}

// NewWorker constructs a Worker with its own epoll set, slab, and
// expiration queue, all sized to maxFD (spec.md §6's threads.max_fd).
func NewWorker(id, maxFD int, keepAliveTimeoutSeconds int64, handler *Handler, clk timeutil.Clock, m *metrics.Worker) (*Worker, error) {
	w := &Worker{
		id:               id,
		listenFD:         -1,
		handler:          handler,
		dates:            httpproto.NewDateCache(clk),
		keepAliveTimeout: keepAliveTimeoutSeconds,
		metrics:          m,
	}

	set, err := epoll.New(maxFD)
	if err != nil {
		return nil, err
	}
	w.set = set
	w.slab = NewSlab(maxFD, w, m)
	w.queue = expqueue.New(maxFD, w.slab, clk)

	return w, nil
}

// ID reports the worker's index within its server's pool, for logging and
// metrics labeling.
func (w *Worker) ID() int { return w.id }

// Slab exposes the worker's connection slab, mostly for diagnostics.
func (w *Worker) Slab() *Slab { return w.slab }

// Set exposes the worker's readiness set, mostly for diagnostics.
func (w *Worker) Set() epoll.Set { return w.set }

// Queue exposes the worker's expiration queue, mostly for diagnostics.
func (w *Worker) Queue() *expqueue.Queue { return w.queue }

// ArmListener registers the shared listening socket's fd for read
// readiness in this worker's own epoll set. Every worker in the pool
// arms the same fd, each in its own independent set; whichever worker's
// Wait call wakes for it accepts — accept is thereby never routed through
// code that would touch another worker's slab, queue, or set, matching
// §5's "each fd's record is touched only by the worker that accepted it".
func (w *Worker) ArmListener(fd int) error {
	w.listenFD = fd
	return w.set.Add(fd, epoll.DirRead)
}

// Close closes the worker's readiness set, per spec.md §4.3's shutdown
// discipline: once the multiplexor fd is closed, Run's next Wait call
// returns a fatal error, ending its event loop. A Wait already blocked is
// not woken early; it returns within its one-second bound first.
func (w *Worker) Close() error { return w.set.Close() }

// Run drives the event loop until ctx is cancelled or the readiness set
// reports a fatal error (typically because Close was called to signal
// shutdown). A fatal readiness error ends only this worker; other workers
// are unaffected, per spec.md §7's "Fatal worker error" taxonomy entry.
func (w *Worker) Run(ctx context.Context) error {
	events := make([]epoll.Event, 0, w.slab.Cap())

	for {
		if ctx.Err() != nil {
			return nil
		}

		timeout := w.queue.TimeoutSuggestionMillis()

		var err error
		events, err = w.set.Wait(events[:0], timeout)
		if err != nil {
			getLogger().Printf("worker %d: fatal readiness error: %v", w.id, err)
			return Classify(KindFatalWorker, err)
		}

		if len(events) == 0 {
			w.queue.TickAndReap()
			w.dates.Refresh()
			continue
		}

		for _, ev := range events {
			w.handleEvent(ev)
		}
	}
}

// handleEvent implements the per-event body of §4.3's event loop. A
// readiness event on the shared listening socket is handled entirely
// here, before any slab lookup — the listener's fd is not itself a slab
// index, and since fd values are reused once closed, it could otherwise
// collide with one.
func (w *Worker) handleEvent(ev epoll.Event) {
	if w.listenFD >= 0 && ev.Fd == w.listenFD {
		w.acceptAll()
		return
	}

	conn := w.slab.At(ev.Fd)
	if conn == nil || !conn.alive {
		return
	}

	if ev.Hangup || ev.Err {
		w.set.Remove(ev.Fd)
		w.slab.MarkHangup(ev.Fd)
		if w.metrics != nil {
			w.metrics.DecConnections()
		}
		return
	}

	stillRunning := w.driveConnection(conn)

	dir := epoll.DirRead
	if stillRunning && conn.task.LastReason() == task.ReasonWrite {
		dir = epoll.DirWrite
	}
	if !conn.registered || conn.registeredDir != dir {
		if err := w.set.Rearm(ev.Fd, dir); err != nil {
			_ = w.set.Add(ev.Fd, dir)
		}
		conn.registered = true
		conn.registeredDir = dir
	}

	if stillRunning || conn.isKeepAlive {
		conn.timeToDie = w.queue.Time() + w.keepAliveTimeout
	} else {
		conn.timeToDie = w.queue.Time()
	}

	if !conn.inQueue {
		w.queue.Push(ev.Fd)
		conn.inQueue = true
	}
}

// acceptAll drains every connection currently pending on the shared
// listening socket into this worker's own slab, queue, and epoll set.
// The listener is edge-triggered, so every wakeup must accept until
// EAGAIN rather than stopping at the first one.
func (w *Worker) acceptAll() {
	for {
		fd, sa, err := unix.Accept4(w.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err != unix.EAGAIN && err != unix.ECONNABORTED {
				getLogger().Printf("worker %d: accept: %v", w.id, err)
			}
			return
		}
		w.acceptOne(fd, sa)
	}
}

// acceptOne slabs a freshly accepted fd, arms it for read readiness, and
// gives it a full keep-alive grace period before the next tick could
// otherwise reap it — the same bookkeeping handleEvent performs for an
// already-slabbed connection after driving it.
func (w *Worker) acceptOne(fd int, sa unix.Sockaddr) {
	conn := w.slab.Accept(fd, sockaddrToAddr(sa), w)
	if conn == nil {
		// threads.max_fd exceeded: the kernel handed us an fd our slab
		// can't index. Refuse rather than corrupt the slab.
		_ = unix.Close(fd)
		return
	}
	if err := w.set.Add(fd, epoll.DirRead); err != nil {
		w.slab.MarkHangup(fd)
		return
	}
	conn.registered = true
	conn.registeredDir = epoll.DirRead
	conn.timeToDie = w.queue.Time() + w.keepAliveTimeout
	conn.inQueue = true
	w.queue.Push(fd)
}

// sockaddrToAddr converts the raw sockaddr Accept4 returns into a
// net.Addr for Connection.RemoteAddr, handling only the two families a
// TCP listener can hand back.
func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	default:
		return nil
	}
}

// driveConnection creates a task if needed and resumes it, looping
// immediately (without waiting for another readiness event) whenever a
// finished task leaves pipelined request bytes already sitting in the
// connection's buffered reader — the socket itself won't become readable
// again for bytes the kernel already handed over.
func (w *Worker) driveConnection(conn *Connection) (stillRunning bool) {
	for {
		if conn.task != nil && conn.task.Done() {
			conn.task.Free(w)
			conn.task = nil
		}
		if conn.task == nil {
			conn.task = task.Create(w, w.handler.RequestEntry, conn)
		}

		stillRunning = conn.task.Resume(w)
		if stillRunning {
			return true
		}

		conn.task.Free(w)
		conn.task = nil
		if !conn.isKeepAlive || conn.reader.Buffered() == 0 {
			return false
		}
		// A pipelined request is already fully buffered; serve it now
		// rather than waiting for a readiness event that may never come.
	}
}
