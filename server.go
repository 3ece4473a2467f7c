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
	"fmt"
	"net"
	"path/filepath"

	"github.com/jacobsa/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/nmarsh/brisk/artifact"
	"github.com/nmarsh/brisk/cache"
	"github.com/nmarsh/brisk/metrics"
	"github.com/nmarsh/brisk/pathresolver"
)

// Config carries the options §6 names (root_path, index_html,
// keep_alive_timeout, threads.count, threads.max_fd) plus the SUPPLEMENTED
// cache-size bound. It is the in-process twin of config.File — the CLI
// layer (cmd/briskd) is responsible for turning a TOML file and flags into
// one of these.
type Config struct {
	// ListenAddr is the address Listen binds, e.g. ":8080".
	ListenAddr string

	// RootPath is the directory served; it is opened once at startup and
	// every file lookup resolves beneath its fd (§6 "Filesystem surface").
	RootPath string

	// IndexHTML is the default index document name (§6, default
	// "index.html" applied by the caller if this is empty).
	IndexHTML string

	// KeepAliveTimeoutSeconds is the idle timeout (§6 keep_alive_timeout)
	// after which a connection with no activity is reaped.
	KeepAliveTimeoutSeconds int64

	// ThreadsCount is the number of worker threads (§6 threads.count).
	ThreadsCount int

	// ThreadsMaxFD is the per-worker fd slab size (§6 threads.max_fd).
	ThreadsMaxFD int

	// CacheTTLSeconds is the artifact TTL (§3's ttl_deadline); artifacts
	// past this age are rebuilt lazily on their next miss.
	CacheTTLSeconds int64

	// CacheMaxEntries bounds the cache's LRU-assisted eviction mode
	// (SUPPLEMENTED FEATURES); 0 disables the bound and leaves eviction to
	// TTL and floating-drop alone, per §4.6 exactly as specified.
	CacheMaxEntries int
}

func (c Config) indexHTML() string {
	if c.IndexHTML == "" {
		return "index.html"
	}
	return c.IndexHTML
}

func (c Config) keepAliveTimeout() int64 {
	if c.KeepAliveTimeoutSeconds <= 0 {
		return 15
	}
	return c.KeepAliveTimeoutSeconds
}

func (c Config) threadsCount() int {
	if c.ThreadsCount <= 0 {
		return 1
	}
	return c.ThreadsCount
}

func (c Config) threadsMaxFD() int {
	if c.ThreadsMaxFD <= 0 {
		return 1024
	}
	return c.ThreadsMaxFD
}

func (c Config) cacheTTL() int64 {
	if c.CacheTTLSeconds <= 0 {
		return 60
	}
	return c.CacheTTLSeconds
}

// Server owns the listening socket, the canonical root directory fd, the
// shared Handler (and so the shared Content Cache, C6), and the fixed pool
// of Workers (C3) that actually drive connections. It is the "outer
// system" §4.3 refers to: it creates N workers, each with its own
// multiplexor fd, and later closes all of them to signal shutdown.
type Server struct {
	cfg Config

	rootFD   int
	resolver *pathresolver.Resolver
	handler  *Handler
	clk      timeutil.Clock

	listener net.Listener
	listenFD int
	workers  []*Worker

	registry *prometheus.Registry
}

// Registry exposes the server's Prometheus registry so the caller (the CLI
// entrypoint) can serve it on a loopback-only debug listener, per
// SPEC_FULL.md's observability additions. Never served on the public
// socket — no Non-goal excludes metrics, but none motivates exposing them
// publicly either.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// NewServer opens cfg.RootPath as the canonical root fd, wires the Path
// Resolver (C4) and Handler/Cache (C6) against it, and constructs
// cfg.threadsCount() Workers (C3), each with its own epoll set and fd
// slab sized to cfg.threadsMaxFD(). It does not bind a listener or start
// any worker loop; call Listen and then Run.
func NewServer(cfg Config, clk timeutil.Clock) (*Server, error) {
	canonicalRoot, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return nil, Classify(KindFatalProcess, err)
	}
	canonicalRoot, err = filepath.EvalSymlinks(canonicalRoot)
	if err != nil {
		return nil, Classify(KindFatalProcess, err)
	}

	rootFD, err := unix.Open(canonicalRoot, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, Classify(KindFatalProcess, err)
	}

	resolver := pathresolver.New(canonicalRoot, cfg.indexHTML())

	registry := prometheus.NewRegistry()

	var sharedCache *cache.Cache[artifact.Artifact]
	cacheLen := func() int {
		if sharedCache == nil {
			return 0
		}
		return sharedCache.Len()
	}
	handlerMetrics := metrics.New(registry, cacheLen)

	// The opener/sender pair is shared by every worker: the root fd and
	// the sendfile syscall wrapper are both process-wide resources, so one
	// instance suffices (unlike the per-worker epoll set and slab, which
	// must not be shared). Its retry counter is labeled "shared" rather
	// than by worker id, since no single worker owns it.
	openerMetrics := metrics.NewWorker(registry, "shared")
	opener := newOpener(rootFD, openerMetrics)
	sender := newSendfileSender()

	handler := NewHandler(resolver, opener, sender, cfg.cacheTTL(), clk, cfg.CacheMaxEntries, handlerMetrics)
	sharedCache = handler.Cache()

	s := &Server{
		cfg:      cfg,
		rootFD:   rootFD,
		resolver: resolver,
		handler:  handler,
		clk:      clk,
		registry: registry,
	}

	workers := make([]*Worker, cfg.threadsCount())
	for i := range workers {
		wm := metrics.NewWorker(registry, fmt.Sprintf("%d", i))
		w, err := NewWorker(i, cfg.threadsMaxFD(), cfg.keepAliveTimeout(), handler, clk, wm)
		if err != nil {
			for _, started := range workers[:i] {
				if started != nil {
					_ = started.Close()
				}
			}
			_ = unix.Close(rootFD)
			return nil, Classify(KindFatalProcess, err)
		}
		workers[i] = w
	}
	s.workers = workers

	return s, nil
}

// Listen binds cfg.ListenAddr and extracts its raw, duplicated,
// non-blocking fd for Run to arm into every worker's own epoll set.
// Accept itself never goes through net.Listener.Accept: per spec.md §5
// each fd's record — including the moment it's born — belongs to exactly
// one worker, so acceptance has to happen inside that worker's own event
// loop rather than a separate goroutine racing its slab and queue.
// s.listener is kept only so Addr can report the bound address and Run
// can close the socket on shutdown.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return Classify(KindFatalProcess, err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return Classify(KindFatalProcess, fmt.Errorf("unexpected listener type %T", ln))
	}
	rawConn, err := tcpLn.SyscallConn()
	if err != nil {
		_ = ln.Close()
		return Classify(KindFatalProcess, err)
	}
	var dupFD int
	var dupErr error
	ctrlErr := rawConn.Control(func(fdPtr uintptr) {
		dupFD, dupErr = unix.Dup(int(fdPtr))
	})
	if ctrlErr != nil {
		_ = ln.Close()
		return Classify(KindFatalProcess, ctrlErr)
	}
	if dupErr != nil {
		_ = ln.Close()
		return Classify(KindFatalProcess, dupErr)
	}
	if err := unix.SetNonblock(dupFD, true); err != nil {
		_ = unix.Close(dupFD)
		_ = ln.Close()
		return Classify(KindFatalProcess, err)
	}

	s.listener = ln
	s.listenFD = dupFD
	return nil
}

// Addr reports the bound listener's address; valid only after Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run arms the shared listening fd into every worker's own epoll set,
// starts every worker's event loop, and blocks until ctx is cancelled.
// Every worker polls the same listening fd in its own independent set;
// whichever one wakes for it accepts inline, so the fd's record is born
// on the same goroutine that will ever touch it again. Cancelling ctx
// closes the listener and every worker's readiness set, the "outer
// system ... closes all multiplexor fds to signal shutdown" discipline
// of §4.3; Run returns once every worker's Run has returned (the
// errgroup's "best-effort join").
func (s *Server) Run(ctx context.Context) error {
	for _, w := range s.workers {
		if err := w.ArmListener(s.listenFD); err != nil {
			return Classify(KindFatalProcess, err)
		}
	}

	group, gctx := errgroup.WithContext(ctx)

	for _, w := range s.workers {
		w := w
		group.Go(func() error { return w.Run(gctx) })
	}

	go func() {
		<-gctx.Done()
		_ = s.listener.Close()
		_ = unix.Close(s.listenFD)
		for _, w := range s.workers {
			_ = w.Close()
		}
	}()

	return group.Wait()
}

// Close releases the server's root directory fd. Workers and the
// listener are closed by Run's shutdown goroutine; Close additionally
// tears down resources Run never touches, for callers that construct a
// Server without ever Running it (e.g. a test that only exercises
// NewServer's wiring).
func (s *Server) Close() error {
	return unix.Close(s.rootFD)
}
