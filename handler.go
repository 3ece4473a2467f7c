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
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jacobsa/reqtrace"
	"github.com/jacobsa/timeutil"

	"github.com/nmarsh/brisk/artifact"
	"github.com/nmarsh/brisk/cache"
	"github.com/nmarsh/brisk/httpproto"
	"github.com/nmarsh/brisk/metrics"
	"github.com/nmarsh/brisk/pathresolver"
	"github.com/nmarsh/brisk/task"
)

// Handler is the file handler §2's flow diagram calls out: it is the
// single collaborator shared by every worker's request entry function,
// wired to the one shared Content Cache (C6) and the Path Resolver (C4).
// It carries no per-worker state; DateSource is looked up per call via the
// serving connection's owning worker, since Date/Expires strings are
// cached per worker (§9 design note), not globally.
type Handler struct {
	resolver *pathresolver.Resolver
	cache    *cache.Cache[artifact.Artifact]
	metrics  *metrics.Metrics
}

// NewHandler constructs a Handler and the shared Content Cache it serves
// from, wiring buildArtifact/destroyArtifact as the cache's create/destroy
// collaborators (§4.6). m may be nil, in which case metrics collection is
// skipped entirely.
func NewHandler(
	resolver *pathresolver.Resolver,
	opener artifact.FileOpener,
	sender artifact.FileSender,
	ttlSeconds int64,
	clk timeutil.Clock,
	maxEntries int,
	m *metrics.Metrics,
) *Handler {
	build := buildArtifactFunc(resolver, opener, sender)
	c := cache.New[artifact.Artifact](build, destroyArtifact, ttlSeconds, clk, maxEntries)
	return &Handler{resolver: resolver, cache: c, metrics: m}
}

// Cache exposes the shared cache for diagnostics (e.g. the debug/metrics
// listener reporting Len()) and for DestroyAll at shutdown.
func (h *Handler) Cache() *cache.Cache[artifact.Artifact] { return h.cache }

// buildArtifactFunc closes over the resolver and the Large-variant
// collaborators to produce the cache's create function: given a key
// (already a canonical full path produced by the resolver), stat it fresh
// and construct the matching artifact variant. Re-classifying by Kind
// rather than trusting a Resolution captured at lookup time means a file
// that changed between resolve and create is picked up rather than served
// stale, at the cost of one extra stat — acceptable since this only runs
// on a cache miss.
func buildArtifactFunc(resolver *pathresolver.Resolver, opener artifact.FileOpener, sender artifact.FileSender) cache.CreateFunc[artifact.Artifact] {
	return func(fullPath string) (artifact.Artifact, error) {
		info, err := os.Stat(fullPath)
		if err != nil {
			return nil, Classify(KindNotFound, err)
		}

		if info.IsDir() {
			rel, err := filepath.Rel(resolver.Root, fullPath)
			if err != nil {
				rel = "."
			}
			return artifact.NewDir(fullPath, rel)
		}

		mimeType := httpproto.MIMEType(fullPath)
		if info.Size() < pathresolver.SmallFileThreshold {
			return artifact.NewSmall(fullPath, info, mimeType)
		}

		rel, err := filepath.Rel(resolver.Root, fullPath)
		if err != nil {
			return nil, Classify(KindInternal, err)
		}
		return artifact.NewLarge(rel, info.Size(), info.ModTime(), mimeType, opener, sender), nil
	}
}

func destroyArtifact(a artifact.Artifact) { a.Free() }

// RequestEntry is the per-connection task's entry function (§4.3): it
// reads one request, resets the connection's per-request state from it,
// serves it, and returns — ending the task. The worker creates a fresh task
// (and so a fresh RequestEntry call) for each request/response cycle on a
// keep-alive connection.
func (h *Handler) RequestEntry(t *task.Task, data interface{}) {
	conn := data.(*Connection)
	conn.task = t

	reqID := uuid.New().String()
	_, report := reqtrace.StartSpan(t.Context(), "brisk.serveRequest")

	req, err := httpproto.Read(conn.reader)
	if err != nil {
		conn.SetKeepAlive(false)
		if h.metrics != nil && err != io.EOF {
			h.metrics.IncMalformedRequests()
		}
		report(err)
		return
	}

	conn.resetForRequest(req.RawQuery)
	conn.SetKeepAlive(!req.WantsClose())

	getLogger().Printf("req=%s %s", reqID, req.String())

	status, serveErr := h.serve(t, conn, req)
	if h.metrics != nil {
		h.metrics.ObserveRequest(req.Method, status)
	}
	if serveErr != nil {
		conn.SetKeepAlive(false)
	}
	report(serveErr)
}

// serve implements the handler half of the flow in §2: resolve the path,
// get-and-ref the matching artifact from the cache, and Serve it. Any
// classified error surfaced before a response has been written is turned
// into the matching status-only response per §7's recovery-locality rule
// — no error escapes this function.
func (h *Handler) serve(t *task.Task, conn *Connection, req *httpproto.Request) (int, error) {
	if req.Method != "GET" && req.Method != "HEAD" {
		return h.writeStatusOnly(conn, 404)
	}

	resolution, err := h.resolver.Resolve(req.Path)
	if err != nil {
		return h.writeStatusOnly(conn, 404)
	}

	art, reason := h.cache.TaskScopedGetAndRef(t, resolution.FullPath)
	if h.metrics != nil {
		h.metrics.ObserveCacheLookup(reason == cache.ReasonNone)
	}
	if reason == cache.ReasonCreateFailed {
		return h.writeStatusOnly(conn, 404)
	}

	status, err := art.Serve(t, conn, req, conn.worker.dates)
	if err != nil {
		respStatus := StatusFor(err)
		if respStatus == 0 {
			// KindTransient: nothing is logged, nothing further is written.
			return 0, err
		}
		if _, werr := h.writeStatusOnly(conn, respStatus); werr != nil {
			return 0, werr
		}
		return respStatus, err
	}
	if h.metrics != nil {
		h.metrics.ObserveBytesServed(art.Kind().String(), conn.BytesWritten())
	}
	return status, nil
}

func (h *Handler) writeStatusOnly(conn *Connection, status int) (int, error) {
	hdrs := httpproto.NewResponseHeaders(status).
		Set("Content-Length", "0").
		End()
	if _, err := conn.Write(hdrs); err != nil {
		return 0, err
	}
	return status, nil
}
