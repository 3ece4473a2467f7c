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

// Package artifact implements the three cacheable response variants —
// Small (mmap'd, optionally deflate-compressed), Large (zero-copy
// sendfile, range-capable), and Dir (rendered listing) — each exposing the
// same Init/Serve/Free triple so the content cache can hold any of them
// behind one interface.
package artifact

import (
	"io"
	"time"

	"github.com/nmarsh/brisk/httpproto"
	"github.com/nmarsh/brisk/task"
)

// DateSource supplies the per-worker cached Date/Expires header strings,
// refreshed once per tick rather than formatted on every response.
type DateSource interface {
	Date() string
	Expires() string
}

// Artifact is the common interface every cached response variant
// implements. Serve writes a complete HTTP response (status line, headers,
// and — unless the request is HEAD or the status is 304 — a body) to w,
// suspending the calling task at I/O boundaries where its concrete
// implementation needs to.
type Artifact interface {
	// Kind reports which variant this is, mostly for diagnostics and
	// metrics labeling.
	Kind() Kind

	// LastModified is compared against If-Modified-Since to decide 304s.
	LastModified() time.Time

	// Serve writes the full response for req to w using t only to yield at
	// suspension points (Large's sendfile path); Small and Dir never
	// suspend mid-response since their payload is already in memory.
	Serve(t *task.Task, w io.Writer, req *httpproto.Request, dates DateSource) (status int, err error)

	// Free releases any resources (mmap, open fd) held by the artifact.
	// Called by the cache's destroy collaborator, never while refcount > 0.
	Free()
}

// Kind names which variant an Artifact is.
type Kind int

const (
	KindSmall Kind = iota
	KindLarge
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindSmall:
		return "small"
	case KindLarge:
		return "large"
	case KindDir:
		return "dir"
	default:
		return "unknown"
	}
}

// notModified checks the common If-Modified-Since rule shared by all three
// variants: "if If-Modified-Since >= artifact's last_modified, return 304".
// Comparisons are truncated to whole seconds since HTTP dates carry no
// finer resolution.
func notModified(lastModified time.Time, req *httpproto.Request) bool {
	since, ok := req.IfModifiedSince()
	if !ok {
		return false
	}
	return !since.Truncate(time.Second).Before(lastModified.Truncate(time.Second))
}
