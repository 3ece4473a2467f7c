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

package artifact

import (
	"io"
	"time"

	"github.com/nmarsh/brisk/httpproto"
	"github.com/nmarsh/brisk/task"
)

// FileHandle is an open file descriptor a Sender can transfer from.
type FileHandle interface {
	Fd() uintptr
	Close() error
}

// FileOpener is the `lwan_openat`-equivalent collaborator (§6): opens a
// path relative to the server's root, suspending the calling task if the
// per-process fd table is exhausted rather than failing immediately.
// Negative return conditions map to the error Kinds named in §4.5's
// "Large" serve description (EACCES -> 403, ENFILE -> 503, other -> 404);
// the concrete implementation (brisk.openfile) does that classification,
// FileOpener only needs to return a plain error here.
type FileOpener interface {
	Open(t *task.Task, path string) (FileHandle, error)
}

// FileSender is the `lwan_sendfile`-equivalent collaborator: a zero-copy
// file-to-socket transfer over [offset, offset+count) that may suspend the
// task on EAGAIN.
type FileSender interface {
	SendFile(t *task.Task, dst io.Writer, src FileHandle, offset, count int64) (int64, error)
}

// Large is a zero-copy, range-capable artifact for files at or above
// SmallFileThreshold bytes. Unlike Small, it holds no file content itself
// — only the relative filename and size recorded at init, per §4.5's
// "Large" init description — and opens the underlying file fresh on every
// Serve call via the injected FileOpener.
type Large struct {
	relPath      string
	size         int64
	lastModified time.Time
	mimeType     string

	opener FileOpener
	sender FileSender
}

// NewLarge records relPath and size; no file is opened until Serve.
func NewLarge(relPath string, size int64, lastModified time.Time, mimeType string, opener FileOpener, sender FileSender) *Large {
	return &Large{
		relPath:      relPath,
		size:         size,
		lastModified: lastModified,
		mimeType:     mimeType,
		opener:       opener,
		sender:       sender,
	}
}

func (l *Large) Kind() Kind              { return KindLarge }
func (l *Large) LastModified() time.Time { return l.lastModified }

// Serve implements §4.5's "Large" serve: parse Range, short-circuit to
// headers-only for HEAD or 304, else open the file (which may suspend the
// task on fd exhaustion), send headers, then a zero-copy transfer of the
// resolved window.
func (l *Large) Serve(t *task.Task, w io.Writer, req *httpproto.Request, dates DateSource) (int, error) {
	if notModified(l.lastModified, req) {
		h := commonHeaders(304, l.lastModified, 0, "", "", dates).End()
		return 304, writeGather(w, h, nil)
	}

	rng := parseRange(req.RangeHeader(), l.size)
	if !rng.Satisfiable {
		h := commonHeaders(416, l.lastModified, 0, "", "", dates).End()
		return 416, writeGather(w, h, nil)
	}

	status := 200
	if rng.From != 0 || rng.Length != l.size {
		status = 206
	}

	h := commonHeaders(status, l.lastModified, rng.Length, "", l.mimeType, dates).End()

	if req.Method == "HEAD" {
		return status, writeGather(w, h, nil)
	}

	handle, err := l.opener.Open(t, l.relPath)
	if err != nil {
		return 0, err
	}
	defer handle.Close()

	if _, err := w.Write(h); err != nil {
		return 0, err
	}
	if _, err := l.sender.SendFile(t, w, handle, rng.From, rng.Length); err != nil {
		return 0, err
	}
	return status, nil
}

// Free is a no-op: Large holds no persistent resources between requests.
func (l *Large) Free() {}
