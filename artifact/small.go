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
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nmarsh/brisk/httpproto"
	"github.com/nmarsh/brisk/task"
)

// Small is an mmap'd, optionally deflate-compressed artifact for files
// under SmallFileThreshold bytes.
type Small struct {
	path         string
	lastModified time.Time
	mimeType     string

	raw        []byte // the mmap'd region
	compressed []byte // present only if compression paid for itself
	file       *os.File
}

// NewSmall maps path into memory and attempts deflate compression, per
// §4.5's "Small" init: "memory-map read-only, record size, advise
// WILLNEED. Attempt deflate compression; keep the compressed copy only if
// its size + a small header-overhead constant is strictly less than
// uncompressed size."
func NewSmall(path string, info os.FileInfo, mimeType string) (*Small, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	size := int(info.Size())
	s := &Small{
		path:         path,
		lastModified: info.ModTime(),
		mimeType:     mimeType,
		file:         f,
	}

	if size == 0 {
		s.raw = nil
	} else {
		data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, err
		}
		_ = unix.Madvise(data, unix.MADV_WILLNEED)
		s.raw = data
	}

	if compressed, ok := tryDeflate(s.raw); ok {
		s.compressed = compressed
	}

	return s, nil
}

func (s *Small) Kind() Kind               { return KindSmall }
func (s *Small) LastModified() time.Time { return s.lastModified }

// Serve implements §4.5's "Small" serve: send the compressed copy if the
// client accepts deflate and one exists, else the uncompressed payload, as
// a single scatter-gather [headers, payload] write.
func (s *Small) Serve(t *task.Task, w io.Writer, req *httpproto.Request, dates DateSource) (int, error) {
	if notModified(s.lastModified, req) {
		h := commonHeaders(304, s.lastModified, 0, "", "", dates).End()
		return 304, writeGather(w, h, nil)
	}

	payload := s.raw
	encoding := ""
	if req.AcceptsDeflate() && s.compressed != nil {
		payload = s.compressed
		encoding = "deflate"
	}

	h := commonHeaders(200, s.lastModified, int64(len(payload)), encoding, s.mimeType, dates).End()

	if req.Method == "HEAD" {
		return 200, writeGather(w, h, nil)
	}
	if err := writeGather(w, h, payload); err != nil {
		return 0, err
	}
	return 200, nil
}

// Free unmaps the file and closes its descriptor.
func (s *Small) Free() {
	if s.raw != nil {
		_ = unix.Munmap(s.raw)
		s.raw = nil
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}
