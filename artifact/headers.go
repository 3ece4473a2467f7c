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
	"net"
	"strconv"
	"time"

	"github.com/nmarsh/brisk/httpproto"
)

// commonHeaders builds the status-line-plus-header block shared by all
// three variants: Last-Modified, Date, Expires, optional Content-Encoding,
// and Content-Length, per §4.5's "Common serve logic".
func commonHeaders(status int, lastModified time.Time, contentLength int64, contentEncoding, contentType string, dates DateSource) *httpproto.ResponseHeaders {
	h := httpproto.NewResponseHeaders(status).
		Set("Last-Modified", httpproto.FormatModTime(lastModified)).
		Set("Date", dates.Date()).
		Set("Expires", dates.Expires())

	if contentEncoding != "" {
		h.Set("Content-Encoding", contentEncoding)
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	return h
}

// writeGather performs the scatter-gather `[headers, payload]` write via
// net.Buffers, the same writev(2)-lowering technique the teacher applies
// to its FUSE kernel replies, repurposed for HTTP responses. A write
// failure is classified as an internal error per §4.5's "any write
// system-call failure surface → 500", though by the time this is called
// the status line has already gone out, so the caller can only log it.
func writeGather(w io.Writer, headers []byte, payload []byte) error {
	bufs := net.Buffers{headers}
	if len(payload) > 0 {
		bufs = append(bufs, payload)
	}
	_, err := bufs.WriteTo(w)
	return err
}
