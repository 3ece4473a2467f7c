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

package httpproto

import (
	"bytes"
	"fmt"
	"net/textproto"
)

// ResponseHeaders accumulates a status line and header block into a single
// contiguous buffer, so it can be the first element of a scatter-gather
// `net.Buffers` write alongside the payload — mirroring the teacher's
// `internal/buffer.OutMessage` pattern of building one header region ahead
// of a separately-owned payload region.
type ResponseHeaders struct {
	buf bytes.Buffer
}

// StatusLine reasons, by code, for the small set of statuses this server
// ever emits.
var statusText = map[int]string{
	200: "OK",
	206: "Partial Content",
	304: "Not Modified",
	403: "Forbidden",
	404: "Not Found",
	416: "Range Not Satisfiable",
	500: "Internal Server Error",
	503: "Service Unavailable",
}

// NewResponseHeaders starts a header block for the given status code.
func NewResponseHeaders(status int) *ResponseHeaders {
	h := &ResponseHeaders{}
	text := statusText[status]
	if text == "" {
		text = "Status"
	}
	fmt.Fprintf(&h.buf, "HTTP/1.1 %d %s\r\n", status, text)
	return h
}

// Set appends a header line.
func (h *ResponseHeaders) Set(key, value string) *ResponseHeaders {
	fmt.Fprintf(&h.buf, "%s: %s\r\n", textproto.CanonicalMIMEHeaderKey(key), value)
	return h
}

// End terminates the header block and returns the raw bytes, ready to be
// the first slice of a net.Buffers write.
func (h *ResponseHeaders) End() []byte {
	h.buf.WriteString("\r\n")
	return h.buf.Bytes()
}
