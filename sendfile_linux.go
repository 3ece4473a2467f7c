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

package brisk

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/nmarsh/brisk/artifact"
	"github.com/nmarsh/brisk/task"
)

// fdWriter is satisfied by *Connection: the artifact.FileSender needs the
// destination's raw fd to call sendfile(2) directly, bypassing dst's
// io.Writer interface entirely for the zero-copy transfer itself.
type fdWriter interface {
	Fd() int
}

// sendfileSender implements artifact.FileSender over Linux's sendfile(2),
// adapted from the pack's Ankit-Kulkarni-go-experiments/sendfl benchmark
// (which calls syscall.Sendfile against a *net.TCPConn's raw fd) into a
// task-yielding, range-aware transfer against a non-blocking raw fd rather
// than a one-shot blocking call.
type sendfileSender struct{}

func newSendfileSender() *sendfileSender { return &sendfileSender{} }

// SendFile transfers count bytes from src starting at offset to dst,
// yielding the task on EAGAIN exactly like Connection.Write does, per
// §4.5's "Large" serve description of a suspension-capable zero-copy
// transfer.
func (s *sendfileSender) SendFile(t *task.Task, dst io.Writer, src artifact.FileHandle, offset, count int64) (int64, error) {
	fw, ok := dst.(fdWriter)
	if !ok {
		return 0, Classify(KindInternal, errNotRawFd)
	}

	dstFd := fw.Fd()
	srcFd := int(src.Fd())
	off := offset
	remaining := count
	var total int64

	for remaining > 0 {
		n, err := unix.Sendfile(dstFd, srcFd, &off, int(remaining))
		if n > 0 {
			total += int64(n)
			remaining -= int64(n)
		}
		switch err {
		case nil:
			if n == 0 {
				// Short read of the source file (e.g. truncated concurrently
				// with serving it): stop rather than spin.
				return total, nil
			}
		case unix.EAGAIN:
			t.Yield(task.ReasonWrite)
		default:
			return total, err
		}
	}
	return total, nil
}
