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

//go:build !linux

package brisk

import (
	"io"
	"os"
	"runtime"

	"github.com/nmarsh/brisk/artifact"
	"github.com/nmarsh/brisk/task"
)

// sendfileSender falls back to a user-space copy on platforms without
// Linux's sendfile(2) — still task-yielding via Connection.Write, just
// without the zero-copy property. Large files are still served correctly,
// only less efficiently.
type sendfileSender struct{}

func newSendfileSender() *sendfileSender { return &sendfileSender{} }

const copyBufSize = 64 * 1024

// SendFile copies count bytes from src starting at offset to dst in
// copyBufSize chunks, via whatever suspension Connection.Write already
// performs on EAGAIN.
func (s *sendfileSender) SendFile(t *task.Task, dst io.Writer, src artifact.FileHandle, offset, count int64) (int64, error) {
	f := os.NewFile(src.Fd(), "")
	if f == nil {
		return 0, Classify(KindInternal, errNotRawFd)
	}
	// src.Close (called by the caller) owns this fd; prevent f's finalizer
	// from closing it a second time.
	runtime.SetFinalizer(f, nil)
	section := io.NewSectionReader(f, offset, count)

	buf := make([]byte, copyBufSize)
	n, err := io.CopyBuffer(dst, section, buf)
	return n, err
}
