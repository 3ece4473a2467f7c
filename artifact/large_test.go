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
	"bytes"
	"io"
	"net/textproto"
	"testing"
	"time"

	"github.com/nmarsh/brisk/httpproto"
	"github.com/nmarsh/brisk/task"
)

type fakeHandle struct{}

func (fakeHandle) Fd() uintptr  { return 3 }
func (fakeHandle) Close() error { return nil }

type fakeOpener struct{ opened string }

func (o *fakeOpener) Open(t *task.Task, path string) (FileHandle, error) {
	o.opened = path
	return fakeHandle{}, nil
}

type fakeSender struct {
	lastFrom, lastCount int64
}

func (s *fakeSender) SendFile(t *task.Task, dst io.Writer, src FileHandle, offset, count int64) (int64, error) {
	s.lastFrom, s.lastCount = offset, count
	dst.Write(bytes.Repeat([]byte("x"), int(count)))
	return count, nil
}

func TestLargeServeWholeFile(t *testing.T) {
	opener := &fakeOpener{}
	sender := &fakeSender{}
	l := NewLarge("big.bin", 1000, time.Now(), "application/octet-stream", opener, sender)

	var buf bytes.Buffer
	status, err := l.Serve(nil, &buf, newGETRequest(nil), fixedDates{})
	if err != nil {
		t.Fatal(err)
	}
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if opener.opened != "big.bin" {
		t.Fatalf("opener.opened = %q", opener.opened)
	}
	if sender.lastCount != 1000 {
		t.Fatalf("sender.lastCount = %d", sender.lastCount)
	}
}

func TestLargeServeRange(t *testing.T) {
	opener := &fakeOpener{}
	sender := &fakeSender{}
	l := NewLarge("big.bin", 1000, time.Now(), "application/octet-stream", opener, sender)

	header := textproto.MIMEHeader{}
	header.Set("Range", "bytes=100-199")
	req := newGETRequest(header)

	var buf bytes.Buffer
	status, err := l.Serve(nil, &buf, req, fixedDates{})
	if err != nil {
		t.Fatal(err)
	}
	if status != 206 {
		t.Fatalf("status = %d, want 206", status)
	}
	if sender.lastFrom != 100 || sender.lastCount != 100 {
		t.Fatalf("from=%d count=%d", sender.lastFrom, sender.lastCount)
	}
}

func TestLargeServeUnsatisfiableRange(t *testing.T) {
	opener := &fakeOpener{}
	sender := &fakeSender{}
	l := NewLarge("big.bin", 1000, time.Now(), "application/octet-stream", opener, sender)

	header := textproto.MIMEHeader{}
	header.Set("Range", "bytes=5000-6000")
	req := newGETRequest(header)

	var buf bytes.Buffer
	status, err := l.Serve(nil, &buf, req, fixedDates{})
	if err != nil {
		t.Fatal(err)
	}
	if status != 416 {
		t.Fatalf("status = %d, want 416", status)
	}
	if opener.opened != "" {
		t.Fatal("file should not have been opened for an unsatisfiable range")
	}
}

func TestLargeServeHEADDoesNotOpenFile(t *testing.T) {
	opener := &fakeOpener{}
	sender := &fakeSender{}
	l := NewLarge("big.bin", 1000, time.Now(), "application/octet-stream", opener, sender)

	header := textproto.MIMEHeader{}
	req := &httpproto.Request{Method: "HEAD", Path: "big.bin", Major: 1, Minor: 1, Header: header}

	var buf bytes.Buffer
	status, err := l.Serve(nil, &buf, req, fixedDates{})
	if err != nil {
		t.Fatal(err)
	}
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if opener.opened != "" {
		t.Fatal("HEAD should not open the file")
	}
}
