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

// End-to-end coverage of spec.md §8's scenarios (S1-S6), driven against a
// real listening Server rather than any single package in isolation.
package brisk_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"

	brisk "github.com/nmarsh/brisk"
)

// startServer brings up a Server rooted at dir on a loopback ephemeral
// port and returns its base URL plus a cleanup func. It waits until the
// listening address accepts a dial before returning, since Run starts the
// worker event loops asynchronously.
func startServer(t *testing.T, dir string, keepAliveSeconds int64) (baseURL string, stop func()) {
	t.Helper()

	cfg := brisk.Config{
		ListenAddr:              "127.0.0.1:0",
		RootPath:                dir,
		ThreadsCount:            2,
		ThreadsMaxFD:            64,
		KeepAliveTimeoutSeconds: keepAliveSeconds,
		CacheTTLSeconds:         60,
	}

	srv, err := brisk.NewServer(cfg, timeutil.RealClock())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()

	addr := srv.Addr().String()
	waitForDial(t, addr)

	return "http://" + addr, func() {
		cancel()
		<-done
		_ = srv.Close()
	}
}

func waitForDial(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server never became dialable at %s", addr)
}

func mustWriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestServerSmallFile covers S1: a sub-threshold file is served whole,
// with a Content-Length matching the file and no compression absent an
// Accept-Encoding header.
func TestServerSmallFile(t *testing.T) {
	dir := t.TempDir()
	body := strings.Repeat("hello\n", 500) // 3000 bytes, well under the 16KiB Small threshold
	mustWriteFile(t, filepath.Join(dir, "small.txt"), []byte(body))

	base, stop := startServer(t, dir, 15)
	defer stop()

	resp, err := http.Get(base + "/small.txt")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Encoding"); got != "" {
		t.Fatalf("Content-Encoding = %q, want empty (no Accept-Encoding sent)", got)
	}
	buf := make([]byte, len(body)+1)
	n, _ := readFull(resp, buf)
	if string(buf[:n]) != body {
		t.Fatalf("body mismatch: got %d bytes, want %d", n, len(body))
	}
}

func readFull(resp *http.Response, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := resp.Body.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestServerLargeFileRange covers S2: a Range request against a
// sub-threshold-exceeding file is served as a 206 Partial Content of
// exactly the requested window via the Large/sendfile path.
func TestServerLargeFileRange(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 1<<20) // 1 MiB, forces the Large variant
	for i := range content {
		content[i] = byte(i % 251)
	}
	mustWriteFile(t, filepath.Join(dir, "big.bin"), content)

	base, stop := startServer(t, dir, 15)
	defer stop()

	req, err := http.NewRequest("GET", base+"/big.bin", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Range", "bytes=0-65535")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 206 {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Length"); got != "65536" {
		t.Fatalf("Content-Length = %q, want 65536", got)
	}
	buf := make([]byte, 65536)
	n, _ := readFull(resp, buf)
	if n != 65536 {
		t.Fatalf("read %d bytes, want 65536", n)
	}
	for i := 0; i < n; i++ {
		if buf[i] != content[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, buf[i], content[i])
		}
	}
}

// TestServerIndexHTML covers S3: a directory request with an index.html
// present serves that file's contents rather than a listing.
func TestServerIndexHTML(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "subdir", "index.html"), []byte("<h1>hi</h1>"))

	base, stop := startServer(t, dir, 15)
	defer stop()

	resp, err := http.Get(base + "/subdir/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q, want text/html prefix", ct)
	}
	buf := make([]byte, 64)
	n, _ := readFull(resp, buf)
	if string(buf[:n]) != "<h1>hi</h1>" {
		t.Fatalf("body = %q, want <h1>hi</h1>", buf[:n])
	}
}

// TestServerDirectoryListing covers S4: a directory request with no
// index.html serves a rendered listing that excludes dot-files.
func TestServerDirectoryListing(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "subdir", "visible.txt"), []byte("x"))
	mustWriteFile(t, filepath.Join(dir, "subdir", ".hidden"), []byte("y"))

	base, stop := startServer(t, dir, 15)
	defer stop()

	resp, err := http.Get(base + "/subdir/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	buf := make([]byte, 8192)
	n, _ := readFull(resp, buf)
	listing := string(buf[:n])
	if !strings.Contains(listing, "visible.txt") {
		t.Fatalf("listing missing visible.txt:\n%s", listing)
	}
	if strings.Contains(listing, ".hidden") {
		t.Fatalf("listing leaked dot-file:\n%s", listing)
	}
}

// TestServerPathEscape covers S5: a request attempting to climb above the
// root never opens anything outside it and yields 404.
func TestServerPathEscape(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "small.txt"), []byte("safe"))

	outside := t.TempDir()
	mustWriteFile(t, filepath.Join(outside, "secret.txt"), []byte("should never be served"))

	base, stop := startServer(t, dir, 15)
	defer stop()

	escaped := fmt.Sprintf("/../%s/secret.txt", filepath.Base(outside))
	req, err := http.NewRequest("GET", base+escaped, nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

// TestServerKeepAlive covers S6: two successive requests over the same
// keep-alive connection are both served without the connection closing
// between them.
func TestServerKeepAlive(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.txt"), []byte("AAAA"))
	mustWriteFile(t, filepath.Join(dir, "b.txt"), []byte("BBBBB"))

	base, stop := startServer(t, dir, 15)
	defer stop()

	addr := strings.TrimPrefix(base, "http://")
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	for _, name := range []string{"a.txt", "b.txt"} {
		fmt.Fprintf(conn, "GET /%s HTTP/1.1\r\nHost: test\r\n\r\n", name)

		resp, err := http.ReadResponse(reader, nil)
		if err != nil {
			t.Fatalf("ReadResponse(%s): %v", name, err)
		}
		body := make([]byte, 64)
		n, _ := readFull(resp, body)
		resp.Body.Close()

		expected, _ := os.ReadFile(filepath.Join(dir, name))
		if string(body[:n]) != string(expected) {
			t.Fatalf("body for %s = %q, want %q", name, body[:n], expected)
		}
		if resp.StatusCode != 200 {
			t.Fatalf("status for %s = %d, want 200", name, resp.StatusCode)
		}
	}
}

// TestServerHEADMatchesGET covers property #5: HEAD and GET for the same
// fresh URL return identical headers and status, HEAD with an empty body.
func TestServerHEADMatchesGET(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "small.txt"), []byte("payload"))

	base, stop := startServer(t, dir, 15)
	defer stop()

	getResp, err := http.Get(base + "/small.txt")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	getBody := make([]byte, 64)
	getN, _ := readFull(getResp, getBody)

	headReq, _ := http.NewRequest("HEAD", base+"/small.txt", nil)
	headResp, err := http.DefaultClient.Do(headReq)
	if err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	defer headResp.Body.Close()

	if headResp.StatusCode != getResp.StatusCode {
		t.Fatalf("HEAD status %d != GET status %d", headResp.StatusCode, getResp.StatusCode)
	}
	if headResp.Header.Get("Content-Length") != getResp.Header.Get("Content-Length") {
		t.Fatalf("HEAD Content-Length %q != GET Content-Length %q",
			headResp.Header.Get("Content-Length"), getResp.Header.Get("Content-Length"))
	}
	headBody := make([]byte, 64)
	headN, _ := readFull(headResp, headBody)
	if headN != 0 {
		t.Fatalf("HEAD body length = %d, want 0", headN)
	}
	if getN != len("payload") {
		t.Fatalf("GET body length = %d, want %d", getN, len("payload"))
	}
}
