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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewDirListsChildrenExcludingDotfiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "visible.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	d, err := NewDir(dir, "somepath")
	if err != nil {
		t.Fatal(err)
	}

	body := string(d.rendered)
	if !strings.Contains(body, "visible.txt") {
		t.Fatalf("expected visible.txt in listing: %q", body)
	}
	if strings.Contains(body, ".hidden") {
		t.Fatalf("dotfile leaked into listing: %q", body)
	}
	if !strings.Contains(body, "sub/") {
		t.Fatalf("expected subdirectory entry: %q", body)
	}
	if !strings.Contains(body, "[folder]") {
		t.Fatalf("expected folder icon token: %q", body)
	}
}

func TestDirServeWritesHTML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewDir(dir, "")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	status, err := d.Serve(nil, &buf, newGETRequest(nil), fixedDates{date: "D", expires: "E"})
	if err != nil {
		t.Fatal(err)
	}
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if !strings.Contains(buf.String(), "Content-Type: text/html") {
		t.Fatalf("expected text/html content type: %q", buf.String())
	}
}
