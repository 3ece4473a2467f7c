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
	"html/template"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nmarsh/brisk/httpproto"
	"github.com/nmarsh/brisk/task"
)

// dirEntry is one row of a rendered directory listing.
type dirEntry struct {
	Name string
	Icon string // "folder" or "file"
	Type string // MIME type, or "directory"
	Size string // humanized, empty for directories
}

var dirTemplate = template.Must(template.New("dir").Parse(`<!DOCTYPE html>
<html>
<head><title>Index of {{.Path}}</title></head>
<body>
<h1>Index of {{.Path}}</h1>
<table>
<tr><th>Name</th><th>Type</th><th>Size</th></tr>
{{range .Entries}}<tr><td>[{{.Icon}}] <a href="{{.Name}}">{{.Name}}</a></td><td>{{.Type}}</td><td>{{.Size}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// Dir is a pre-rendered directory listing artifact.
type Dir struct {
	lastModified time.Time
	rendered     []byte
}

// NewDir renders a directory's children into HTML, per §4.5's "Dir" init:
// dot-files excluded, each child annotated with an icon token, a
// human-readable type, and a size with unit selected from {B, KiB, MiB,
// GiB} by powers of 1024.
func NewDir(fullPath, reqPath string) (*Dir, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	children, err := f.Readdir(-1)
	if err != nil {
		return nil, err
	}

	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })

	var entries []dirEntry
	var latest time.Time
	for _, c := range children {
		if strings.HasPrefix(c.Name(), ".") {
			continue
		}
		if c.ModTime().After(latest) {
			latest = c.ModTime()
		}

		e := dirEntry{Name: c.Name()}
		if c.IsDir() {
			e.Icon = "folder"
			e.Type = "directory"
			e.Name += "/"
		} else {
			e.Icon = "file"
			e.Type = httpproto.MIMEType(c.Name())
			e.Size = humanize.IBytes(uint64(c.Size()))
		}
		entries = append(entries, e)
	}

	var buf bytes.Buffer
	err = dirTemplate.Execute(&buf, struct {
		Path    string
		Entries []dirEntry
	}{Path: "/" + reqPath, Entries: entries})
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(fullPath)
	if statErr == nil {
		latest = info.ModTime()
	}

	return &Dir{lastModified: latest, rendered: buf.Bytes()}, nil
}

func (d *Dir) Kind() Kind              { return KindDir }
func (d *Dir) LastModified() time.Time { return d.lastModified }

// Serve writes the rendered listing via the same gather-write path as
// Small's uncompressed branch, with a text/html content type.
func (d *Dir) Serve(t *task.Task, w io.Writer, req *httpproto.Request, dates DateSource) (int, error) {
	if notModified(d.lastModified, req) {
		h := commonHeaders(304, d.lastModified, 0, "", "", dates).End()
		return 304, writeGather(w, h, nil)
	}

	h := commonHeaders(200, d.lastModified, int64(len(d.rendered)), "", "text/html; charset=utf-8", dates).End()

	if req.Method == "HEAD" {
		return 200, writeGather(w, h, nil)
	}
	if err := writeGather(w, h, d.rendered); err != nil {
		return 0, err
	}
	return 200, nil
}

// Free releases the rendered buffer.
func (d *Dir) Free() { d.rendered = nil }
