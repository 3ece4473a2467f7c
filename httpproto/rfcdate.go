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
	"net/http"
	"time"

	"github.com/jacobsa/timeutil"
)

// DateCache formats the current time as an RFC 7231 date string, refreshed
// at most once per tick rather than on every response — every artifact
// variant's Date header shares the same string for the duration of a
// worker's idle-tick interval.
//
// DateCache is only ever touched from its owning worker's goroutine, never
// shared across workers, so it carries no lock of its own — the same
// single-owner-thread discipline the engine applies to tasks.
type DateCache struct {
	clk timeutil.Clock

	current string
	expires string
	stamped time.Time
}

// ExpiresOffset is how far in the future the Expires header is set.
const ExpiresOffset = 10 * time.Minute

// NewDateCache constructs a cache backed by clk, pre-populated with the
// current time.
func NewDateCache(clk timeutil.Clock) *DateCache {
	d := &DateCache{clk: clk}
	d.Refresh()
	return d
}

// Refresh recomputes the cached strings. Called once per worker tick.
func (d *DateCache) Refresh() {
	now := d.clk.Now().UTC()
	d.stamped = now
	d.current = now.Format(http.TimeFormat)
	d.expires = now.Add(ExpiresOffset).Format(http.TimeFormat)
}

// Date returns the cached Date header value.
func (d *DateCache) Date() string { return d.current }

// Expires returns the cached Expires header value.
func (d *DateCache) Expires() string { return d.expires }

// FormatModTime renders a file's modification time in RFC 7231 form for
// the Last-Modified header.
func FormatModTime(t time.Time) string { return t.UTC().Format(http.TimeFormat) }
