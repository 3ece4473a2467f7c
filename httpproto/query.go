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

import "strings"

// KV is one key/value pair parsed out of a request's query string.
type KV struct {
	Key   string
	Value string
}

// emptyQueryKV is the shared sentinel a connection's query_kv field points
// at when a request carries no query string, per spec.md §3's "owned
// unless pointing at a shared empty sentinel" and §9's design note:
// modeling "I do not own this" by aliasing a package-level empty slice
// instead of a null/not-present distinction. Callers must never append to
// a slice that may alias this value.
var emptyQueryKV = []KV{}

// EmptyQueryKV returns the shared empty sentinel.
func EmptyQueryKV() []KV { return emptyQueryKV }

// ParseQuery splits a raw query string into key/value pairs. An empty
// rawQuery returns the shared EmptyQueryKV() sentinel rather than
// allocating. dst, if non-nil and with spare capacity, is reused and
// returned truncated-then-appended, so a connection can reuse the same
// backing array across keep-alive requests instead of allocating one per
// request.
func ParseQuery(rawQuery string, dst []KV) []KV {
	if rawQuery == "" {
		return emptyQueryKV
	}

	dst = dst[:0]
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		dst = append(dst, KV{Key: queryUnescape(key), Value: queryUnescape(value)})
	}
	return dst
}

// queryUnescape decodes '+' as space and percent-escapes, falling back to
// the raw token on malformed escapes rather than failing the whole parse —
// a query string is advisory input the static-file core never routes on.
func queryUnescape(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if hi, ok := hexDigit(s[i+1]); ok {
				if lo, ok := hexDigit(s[i+2]); ok {
					b.WriteByte(hi<<4 | lo)
					i += 2
					continue
				}
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
