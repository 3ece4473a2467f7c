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
	"strconv"
	"strings"
)

// byteRange is a resolved [From, From+Length) window into a Large
// artifact's file; the whole file is From 0, Length size.
type byteRange struct {
	From, Length int64
	Satisfiable  bool
}

// parseRange implements the range semantics worked out in SPEC_FULL.md §9
// (Open Question #1): the source's apparent `to_hdr >= from_hdr -> 416`
// check is treated as a bug, not intent — satisfiability requires the
// conventional `from <= to`, confirmed against spec.md §8's own worked
// examples. Those same worked examples ("bytes=0-99" on a 1000-byte file
// yields 100 bytes, "bytes=0-65535" yields a 65536-byte Content-Length)
// only hold if "to" is inclusive, i.e. length = to - from + 1 rather than
// the plain subtraction spec.md §4.5's prose describes; the inclusive
// form is what's implemented here, since it's the one the spec's own
// numbers agree with. Only a single "bytes=from-to" range is supported;
// anything else (missing unit, multiple ranges, suffix ranges) falls back
// to "whole file", matching the "both <= 0 -> whole file" default path.
func parseRange(header string, size int64) byteRange {
	fromHdr, toHdr, ok := splitRangeHeader(header)
	if !ok {
		fromHdr, toHdr = -1, -1
	}

	if fromHdr <= 0 && toHdr <= 0 {
		return byteRange{From: 0, Length: size, Satisfiable: true}
	}

	if toHdr >= 0 && toHdr < fromHdr {
		return byteRange{Satisfiable: false}
	}

	if fromHdr >= size || toHdr >= size {
		return byteRange{Satisfiable: false}
	}

	var from, length int64
	if toHdr < 0 {
		from = fromHdr
		length = size - fromHdr
	} else {
		from = fromHdr
		length = toHdr - fromHdr + 1
	}

	if length <= 0 {
		return byteRange{Satisfiable: false}
	}

	return byteRange{From: from, Length: length, Satisfiable: true}
}

// splitRangeHeader extracts the from/to integers out of a "bytes=A-B"
// header, defaulting missing components to -1. ok is false for any header
// this parser does not recognize, which the caller treats as "absent".
func splitRangeHeader(header string) (from, to int64, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return -1, -1, false
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return -1, -1, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return -1, -1, false // multiple ranges unsupported; treat as absent
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return -1, -1, false
	}

	fromStr, toStr := spec[:dash], spec[dash+1:]
	if fromStr == "" {
		return -1, -1, false // suffix ranges ("bytes=-N") unsupported; treat as absent
	}

	from = -1
	if fromStr != "" {
		v, err := strconv.ParseInt(fromStr, 10, 64)
		if err != nil {
			return -1, -1, false
		}
		from = v
	}

	to = -1
	if toStr != "" {
		v, err := strconv.ParseInt(toStr, 10, 64)
		if err != nil {
			return -1, -1, false
		}
		to = v
	}

	return from, to, true
}
