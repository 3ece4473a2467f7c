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

import "testing"

func TestParseRangeAbsentIsWholeFile(t *testing.T) {
	r := parseRange("", 1000)
	if !r.Satisfiable || r.From != 0 || r.Length != 1000 {
		t.Fatalf("got %+v", r)
	}
}

func TestParseRangeOrdinaryWindow(t *testing.T) {
	// Inclusive endpoint per spec.md §8's own worked example: bytes=0-99
	// on a 1000-byte file yields 100 bytes, not 99.
	r := parseRange("bytes=0-99", 1000)
	if !r.Satisfiable || r.From != 0 || r.Length != 100 {
		t.Fatalf("got %+v", r)
	}
}

func TestParseRangeOpenEnded(t *testing.T) {
	r := parseRange("bytes=500-", 1000)
	if !r.Satisfiable || r.From != 500 || r.Length != 500 {
		t.Fatalf("got %+v", r)
	}
}

func TestParseRangeFromAfterToIsUnsatisfiable(t *testing.T) {
	// Conventional semantics (Open Question #1): from > to is invalid,
	// regardless of the source's apparently inverted check.
	r := parseRange("bytes=50-10", 1000)
	if r.Satisfiable {
		t.Fatalf("expected unsatisfiable, got %+v", r)
	}
}

func TestParseRangeEndpointBeyondSizeIsUnsatisfiable(t *testing.T) {
	r := parseRange("bytes=0-2000", 1000)
	if r.Satisfiable {
		t.Fatalf("expected unsatisfiable, got %+v", r)
	}
}

func TestParseRangeFromBeyondSizeIsUnsatisfiable(t *testing.T) {
	r := parseRange("bytes=2000-2500", 1000)
	if r.Satisfiable {
		t.Fatalf("expected unsatisfiable, got %+v", r)
	}
}

func TestParseRangeMalformedFallsBackToWholeFile(t *testing.T) {
	r := parseRange("not-a-range", 1000)
	if !r.Satisfiable || r.Length != 1000 {
		t.Fatalf("got %+v", r)
	}
}

func TestParseRangeMultipleRangesUnsupportedFallsBack(t *testing.T) {
	r := parseRange("bytes=0-10,20-30", 1000)
	if !r.Satisfiable || r.Length != 1000 {
		t.Fatalf("got %+v", r)
	}
}
