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

	"github.com/klauspost/compress/flate"
)

// deflateOverhead is the small constant the savings check in §4.5's Small
// "init" subtracts from the raw size before comparing: a compressed copy
// is only kept if it is strictly smaller than the uncompressed payload
// after accounting for this much bookkeeping overhead, so marginal
// "savings" that are really just compressor noise don't get kept.
const deflateOverhead = 16

// tryDeflate compresses raw and returns the compressed bytes only if doing
// so is worthwhile; ok is false when compression did not pay for itself,
// in which case the caller keeps the uncompressed copy only.
func tryDeflate(raw []byte) (compressed []byte, ok bool) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, false
	}
	if _, err := w.Write(raw); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}

	if buf.Len()+deflateOverhead >= len(raw) {
		return nil, false
	}
	return buf.Bytes(), true
}
