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

package brisk

import "errors"

// errNotRawFd is returned when a sendfile implementation's destination
// does not expose the raw fd it needs for a zero-copy (or fallback
// section-read) transfer.
var errNotRawFd = errors.New("brisk: sendfile destination exposes no raw fd")

// Kind classifies an error the way §7 of the design taxonomy does, so that
// the request boundary can map it to an HTTP status without any error ever
// escaping a task to the worker loop uncaught.
type Kind int

const (
	// KindTransient covers a peer read/write failure or reset connection.
	// The connection is closed; nothing is logged.
	KindTransient Kind = iota

	// KindResourceExhaustion covers ENFILE: propagated to the client as 503,
	// never kills the process.
	KindResourceExhaustion

	// KindAccessDenied covers EACCES on open: 403.
	KindAccessDenied

	// KindNotFound covers a failed canonicalization, a path-escape rejection,
	// or ENOENT on stat: 404.
	KindNotFound

	// KindUnsatisfiableRange covers a Range header this server cannot honor: 416.
	KindUnsatisfiableRange

	// KindInternal covers header buffer overflow, an unexpected compressor
	// failure, or any other condition with no better home: 500.
	KindInternal

	// KindFatalWorker covers an unusable readiness multiplexor; the owning
	// worker exits, other workers are unaffected.
	KindFatalWorker

	// KindFatalProcess covers startup-only failures: cannot bind the listen
	// socket, cannot open the root directory.
	KindFatalProcess
)

// String names a Kind for log lines.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindResourceExhaustion:
		return "resource-exhaustion"
	case KindAccessDenied:
		return "access-denied"
	case KindNotFound:
		return "not-found"
	case KindUnsatisfiableRange:
		return "unsatisfiable-range"
	case KindInternal:
		return "internal"
	case KindFatalWorker:
		return "fatal-worker"
	case KindFatalProcess:
		return "fatal-process"
	default:
		return "unknown"
	}
}

// Status is the HTTP status this Kind maps to at the request boundary. A
// KindFatalWorker or KindFatalProcess error never reaches this mapping: by
// the time one occurs there is no response left to write.
func (k Kind) Status() int {
	switch k {
	case KindTransient:
		return 0 // no response is written at all
	case KindResourceExhaustion:
		return 503
	case KindAccessDenied:
		return 403
	case KindNotFound:
		return 404
	case KindUnsatisfiableRange:
		return 416
	case KindInternal:
		return 500
	default:
		return 500
	}
}

// Error is a classified error carrying a Kind and an underlying cause.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Classify wraps cause with the given Kind.
func Classify(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: cause}
}

// StatusFor maps any error to the HTTP status that should be written for it.
// Unclassified errors are treated as internal errors, per §7's recovery
// locality rule: nothing above 503-class escapes a task uncaught, so by
// construction every error reaching here should already be a *Error, but a
// stray error is still given a safe 500 rather than panicking the worker.
func StatusFor(err error) int {
	if err == nil {
		return 200
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind.Status()
	}
	return 500
}

// KindOf extracts the Kind of a classified error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindInternal
}
