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

// Package brisk implements the worker engine of a static-file HTTP server:
// an event-loop-per-thread connection engine backed by a reference-counted
// file-serving cache.
//
// The primary elements of interest are:
//
//  *  Server, which owns the listening socket and a fixed pool of Workers.
//
//  *  Worker, which owns one epoll set, one connection slab, and one
//     expiration queue, and runs the event loop.
//
//  *  The task package, which supplies the resumable per-connection task
//     that the worker drives.
//
//  *  The cache package, which supplies the reference-counted artifact
//     cache each worker's request handler consults.
//
// This package deliberately knows nothing about TLS, HTTP/2, or dynamic
// request handlers; it serves files beneath a single root directory.
package brisk
