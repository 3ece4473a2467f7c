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

import (
	"flag"
	"io"
	"log"
	"os"
	"sync"
)

var fEnableDebug = flag.Bool(
	"brisk.debug",
	false,
	"Write brisk worker-engine debugging messages to stderr.")

var gLogger *log.Logger
var gLoggerOnce sync.Once

func initLogger() {
	var writer io.Writer = io.Discard
	if flag.Parsed() && *fEnableDebug {
		writer = os.Stderr
	}

	const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	gLogger = log.New(writer, "brisk: ", flags)
}

// getLogger returns the process-wide debug logger, discarding output unless
// -brisk.debug was passed (or EnableDebugLogging was called directly, for
// callers that do not parse flags).
func getLogger() *log.Logger {
	gLoggerOnce.Do(initLogger)
	return gLogger
}

// EnableDebugLogging forces debug log output to stderr even when flags have
// not been parsed, for embedders that drive brisk without using package
// flag themselves.
func EnableDebugLogging() {
	gLoggerOnce.Do(func() {
		gLogger = log.New(os.Stderr, "brisk: ", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	})
}
