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

// Command briskd is brisk's CLI entrypoint: it loads a TOML config file
// (overridable by flags), starts the worker-engine Server, and serves its
// metrics on a loopback-only debug listener, per SPEC_FULL.md's AMBIENT
// STACK section. This is the outer process shell; everything it does is
// out of the core engine's own scope (spec.md §1's "CLI/config" exclusion)
// but is what a complete, runnable repository needs to actually start.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	brisk "github.com/nmarsh/brisk"
	"github.com/nmarsh/brisk/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor distinguishes a fatal startup failure (§7's "Fatal process
// error": bad root, bind failure) from any other error, for scriptability
// — a SUPPLEMENTED FEATURE of SPEC_FULL.md's process-lifecycle section.
func exitCodeFor(err error) int {
	if brisk.KindOf(err) == brisk.KindFatalProcess {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		rootPath    string
		listen      string
		metricsAddr string
		threads     int
		maxFD       int
		keepAlive   int
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "briskd",
		Short: "briskd serves a directory of static files over HTTP/1.0 and HTTP/1.1.",
		RunE: func(cmd *cobra.Command, args []string) error {
			file := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return brisk.Classify(brisk.KindFatalProcess, err)
				}
				file = loaded
			}

			applyOverrides(&file, cmd, rootPath, listen, metricsAddr, threads, maxFD, keepAlive)

			if file.RootPath == "" {
				return brisk.Classify(brisk.KindFatalProcess, fmt.Errorf("root_path is required (set --root or root_path in the config file)"))
			}

			if debug {
				brisk.EnableDebugLogging()
			}

			return run(file)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a TOML config file")
	flags.StringVar(&rootPath, "root", "", "directory to serve (overrides config root_path)")
	flags.StringVar(&listen, "listen", "", "address to bind, e.g. :8080 (overrides config listen)")
	flags.StringVar(&metricsAddr, "metrics-listen", "", "loopback address to serve Prometheus metrics on (overrides config metrics_listen)")
	flags.IntVar(&threads, "threads", 0, "worker thread count (overrides config threads.count)")
	flags.IntVar(&maxFD, "max-fd", 0, "per-worker fd slab size (overrides config threads.max_fd)")
	flags.IntVar(&keepAlive, "keep-alive-timeout", 0, "idle timeout in seconds (overrides config keep_alive_timeout)")
	flags.BoolVar(&debug, "debug", false, "write worker-engine debug logging to stderr")

	return cmd
}

// applyOverrides lets any flag the caller actually set win over the loaded
// (or default) config file value.
func applyOverrides(f *config.File, cmd *cobra.Command, rootPath, listen, metricsAddr string, threads, maxFD, keepAlive int) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		f.RootPath = rootPath
	}
	if flags.Changed("listen") {
		f.Listen = listen
	}
	if flags.Changed("metrics-listen") {
		f.MetricsListen = metricsAddr
	}
	if flags.Changed("threads") {
		f.Threads.Count = threads
	}
	if flags.Changed("max-fd") {
		f.Threads.MaxFD = maxFD
	}
	if flags.Changed("keep-alive-timeout") {
		f.KeepAliveTimeout = keepAlive
	}
}

func run(f config.File) error {
	cfg := brisk.Config{
		ListenAddr:              f.Listen,
		RootPath:                f.RootPath,
		IndexHTML:               f.IndexHTML,
		KeepAliveTimeoutSeconds: int64(f.KeepAliveTimeout),
		ThreadsCount:            f.Threads.Count,
		ThreadsMaxFD:            f.Threads.MaxFD,
		CacheTTLSeconds:         int64(f.Cache.TTLSeconds),
		CacheMaxEntries:         f.Cache.MaxEntries,
	}

	server, err := brisk.NewServer(cfg, timeutil.RealClock())
	if err != nil {
		return err
	}
	defer server.Close()

	if err := server.Listen(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var debugSrv *http.Server
	if f.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(server.Registry(), promhttp.HandlerOpts{}))
		debugSrv = &http.Server{Addr: f.MetricsListen, Handler: mux}
		go func() {
			if serveErr := debugSrv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "briskd: metrics listener: %v\n", serveErr)
			}
		}()
	}

	fmt.Fprintf(os.Stdout, "briskd: serving %s on %s\n", f.RootPath, server.Addr())

	runErr := server.Run(ctx)

	if debugSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = debugSrv.Shutdown(shutdownCtx)
	}

	return runErr
}
