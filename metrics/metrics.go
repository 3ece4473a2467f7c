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

// Package metrics exposes the engine's operational counters and gauges for
// scraping by a loopback-only debug listener, never the public socket —
// nothing in spec.md's Non-goals excludes operational metrics, only dynamic
// request handling and TLS. Grounded in the pack's moby-moby (a direct
// prometheus/client_golang consumer) and kmkrofficial-project-tachyon's
// system-stats surface, whose gopsutil/v3 usage is adapted here to report
// process-wide fd and memory usage alongside the engine's own counters.
package metrics

import (
	"os"
	"runtime"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
)

// Metrics holds the handler-scoped collectors: the ones touched from the
// single shared Handler rather than from a per-worker Worker.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	malformedTotal   prometheus.Counter
	cacheLookups     *prometheus.CounterVec
	bytesServedTotal *prometheus.CounterVec
	cacheEntries     prometheus.GaugeFunc
}

// Worker holds the per-worker collectors: one Worker is constructed per
// running Worker so connections-alive and queue-population gauges are
// labeled by worker id without a shared mutex between workers.
type Worker struct {
	id          string
	connections prometheus.Gauge
	queueLen    *prometheus.GaugeVec
	retries     prometheus.Counter
}

// New registers the handler-scoped collectors against reg and returns a
// Metrics ready to be passed to NewHandler. cacheLen, if non-nil, is polled
// on every scrape to report the shared cache's live entry count.
func New(reg prometheus.Registerer, cacheLen func() int) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brisk",
			Name:      "requests_total",
			Help:      "Completed requests, labeled by method and response status.",
		}, []string{"method", "status"}),
		malformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brisk",
			Name:      "malformed_requests_total",
			Help:      "Requests rejected before a status could be assigned (bad request line, unreadable headers).",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brisk",
			Name:      "cache_lookups_total",
			Help:      "Content cache lookups, labeled hit when an artifact was returned (found or newly built) and miss when none could be built.",
		}, []string{"result"}),
		bytesServedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brisk",
			Name:      "bytes_served_total",
			Help:      "Response bytes written through the connection (headers included, sendfile payloads excluded), labeled by artifact kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.requestsTotal, m.malformedTotal, m.cacheLookups, m.bytesServedTotal)

	if cacheLen != nil {
		m.cacheEntries = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "brisk",
			Name:      "cache_entries",
			Help:      "Live entries in the shared content cache.",
		}, func() float64 { return float64(cacheLen()) })
		reg.MustRegister(m.cacheEntries)
	}

	reg.MustRegister(newProcessCollector())

	return m
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, statusLabel(status)).Inc()
}

// IncMalformedRequests records one request rejected before a status line
// could be read.
func (m *Metrics) IncMalformedRequests() {
	if m == nil {
		return
	}
	m.malformedTotal.Inc()
}

// ObserveCacheLookup records one content-cache lookup: hit is true when the
// lookup returned an artifact, whether found in the map or newly built, and
// false when none could be built.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveBytesServed adds n response bytes (headers included) to the
// kind-labeled total.
func (m *Metrics) ObserveBytesServed(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesServedTotal.WithLabelValues(kind).Add(float64(n))
}

func statusLabel(status int) string {
	if status == 0 {
		return "closed"
	}
	return strconv.Itoa(status)
}

// NewWorker registers a worker's gauges against reg, labeled by id (the
// worker's index, stringified by the caller).
func NewWorker(reg prometheus.Registerer, id string) *Worker {
	w := &Worker{
		id: id,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "brisk",
			Name:        "worker_connections",
			Help:        "Connections currently alive in this worker's slab.",
			ConstLabels: prometheus.Labels{"worker": id},
		}),
		queueLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "brisk",
			Name:      "worker_queue_length",
			Help:      "Expiration queue population for this worker.",
		}, []string{"worker"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "brisk",
			Name:        "worker_enfile_retries_total",
			Help:        "Times this worker retried an open(2) after ENFILE.",
			ConstLabels: prometheus.Labels{"worker": id},
		}),
	}
	reg.MustRegister(w.connections, w.queueLen, w.retries)
	return w
}

// IncConnections records one connection accepted into this worker's slab.
func (w *Worker) IncConnections() {
	if w == nil {
		return
	}
	w.connections.Inc()
}

// DecConnections records one connection torn down (reaped or hung up).
func (w *Worker) DecConnections() {
	if w == nil {
		return
	}
	w.connections.Dec()
}

// SetQueueLength reports the expiration queue's current population.
func (w *Worker) SetQueueLength(n int) {
	if w == nil {
		return
	}
	w.queueLen.WithLabelValues(w.id).Set(float64(n))
}

// IncENFILERetries records one ENFILE-triggered open(2) retry.
func (w *Worker) IncENFILERetries() {
	if w == nil {
		return
	}
	w.retries.Inc()
}

// processCollector reports process-wide open-fd and RSS usage via gopsutil,
// adapted from kmkrofficial-project-tachyon's StatsManager (which polls
// gopsutil/v3/disk for free space) into a live prometheus.Collector instead
// of a request-driven snapshot.
type processCollector struct {
	openFDs *prometheus.Desc
	rssBytes *prometheus.Desc
	goroutines *prometheus.Desc
}

func newProcessCollector() *processCollector {
	return &processCollector{
		openFDs:    prometheus.NewDesc("brisk_process_open_fds", "Open file descriptors held by this process.", nil, nil),
		rssBytes:   prometheus.NewDesc("brisk_process_resident_memory_bytes", "Resident set size of this process.", nil, nil),
		goroutines: prometheus.NewDesc("brisk_process_goroutines", "Live goroutines in this process.", nil, nil),
	}
}

func (c *processCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openFDs
	ch <- c.rssBytes
	ch <- c.goroutines
}

func (c *processCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.goroutines, prometheus.GaugeValue, float64(runtime.NumGoroutine()))

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	if n, err := proc.NumFDs(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.openFDs, prometheus.GaugeValue, float64(n))
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		ch <- prometheus.MustNewConstMetric(c.rssBytes, prometheus.GaugeValue, float64(mem.RSS))
	}
}
