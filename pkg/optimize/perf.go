// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package optimize

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PerfTracker wraps the Prometheus vectors that track query and ingestion
// latency/throughput, namespaced under cortex_optimize so they coexist with
// any other collectors registered in the same process.
type PerfTracker struct {
	queries   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	cacheHits *prometheus.CounterVec
	queueSize prometheus.Gauge
}

// NewPerfTracker builds a tracker and registers its collectors with reg.
// Passing prometheus.NewRegistry() (rather than the global DefaultRegisterer)
// keeps tests free of cross-test collector collisions.
func NewPerfTracker(reg prometheus.Registerer) *PerfTracker {
	t := &PerfTracker{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "optimize",
			Name:      "queries_total",
			Help:      "Queries executed, labeled by tool and outcome.",
		}, []string{"tool", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cortex",
			Subsystem: "optimize",
			Name:      "query_duration_seconds",
			Help:      "Query latency, labeled by tool.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "optimize",
			Name:      "cache_results_total",
			Help:      "Cache lookups, labeled by cache name and hit/miss.",
		}, []string{"cache", "result"}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cortex",
			Subsystem: "optimize",
			Name:      "worker_queue_size",
			Help:      "Current depth of the optimization worker pool queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(t.queries, t.latency, t.cacheHits, t.queueSize)
	}
	return t
}

// RecordQuery records one query's outcome ("ok" or "error") and latency for
// the named tool (e.g. "search_text", "trace_path").
func (t *PerfTracker) RecordQuery(tool string, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.queries.WithLabelValues(tool, outcome).Inc()
	t.latency.WithLabelValues(tool).Observe(took.Seconds())
}

// RecordCacheResult records one cache lookup against the named cache.
func (t *PerfTracker) RecordCacheResult(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	t.cacheHits.WithLabelValues(cache, result).Inc()
}

// SetQueueSize reports the current worker pool queue depth.
func (t *PerfTracker) SetQueueSize(n int) {
	t.queueSize.Set(float64(n))
}
