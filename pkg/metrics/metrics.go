// Package metrics exposes the Prometheus counters instrumented inline in
// the uploader, locker, and shard allocator (§4.F, §4.G, §4.H). The
// counters themselves register against prometheus.DefaultRegisterer at
// package init, but recording is gated on Enable having been called with
// true (server.metrics.enabled); no HTTP /metrics endpoint is built by
// this repository (out of scope), so a scrape target has to be wired by
// whatever external process owns the route surface.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var enabled atomic.Bool

// Enable toggles whether the package-level counters record observations.
func Enable(v bool) { enabled.Store(v) }

// IsEnabled reports whether Enable(true) has been called.
func IsEnabled() bool { return enabled.Load() }

var (
	// UploadsTotal counts completed uploads by operation (post/put/copy/move)
	// and outcome (ok/error).
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_uploads_total",
		Help: "Total number of completed uploads by operation and outcome",
	}, []string{"operation", "status"})

	// LockAcquisitionsTotal counts resumable-upload lock acquisition
	// attempts by locker variant (advisory/blob) and outcome.
	LockAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_lock_acquisitions_total",
		Help: "Total number of resumable upload lock acquisition attempts",
	}, []string{"variant", "status"})

	// LockHoldDuration observes how long a lease was held between Acquire
	// and Release, in milliseconds.
	LockHoldDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_lock_hold_duration_milliseconds",
		Help:    "Duration a resumable upload lock was held",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000, 60000},
	}, []string{"variant"})

	// ShardReservationsTotal counts shard slot reservation attempts by
	// resource kind and outcome.
	ShardReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_shard_reservations_total",
		Help: "Total number of shard slot reservation attempts by kind and outcome",
	}, []string{"kind", "status"})
)

// Inc increments cv's counter for labels, a no-op unless Enable(true) was
// called.
func Inc(cv *prometheus.CounterVec, labels ...string) {
	if IsEnabled() {
		cv.WithLabelValues(labels...).Inc()
	}
}

// Observe records value against hv's histogram for labels, a no-op unless
// Enable(true) was called.
func Observe(hv *prometheus.HistogramVec, value float64, labels ...string) {
	if IsEnabled() {
		hv.WithLabelValues(labels...).Observe(value)
	}
}
