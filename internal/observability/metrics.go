package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	reconcileGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nestlog",
		Subsystem: "reconcile",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent full reconciliation against the remote store.",
	})
	reconcileFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nestlog",
		Subsystem: "reconcile",
		Name:      "failures_total",
		Help:      "Number of full reconciliation fetches that failed and left local state untouched.",
	})
	remoteWriteFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nestlog",
		Subsystem: "store",
		Name:      "remote_write_failures_total",
		Help:      "Number of remote writes that were logged and abandoned, by operation.",
	}, []string{"op"})
	sleepMarkerGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nestlog",
		Subsystem: "store",
		Name:      "sleep_session_open",
		Help:      "Whether an in-progress sleep marker is currently set (0 or 1).",
	})
)

func init() {
	prometheus.MustRegister(reconcileGauge, reconcileFailureCounter, remoteWriteFailureCounter, sleepMarkerGauge)
}

// RecordReconciled updates the reconciliation watermark gauge.
func RecordReconciled(ts time.Time) {
	if ts.IsZero() {
		return
	}
	reconcileGauge.Set(float64(ts.Unix()))
}

// RecordReconcileFailure counts a failed reconciliation fetch.
func RecordReconcileFailure() {
	reconcileFailureCounter.Inc()
}

// RecordRemoteWriteFailure counts an abandoned remote write for the given operation.
func RecordRemoteWriteFailure(op string) {
	remoteWriteFailureCounter.WithLabelValues(op).Inc()
}

// SetSleepSessionOpen reflects the in-progress marker state.
func SetSleepSessionOpen(open bool) {
	if open {
		sleepMarkerGauge.Set(1)
		return
	}
	sleepMarkerGauge.Set(0)
}
