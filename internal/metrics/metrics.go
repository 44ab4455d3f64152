package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scans counts tag scans by outcome (register, checkin, checkout, error).
var Scans = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "doortracker",
	Name:      "scans_total",
	Help:      "Tag scans processed, by outcome.",
}, []string{"outcome"})

// RemoteCheckouts counts web checkouts.
var RemoteCheckouts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "doortracker",
	Name:      "remote_checkouts_total",
	Help:      "Sessions closed from the web.",
})

// SnapshotBuilds counts snapshot recomputations in the worker.
var SnapshotBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "doortracker",
	Name:      "snapshot_builds_total",
	Help:      "Per-member statistics snapshots built, by result.",
}, []string{"result"})
