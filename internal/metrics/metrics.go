// Package metrics defines the Prometheus collectors of edgeguard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StateReads counts state reads by the tier that answered them:
	// "local", "shared" or "store".
	StateReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgeguard_state_reads_total",
			Help: "State reads by answering cache tier",
		},
		[]string{"tier"},
	)

	// SharedCacheErrors counts failing shared cache operations.
	SharedCacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgeguard_shared_cache_errors_total",
			Help: "Failed shared cache operations",
		},
		[]string{"op"},
	)

	// Decisions counts fallback decisions.
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgeguard_decisions_total",
			Help: "Fallback decisions by kind and error page category",
		},
		[]string{"kind", "category"},
	)

	// StaleLookups counts always-serve-stale lookups by strategy and result.
	StaleLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgeguard_stale_lookups_total",
			Help: "Always-serve-stale lookups by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	// StoredCopies counts responses recorded for stale serving.
	StoredCopies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgeguard_stored_copies_total",
			Help: "Successful origin responses stored for stale serving",
		},
	)

	// BannerInjections counts responses rewritten with a banner.
	BannerInjections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgeguard_banner_injections_total",
			Help: "HTML responses rewritten with a banner",
		},
	)

	// ProbeResults counts origin probe outcomes: "up", "down" or "error".
	ProbeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgeguard_probe_results_total",
			Help: "Origin health probe outcomes",
		},
		[]string{"result"},
	)
)
