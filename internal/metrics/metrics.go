// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconnects counts successful stream (re)connects.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livefeed_stream_connects_total",
		Help: "Successful stream connects, including reconnects.",
	})

	// MalformedEvents counts inbound payloads dropped on decode/validation.
	MalformedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livefeed_malformed_events_total",
		Help: "Inbound events dropped because they failed to decode or validate.",
	})

	// EventsApplied counts inbound events applied by the reconciler.
	EventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livefeed_events_applied_total",
		Help: "Inbound events applied by the reconciler.",
	})

	// BaselineLoads counts snapshot loader runs, by outcome.
	BaselineLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_baseline_loads_total",
		Help: "Snapshot loader runs by outcome (ok, partial, failed).",
	}, []string{"outcome"})

	// CommandRollbacks counts optimistic commands rolled back, by kind.
	CommandRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_command_rollbacks_total",
		Help: "Optimistic commands rolled back on failure or timeout.",
	}, []string{"kind"})
)
