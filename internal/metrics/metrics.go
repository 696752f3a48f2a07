// Package metrics exposes the Prometheus collectors used by the engine and
// its subsystems: queue depth and dispatch latency, module call outcomes,
// document-sync round counts, and validation results.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector registered by the engine.
type Metrics struct {
	EventsEnqueued   *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	EventsProcessed  *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	DispatchDuration *prometheus.HistogramVec

	ModuleCallsTotal    *prometheus.CounterVec
	ModuleCallDuration  *prometheus.HistogramVec
	ModuleTraps         *prometheus.CounterVec

	PackageValidations *prometheus.CounterVec

	DocSyncRounds     *prometheus.HistogramVec
	DocSyncFallbacks  *prometheus.CounterVec
	DocSyncPeerState  *prometheus.GaugeVec

	ApplicationsRunning prometheus.Gauge
}

// New builds a Metrics instance and registers its collectors with registerer.
// A nil registerer skips registration, useful for tests that construct
// multiple Metrics instances in the same process.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_events_enqueued_total",
				Help: "Total number of events accepted onto the dispatch queue.",
			},
			[]string{"source_id"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_events_dropped_total",
				Help: "Total number of events rejected due to backpressure.",
			},
			[]string{"source_id"},
		),
		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_events_processed_total",
				Help: "Total number of events dispatched to a module, by outcome.",
			},
			[]string{"module", "outcome"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hermes_queue_depth",
				Help: "Current number of events waiting on the dispatch queue.",
			},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hermes_dispatch_duration_seconds",
				Help:    "Time spent routing and invoking a module for one event.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"module"},
		),

		ModuleCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_module_calls_total",
				Help: "Total number of module entrypoint invocations, by outcome.",
			},
			[]string{"module", "entrypoint", "outcome"},
		),
		ModuleCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hermes_module_call_duration_seconds",
				Help:    "Module entrypoint call duration.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"module", "entrypoint"},
		),
		ModuleTraps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_module_traps_total",
				Help: "Total number of guest traps during a module call.",
			},
			[]string{"module"},
		),

		PackageValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_package_validations_total",
				Help: "Total number of package validation runs, by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),

		DocSyncRounds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hermes_docsync_rounds",
				Help:    "Number of sketch-exchange rounds needed to reconcile a channel.",
				Buckets: []float64{0, 1, 2, 3},
			},
			[]string{"channel"},
		),
		DocSyncFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hermes_docsync_manifest_fallbacks_total",
				Help: "Total number of times reconciliation escalated to a full manifest exchange.",
			},
			[]string{"channel"},
		),
		DocSyncPeerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hermes_docsync_peer_state",
				Help: "Current peer state machine value (0=Stable,1=Diverged,2=Reconciling) per channel.",
			},
			[]string{"channel"},
		),

		ApplicationsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hermes_applications_running",
				Help: "Current number of applications in the running lifecycle state.",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.EventsEnqueued,
			m.EventsDropped,
			m.EventsProcessed,
			m.QueueDepth,
			m.DispatchDuration,
			m.ModuleCallsTotal,
			m.ModuleCallDuration,
			m.ModuleTraps,
			m.PackageValidations,
			m.DocSyncRounds,
			m.DocSyncFallbacks,
			m.DocSyncPeerState,
			m.ApplicationsRunning,
		)
	}

	return m
}

// RecordDispatch records one completed event dispatch.
func (m *Metrics) RecordDispatch(module, outcome string, d time.Duration) {
	m.EventsProcessed.WithLabelValues(module, outcome).Inc()
	m.DispatchDuration.WithLabelValues(module).Observe(d.Seconds())
}

// RecordModuleCall records one completed module entrypoint invocation.
func (m *Metrics) RecordModuleCall(module, entrypoint, outcome string, d time.Duration) {
	m.ModuleCallsTotal.WithLabelValues(module, entrypoint, outcome).Inc()
	m.ModuleCallDuration.WithLabelValues(module, entrypoint).Observe(d.Seconds())
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Global returns a lazily-constructed process-wide Metrics registered
// against the default Prometheus registry.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(prometheus.DefaultRegisterer)
	}
	return global
}
