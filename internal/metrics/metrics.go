package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service spawns.",
		}, []string{"name"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of forced restarts after consecutive failed probes.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of service stops.",
		}, []string{"name"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "launch_failures_total",
			Help:      "Number of spawn attempts that failed.",
		}, []string{"name"},
	)
	probeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "health",
			Name:      "probe_failures_total",
			Help:      "Number of failed health probes.",
		}, []string{"name"},
	)
	circuitOpen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "circuit_open_total",
			Help:      "Number of times a service exhausted its restart budget.",
		}, []string{"name"},
	)
	serviceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "state",
			Help:      "Observed service state (1 = set, 0 = unset) for running, healthy and failed.",
		}, []string{"name", "state"},
	)
	bootAttempts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "boot_attempts_remaining",
			Help:      "Remaining automatic restart budget.",
		}, []string{"name"},
	)
	portAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "ports",
			Name:      "allocations_total",
			Help:      "Port allocations by outcome (preferred, reassigned, exhausted).",
		}, []string{"outcome"},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "monitor",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one monitor pass over the enabled services.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceRestarts, serviceStops, launchFailures, probeFailures,
		circuitOpen, serviceState, bootAttempts, portAllocations, tickDuration,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing collector
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func IncLaunchFailure(name string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(name).Inc()
	}
}

func IncProbeFailure(name string) {
	if regOK.Load() {
		probeFailures.WithLabelValues(name).Inc()
	}
}

func IncCircuitOpen(name string) {
	if regOK.Load() {
		circuitOpen.WithLabelValues(name).Inc()
	}
}

// SetState publishes the observed flags of a service.
func SetState(name string, running, healthy, failed bool) {
	if !regOK.Load() {
		return
	}
	serviceState.WithLabelValues(name, "running").Set(b2f(running))
	serviceState.WithLabelValues(name, "healthy").Set(b2f(healthy))
	serviceState.WithLabelValues(name, "failed").Set(b2f(failed))
}

func SetBootAttempts(name string, n uint32) {
	if regOK.Load() {
		bootAttempts.WithLabelValues(name).Set(float64(n))
	}
}

func IncPortAllocation(outcome string) {
	if regOK.Load() {
		portAllocations.WithLabelValues(outcome).Inc()
	}
}

func ObserveTick(seconds float64) {
	if regOK.Load() {
		tickDuration.Observe(seconds)
	}
}

func b2f(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
