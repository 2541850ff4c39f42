// Package metrics exports run results as a Prometheus textfile for the
// node_exporter textfile collector.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/dnspick/prober"
	"github.com/semihalev/dnspick/selector"
)

// Metrics type
type Metrics struct {
	registry *prometheus.Registry

	probes         *prometheus.CounterVec
	probeReachable *prometheus.GaugeVec
	probeLatency   *prometheus.GaugeVec
	outcomes       *prometheus.GaugeVec
	lastRun        prometheus.Gauge
	offline        prometheus.Gauge
	drift          prometheus.Gauge
}

// New return new metrics
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnspick_probes_total",
				Help: "How many probes were sent during the last run",
			},
			[]string{"result"},
		),
		probeReachable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnspick_probe_reachable",
				Help: "Whether the address answered the last probe",
			},
			[]string{"address"},
		),
		probeLatency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnspick_probe_latency_milliseconds",
				Help: "Average round trip of the last successful probe",
			},
			[]string{"address"},
		),
		outcomes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnspick_interface_outcome",
				Help: "Outcome of the last run per interface, the value is always 1",
			},
			[]string{"interface", "outcome", "resolver"},
		),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnspick_last_run_timestamp_seconds",
			Help: "Unix time of the last run",
		}),
		offline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnspick_offline",
			Help: "Whether the connectivity check failed during the last run",
		}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnspick_schedule_drift",
			Help: "Whether the previous run was older than the maximum interval",
		}),
	}

	m.registry.MustRegister(m.probes, m.probeReachable, m.probeLatency, m.outcomes, m.lastRun, m.offline, m.drift)

	return m
}

// Instrument wraps p so every probe is recorded.
func (m *Metrics) Instrument(p prober.Prober) prober.Prober {
	return &instrumented{Prober: p, m: m}
}

type instrumented struct {
	prober.Prober

	m *Metrics
}

func (i *instrumented) Probe(ctx context.Context, address string) prober.Result {
	res := i.Prober.Probe(ctx, address)

	if res.Reachable {
		i.m.probes.WithLabelValues("reachable").Inc()
		i.m.probeReachable.WithLabelValues(address).Set(1)
		i.m.probeLatency.WithLabelValues(address).Set(res.Latency)
	} else {
		i.m.probes.WithLabelValues("unreachable").Inc()
		i.m.probeReachable.WithLabelValues(address).Set(0)
		i.m.probeLatency.DeleteLabelValues(address)
	}

	return res
}

// ObserveRun records the outcome of a run.
func (m *Metrics) ObserveRun(at time.Time, results []selector.Result, offline, drift bool) {
	m.lastRun.Set(float64(at.Unix()))
	m.offline.Set(boolValue(offline))
	m.drift.Set(boolValue(drift))

	for _, r := range results {
		m.outcomes.WithLabelValues(r.Interface, string(r.Outcome), r.Resolver).Set(1)
	}
}

// WriteFile writes the textfile atomically.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
