package report

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/psantana5/watch-and-recover/internal/state"
)

// Namespace prefixes every exported metric
const Namespace = "watch_and_recover"

// Metrics are plain projections of run reports. Every value can be
// explained by looking at a single RunReport.
type Metrics struct {
	runs          prometheus.Counter
	outcomes      *prometheus.CounterVec
	launches      *prometheus.CounterVec
	running       *prometheus.GaugeVec
	tries         *prometheus.GaugeVec
	sendFailures  prometheus.Counter
	corruptStates prometheus.Counter
	discoveries   prometheus.Counter
	lastRun       prometheus.Gauge
	runDuration   prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.runs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "runs_total",
		Help:      "Total number of completed watch runs",
	})
	m.outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "job_outcomes_total",
			Help:      "Job evaluations by outcome",
		},
		[]string{"job", "outcome"},
	)
	m.launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "recovery_launches_total",
			Help:      "Recovery command launches by result",
		},
		[]string{"job", "result"},
	)
	m.running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "job_processes",
			Help:      "Processes matching the job's pattern in the last run",
		},
		[]string{"job"},
	)
	m.tries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "entity_tries",
			Help:      "Recovery tries booked against a job or group",
		},
		[]string{"scope", "name"},
	)
	m.sendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "telemetry_send_failures_total",
		Help:      "Telemetry items the sink did not accept",
	})
	m.corruptStates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "state_corrupt_total",
		Help:      "Runs that started from default state because the stored one was unreadable",
	})
	m.discoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "discovery_published_total",
		Help:      "Discovery payloads published",
	})
	m.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run completed",
	})
	m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of watch runs",
		Buckets:   prometheus.DefBuckets,
	})

	m.registry.MustRegister(
		m.runs,
		m.outcomes,
		m.launches,
		m.running,
		m.tries,
		m.sendFailures,
		m.corruptStates,
		m.discoveries,
		m.lastRun,
		m.runDuration,
	)
	return m
}

// Registry exposes the registry for HTTP handlers and textfile export
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Record updates every collector from one finished run
func (m *Metrics) Record(r *RunReport) {
	m.runs.Inc()
	m.lastRun.Set(float64(r.EndTime.Unix()))
	m.runDuration.Observe(r.Duration.Seconds())
	m.sendFailures.Add(float64(r.SendFailures))
	if r.StateCorrupt {
		m.corruptStates.Inc()
	}
	if r.DiscoveryPublished {
		m.discoveries.Inc()
	}

	for _, res := range r.Results {
		m.outcomes.WithLabelValues(res.Job, string(res.Outcome)).Inc()
		m.running.WithLabelValues(res.Job).Set(float64(res.Running))
		switch res.Outcome {
		case OutcomeLaunched:
			m.launches.WithLabelValues(res.Job, "success").Inc()
		case OutcomeLaunchFailed:
			m.launches.WithLabelValues(res.Job, "failure").Inc()
		}
	}

	// Entity gauges mirror the saved state, so cleared entities disappear
	m.tries.Reset()
	if r.State != nil {
		for name, e := range r.State.Jobs {
			m.tries.WithLabelValues(string(state.ScopeJob), name).Set(float64(e.Tries))
		}
		for name, e := range r.State.Groups {
			m.tries.WithLabelValues(string(state.ScopeGroup), name).Set(float64(e.Tries))
		}
	}
}
