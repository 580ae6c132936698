package analytics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports pipeline observability counters in Prometheus format.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
	degradedRuns  *prometheus.CounterVec
	templateHits  *prometheus.CounterVec
}

// NewMetrics creates and registers pipeline metrics on the given
// registry. A nil registry registers nothing (useful in tests).
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "insightgrid",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Wall-clock duration per pipeline stage",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insightgrid",
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Completed runs by outcome",
			},
			[]string{"outcome"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insightgrid",
				Subsystem: "pipeline",
				Name:      "retries_total",
				Help:      "Retry edges taken, by loop",
			},
			[]string{"loop"},
		),
		degradedRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insightgrid",
				Subsystem: "pipeline",
				Name:      "degraded_runs_total",
				Help:      "Runs that exhausted a retry budget, by loop",
			},
			[]string{"loop"},
		),
		templateHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insightgrid",
				Subsystem: "pipeline",
				Name:      "sql_synthesis_total",
				Help:      "SQL synthesis calls by path (template or llm)",
			},
			[]string{"path"},
		),
	}

	if registry != nil {
		registry.MustRegister(m.stageDuration, m.runsTotal, m.retriesTotal, m.degradedRuns, m.templateHits)
	}
	return m
}

func (m *Metrics) observeStage(stage Step, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) countRun(outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) countRetry(loop string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(loop).Inc()
}

func (m *Metrics) countDegraded(loop string) {
	if m == nil {
		return
	}
	m.degradedRuns.WithLabelValues(loop).Inc()
}

func (m *Metrics) countSynthesis(path string) {
	if m == nil {
		return
	}
	m.templateHits.WithLabelValues(path).Inc()
}
