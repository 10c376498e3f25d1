package usecase

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Command outcomes used as the "outcome" label.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Job outcomes.
const (
	JobOutcomeDone  = "done"
	JobOutcomeRetry = "retry"
	JobOutcomeDead  = "dead"
)

// Metrics holds the command pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
	jobs     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incidentd_commands_total",
				Help: "Commands seen by the executor, by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "incidentd_command_duration_seconds",
				Help:    "Time spent executing a command, including ledger writes.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incidentd_jobs_total",
				Help: "Queued command jobs by final handling outcome.",
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.commands, m.duration, m.jobs)
	}
	return m
}

func (m *Metrics) observeCommand(commandType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(commandType, outcome).Inc()
	m.duration.WithLabelValues(commandType).Observe(elapsed.Seconds())
}

func (m *Metrics) observeJob(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}
