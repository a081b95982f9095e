package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll cycle outcomes.
const (
	OutcomePrimed       = "primed"
	OutcomeNoChange     = "no_change"
	OutcomeChanged      = "changed"
	OutcomeSourceError  = "source_error"
	OutcomePersistError = "persist_error"
	OutcomeFault        = "fault"
)

// Metrics holds the Prometheus collectors for the change monitor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	PollCycles    *prometheus.CounterVec
	LastSuccess   prometheus.Gauge
	BackupsPruned prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PollCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "permspy_poll_cycles_total",
			Help: "Poll cycles run by the change monitor, by outcome",
		}, []string{"outcome"}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "permspy_last_success_timestamp_seconds",
			Help: "Unix time of the last poll cycle that fetched a snapshot successfully",
		}),
		BackupsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "permspy_backups_pruned_total",
			Help: "Backup snapshot files removed by retention",
		}),
	}
}

// ObserveCycle counts one poll cycle with the given outcome.
func (m *Metrics) ObserveCycle(outcome string, at time.Time) {
	if m == nil {
		return
	}
	m.PollCycles.WithLabelValues(outcome).Inc()
	switch outcome {
	case OutcomePrimed, OutcomeNoChange, OutcomeChanged:
		m.LastSuccess.Set(float64(at.Unix()))
	}
}

// AddPruned counts removed backups.
func (m *Metrics) AddPruned(n int) {
	if m == nil {
		return
	}
	m.BackupsPruned.Add(float64(n))
}
