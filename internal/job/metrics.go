package job

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records executor activity. A nil *Metrics records nothing.
type Metrics struct {
	// jobs counts finished jobs.
	// Labels: tool, mode, status (ok, partial, failed)
	jobs *prometheus.CounterVec

	// tuples counts executed tuples.
	// Labels: tool, status (ok, failed)
	tuples *prometheus.CounterVec

	// outputs counts processed data records created.
	// Labels: tool
	outputs *prometheus.CounterVec

	// duration measures backend execution time per invocation.
	// Labels: tool
	duration *prometheus.HistogramVec
}

// NewMetrics registers executor metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expkit",
			Subsystem: "job",
			Name:      "jobs_total",
			Help:      "Jobs finished by tool, mode and status",
		}, []string{"tool", "mode", "status"}),
		tuples: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expkit",
			Subsystem: "job",
			Name:      "tuples_total",
			Help:      "Tool invocations by tool and status",
		}, []string{"tool", "status"}),
		outputs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expkit",
			Subsystem: "job",
			Name:      "outputs_total",
			Help:      "Processed data records created by tool",
		}, []string{"tool"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "expkit",
			Subsystem: "job",
			Name:      "execution_duration_seconds",
			Help:      "Backend execution time per tool invocation",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"tool"}),
	}
}

func (m *Metrics) jobFinished(tool string, mode Mode, status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(tool, string(mode), status).Inc()
}

func (m *Metrics) tupleFinished(tool string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.tuples.WithLabelValues(tool, status).Inc()
	m.duration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (m *Metrics) outputCreated(tool string) {
	if m == nil {
		return
	}
	m.outputs.WithLabelValues(tool).Inc()
}
