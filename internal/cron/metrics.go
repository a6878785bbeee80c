package cron

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	armed           prometheus.Gauge
	fires           *prometheus.CounterVec
	fireErrors      *prometheus.CounterVec
	armFailures     prometheus.Counter
	persistFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flow_scheduler",
			Name:      "armed_jobs",
			Help:      "Number of job keys with a live timer.",
		}),
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow_scheduler",
			Name:      "job_fires_total",
			Help:      "Timer firings per engine.",
		}, []string{"engine"}),
		fireErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow_scheduler",
			Name:      "job_fire_errors_total",
			Help:      "Firings whose trigger returned an error or panicked.",
		}, []string{"engine"}),
		armFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow_scheduler",
			Name:      "arm_failures_total",
			Help:      "Rejected schedule expressions.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow_scheduler",
			Name:      "persist_failures_total",
			Help:      "Failed writes of the durable job record.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.armed, m.fires, m.fireErrors, m.armFailures, m.persistFailures)
	}
	return m
}

func (m *Metrics) setArmed(n int) {
	if m == nil {
		return
	}
	m.armed.Set(float64(n))
}

func (m *Metrics) fired(engine string) {
	if m == nil {
		return
	}
	m.fires.WithLabelValues(engine).Inc()
}

func (m *Metrics) fireFailed(engine string) {
	if m == nil {
		return
	}
	m.fireErrors.WithLabelValues(engine).Inc()
}

func (m *Metrics) armFailed() {
	if m == nil {
		return
	}
	m.armFailures.Inc()
}

func (m *Metrics) persistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
