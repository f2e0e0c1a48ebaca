package lock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded by Metrics.Acquisitions.
const (
	OutcomeAcquired  = "acquired"
	OutcomeReentrant = "reentrant"
	OutcomeTimeout   = "timeout"
	OutcomeCanceled  = "canceled"
	OutcomeError     = "error"
)

// Metrics are the prometheus collectors shared by all lockers.
type Metrics struct {
	Acquisitions *prometheus.CounterVec
	Wait         prometheus.Histogram
	Active       prometheus.Gauge
}

// NewMetrics creates the lock collectors and registers them on reg. A nil
// registry leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cr",
			Subsystem: "lock",
			Name:      "acquisitions_total",
			Help:      "Lock acquisition attempts by outcome.",
		}, []string{"backend", "outcome"}),
		Wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cr",
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a lock that was eventually acquired.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 10},
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cr",
			Subsystem: "lock",
			Name:      "held",
			Help:      "Locks currently held by this process.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Acquisitions, m.Wait, m.Active)
	}
	return m
}

func (m *Metrics) observe(backend, outcome string, waited time.Duration) {
	if m == nil {
		return
	}
	m.Acquisitions.WithLabelValues(backend, outcome).Inc()
	if outcome == OutcomeAcquired {
		m.Wait.Observe(waited.Seconds())
	}
}

func (m *Metrics) hold(delta float64) {
	if m != nil {
		m.Active.Add(delta)
	}
}
