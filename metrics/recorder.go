// Package metrics provides a Prometheus-backed implementation of the cellular
// Recorder interface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder counts framework activity: transitions, health assessments,
// recovery exhaustions and the live unit count.
type Recorder struct {
	transitions *prometheus.CounterVec
	assessments *prometheus.CounterVec
	exhausted   prometheus.Counter
	units       prometheus.Gauge
}

// NewRecorder registers the collectors with reg and returns the recorder.
// Pass prometheus.DefaultRegisterer to use the default registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellular",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by from and to state.",
		}, []string{"from", "to"}),
		assessments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellular",
			Name:      "health_assessments_total",
			Help:      "Health assessments by resulting status.",
		}, []string{"status"}),
		exhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cellular",
			Name:      "recovery_exhausted_total",
			Help:      "Recovery ladders that ran out of strategies.",
		}),
		units: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cellular",
			Name:      "units",
			Help:      "Units currently registered.",
		}),
	}
}

// Transition implements cellular.Recorder.
func (r *Recorder) Transition(from, to string) {
	r.transitions.WithLabelValues(from, to).Inc()
}

// Assessment implements cellular.Recorder.
func (r *Recorder) Assessment(status string) {
	r.assessments.WithLabelValues(status).Inc()
}

// RecoveryExhausted implements cellular.Recorder.
func (r *Recorder) RecoveryExhausted() {
	r.exhausted.Inc()
}

// UnitCount implements cellular.Recorder.
func (r *Recorder) UnitCount(n int) {
	r.units.Set(float64(n))
}
