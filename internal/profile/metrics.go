package profile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names used for metric labels and span names.
const (
	OpShow          = "show"
	OpShowService   = "show_service"
	OpShowOverlay   = "show_overlay"
	OpSet           = "set"
	OpSetService    = "set_service"
	OpRemove        = "remove"
	OpRemoveService = "remove_service"
)

const outcomeOK = "ok"

// Metrics counts and times Store operations.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profile_operations_total",
			Help: "Profile store operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "profile_operation_duration_seconds",
			Help:    "Latency of profile store operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if err := reg.Register(m.operations); err != nil {
		return nil, err
	}
	if err := reg.Register(m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observe(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = KindOf(err).String()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}
