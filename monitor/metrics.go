package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the expiration monitor. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Fresh expirations logged and marked
	Notified prometheus.Counter

	// Backlog policies marked without a log line (startup pass only)
	Suppressed prometheus.Counter

	// Passes that ended in an error, by pass kind
	PassFailures *prometheus.CounterVec

	// Pass latency by pass kind
	PassDuration *prometheus.HistogramVec
}

// NewMetrics creates the monitor metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Notified: factory.NewCounter(prometheus.CounterOpts{
			Name: "carinsurance_policy_expirations_notified_total",
			Help: "Total policy expirations notified by the expiration monitor",
		}),
		Suppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "carinsurance_policy_expirations_suppressed_total",
			Help: "Total stale policy expirations marked without notification",
		}),
		PassFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carinsurance_monitor_pass_failures_total",
			Help: "Total expiration monitor passes that failed, by pass kind",
		}, []string{"pass"}),
		PassDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carinsurance_monitor_pass_duration_seconds",
			Help:    "Duration of expiration monitor passes, by pass kind",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"pass"}),
	}
}

func (m *Metrics) addNotified(n int) {
	if m != nil && n > 0 {
		m.Notified.Add(float64(n))
	}
}

func (m *Metrics) addSuppressed(n int) {
	if m != nil && n > 0 {
		m.Suppressed.Add(float64(n))
	}
}

func (m *Metrics) passFailed(kind PassKind) {
	if m != nil {
		m.PassFailures.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) observePass(kind PassKind, d time.Duration) {
	if m != nil {
		m.PassDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
	}
}
