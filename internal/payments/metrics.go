package payments

import (
	"github.com/prometheus/client_golang/prometheus"

	"steward/pkg/monitoring"
)

// Metrics counts payment lifecycle events. All methods are nil-safe so the
// orchestrator works without a registry in tests.
type Metrics struct {
	started   *prometheus.CounterVec
	verified  *prometheus.CounterVec
	anomalies prometheus.Counter
}

// NewMetrics registers the payment counters on the service collector.
func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	anomalies := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steward_reconciliation_anomalies_total",
		Help: "Payments collected at the gateway whose ledger settlement failed",
	})
	mc.RegisterCustomMetric("reconciliation_anomalies_total", anomalies)

	return &Metrics{
		started:   mc.NewCounter("payments_started_total", "Payment attempts started", []string{"result"}),
		verified:  mc.NewCounter("payments_verified_total", "Verification callbacks handled", []string{"status"}),
		anomalies: anomalies,
	}
}

func (m *Metrics) countStarted(result string) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(result).Inc()
}

func (m *Metrics) countVerified(status string) {
	if m == nil {
		return
	}
	m.verified.WithLabelValues(status).Inc()
}

func (m *Metrics) countAnomaly() {
	if m == nil {
		return
	}
	m.anomalies.Inc()
}
