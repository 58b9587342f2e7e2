package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the core components. It is
// constructed once in main and injected; no component registers metrics on a
// global registry by itself.
type Metrics struct {
	AccessDecisions *prometheus.CounterVec
	BreakGlassTotal prometheus.Counter
	AuditDegraded   prometheus.Gauge
	AuditSpooled    prometheus.Counter
	PayloadBytes    *prometheus.CounterVec
	StoreRetries    prometheus.Counter
}

// New creates and registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AccessDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ehr_access_decisions_total",
			Help: "Access control engine decisions by operation and outcome",
		}, []string{"operation", "outcome"}),
		BreakGlassTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ehr_break_glass_total",
			Help: "Emergency override invocations",
		}),
		AuditDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ehr_audit_degraded",
			Help: "1 while the audit primary sink is unavailable and events are spooled",
		}),
		AuditSpooled: factory.NewCounter(prometheus.CounterOpts{
			Name: "ehr_audit_spooled_total",
			Help: "Audit events diverted to the retry spool",
		}),
		PayloadBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ehr_payload_bytes_total",
			Help: "Ciphertext bytes moved through the payload service",
		}, []string{"direction"}),
		StoreRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "ehr_record_store_retries_total",
			Help: "Optimistic concurrency retries inside the record store",
		}),
	}
}

// NewTest returns metrics on a throwaway registry for unit tests.
func NewTest() *Metrics {
	return New(prometheus.NewRegistry())
}
