package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments exported by the service.
// A nil *Metrics is valid and records nothing, which keeps tests free of
// registry setup.
type Metrics struct {
	registry *prometheus.Registry

	reconciliations       *prometheus.CounterVec
	webhookEvents         *prometheus.CounterVec
	verifications         *prometheus.CounterVec
	verifyReconcileErrors prometheus.Counter
	oracleDuration        *prometheus.HistogramVec
}

// New builds the instruments on a private registry so several instances can
// coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_reconcile_total",
			Help: "Order reconciliations by entry point and outcome.",
		}, []string{"source", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paystack_webhook_events_total",
			Help: "Inbound webhook deliveries by event type and response class.",
		}, []string{"event", "result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Client verification calls by result.",
		}, []string{"result"}),
		verifyReconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_verify_reconcile_failures_total",
			Help: "Verified payments whose order bookkeeping failed on the verification path.",
		}),
		oracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paystack_verify_duration_seconds",
			Help:    "Duration of transaction verification calls to Paystack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
	}
	reg.MustRegister(m.reconciliations, m.webhookEvents, m.verifications, m.verifyReconcileErrors, m.oracleDuration)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Reconciled(source, outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) WebhookEvent(event, result string) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.webhookEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) Verification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) VerifyReconcileFailed() {
	if m == nil {
		return
	}
	m.verifyReconcileErrors.Inc()
}

func (m *Metrics) ObserveOracle(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.oracleDuration.WithLabelValues(status).Observe(d.Seconds())
}
