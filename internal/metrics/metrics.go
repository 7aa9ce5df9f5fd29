package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service's collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry wiring.
type Metrics struct {
	transitions        *prometheus.CounterVec
	postings           *prometheus.CounterVec
	compensations      *prometheus.CounterVec
	commissionFailures prometheus.Counter
	pendingPayments    *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_transitions_total",
			Help: "Order status transitions by source and target status.",
		}, []string{"from", "to"}),
		postings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_postings_total",
			Help: "Credit ledger postings by entry type and outcome.",
		}, []string{"type", "outcome"}),
		compensations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_compensations_total",
			Help: "Ledger reversals issued after a failed document write.",
		}, []string{"outcome"}),
		commissionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "commission_failures_total",
			Help: "Commission recordings that failed and were reported as warnings.",
		}),
		pendingPayments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pending_payments_total",
			Help: "Pending payment lifecycle events by resulting status.",
		}, []string{"status"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Posting(entryType, outcome string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(entryType, outcome).Inc()
}

func (m *Metrics) Compensation(outcome string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CommissionFailed() {
	if m == nil {
		return
	}
	m.commissionFailures.Inc()
}

func (m *Metrics) PendingPayment(status string) {
	if m == nil {
		return
	}
	m.pendingPayments.WithLabelValues(status).Inc()
}

func (m *Metrics) HTTP(method, route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}
