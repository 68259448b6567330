// Package metrics exposes the cash desk's Prometheus collectors.
// All methods are safe on a nil *Metrics so services can run without them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cashdesk"

type Metrics struct {
	movements       *prometheus.CounterVec
	sessionsOpened  prometheus.Counter
	closures        *prometheus.CounterVec
	conflictRetries prometheus.Counter
	custodyChanges  *prometheus.CounterVec
	invoiceJobs     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New registers the collectors on reg. Passing a fresh prometheus.Registry
// per test avoids duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		movements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "movements_appended_total",
			Help:      "Movements accepted by the ledger.",
		}, []string{"kind", "direction"}),
		sessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Cash sessions opened.",
		}),
		closures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_closures_total",
			Help:      "Cash session closures by resulting status.",
		}, []string{"status"}),
		conflictRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_conflict_retries_total",
			Help:      "Optimistic concurrency retries on the session balance.",
		}),
		custodyChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "custody_transitions_total",
			Help:      "Custody record state changes.",
		}, []string{"status"}),
		invoiceJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_jobs_total",
			Help:      "Invoice jobs by outcome.",
		}, []string{"outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) MovementAppended(kind, direction string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(kind, direction).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
}

func (m *Metrics) SessionClosed(status string) {
	if m == nil {
		return
	}
	m.closures.WithLabelValues(status).Inc()
}

func (m *Metrics) ConflictRetry() {
	if m == nil {
		return
	}
	m.conflictRetries.Inc()
}

func (m *Metrics) CustodyTransition(status string) {
	if m == nil {
		return
	}
	m.custodyChanges.WithLabelValues(status).Inc()
}

func (m *Metrics) InvoiceJob(outcome string) {
	if m == nil {
		return
	}
	m.invoiceJobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}
