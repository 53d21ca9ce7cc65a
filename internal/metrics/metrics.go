// Package metrics holds the Prometheus collectors for the clinic services.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ClinicMetrics counts domain outcomes.
type ClinicMetrics struct {
	transitions     *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	dispenses       *prometheus.CounterVec
	pendingInvoices *prometheus.GaugeVec
}

func NewClinicMetrics(reg prometheus.Registerer) *ClinicMetrics {
	m := &ClinicMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"from", "to"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "billing",
			Name:      "settlements_total",
			Help:      "Bill settlement attempts by payment method and result",
		}, []string{"method", "result"}),
		dispenses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "pharmacy",
			Name:      "dispenses_total",
			Help:      "Prescription dispense attempts by result",
		}, []string{"result"}),
		pendingInvoices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "billing",
			Name:      "pending_invoices",
			Help:      "Completed appointments without a bill, per tenant",
		}, []string{"tenant"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.settlements, m.dispenses, m.pendingInvoices)
	return m
}

func (m *ClinicMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *ClinicMetrics) ObserveSettlement(method, result string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(method, result).Inc()
}

func (m *ClinicMetrics) ObserveDispense(result string) {
	if m == nil {
		return
	}
	m.dispenses.WithLabelValues(result).Inc()
}

func (m *ClinicMetrics) SetPendingInvoices(tenantID string, n int) {
	if m == nil {
		return
	}
	m.pendingInvoices.WithLabelValues(tenantID).Set(float64(n))
}

// HTTPMetrics records request latency by route pattern.
type HTTPMetrics struct {
	latency *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.latency)
	return m
}

func (m *HTTPMetrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(method, route, status).Observe(seconds)
}
