package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus instruments the platform emits.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	allocationOps      *prometheus.CounterVec
	provisioningCalls  *prometheus.CounterVec
	paymentSettlements *prometheus.CounterVec
	dnsVerifications   *prometheus.CounterVec
}

// New builds the metrics registry and instruments.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nubo_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nubo_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		allocationOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nubo_storage_allocations_total",
			Help: "Quota ledger operations by tier, operation and outcome.",
		}, []string{"tier", "operation", "outcome"}),
		provisioningCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nubo_provisioning_calls_total",
			Help: "External mail-hosting calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		paymentSettlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nubo_payment_settlements_total",
			Help: "Payment settlements by entry path and result.",
		}, []string{"path", "result"}),
		dnsVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nubo_dns_verifications_total",
			Help: "Domain DNS verification passes by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.allocationOps,
		m.provisioningCalls,
		m.paymentSettlements,
		m.dnsVerifications,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAllocation counts a ledger operation outcome.
func (m *Metrics) RecordAllocation(tier, operation string, err error) {
	if m == nil {
		return
	}
	m.allocationOps.WithLabelValues(tier, operation, outcome(err)).Inc()
}

// RecordProvisioningCall counts an external mail-hosting call outcome.
func (m *Metrics) RecordProvisioningCall(operation string, err error) {
	if m == nil {
		return
	}
	m.provisioningCalls.WithLabelValues(operation, outcome(err)).Inc()
}

// RecordSettlement counts a payment settlement attempt.
func (m *Metrics) RecordSettlement(path, result string) {
	if m == nil {
		return
	}
	m.paymentSettlements.WithLabelValues(path, result).Inc()
}

// RecordDNSVerification counts a verification pass outcome.
func (m *Metrics) RecordDNSVerification(activated bool) {
	if m == nil {
		return
	}
	label := "incomplete"
	if activated {
		label = "activated"
	}
	m.dnsVerifications.WithLabelValues(label).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
