// Package metrics exposes Prometheus collectors for the refresh cycle and
// the reports it produces. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

const namespace = "downtime"

type Metrics struct {
	registry *prometheus.Registry

	cycles            prometheus.Counter
	cycleDuration     prometheus.Histogram
	refreshFailures   *prometheus.CounterVec
	recomputeDuration *prometheus.HistogramVec
	downtimeSeconds   *prometheus.GaugeVec
	availability      *prometheus.GaugeVec
	activeIncidents   *prometheus.GaugeVec
	upstreamFailures  *prometheus.CounterVec
	journalFailures   *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Completed refresh cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_cycle_duration_seconds",
			Help:      "Wall time of a refresh cycle across all clients.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		refreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_refresh_failures_total",
			Help:      "Client refreshes that failed within a cycle.",
		}, []string{"client"}),
		recomputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recompute_duration_seconds",
			Help:      "Time to build one client's report.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"client"}),
		downtimeSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_downtime_seconds",
			Help:      "Total downtime of the latest report, minute-rounded.",
		}, []string{"client"}),
		availability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_availability_percent",
			Help:      "Availability of the latest report.",
		}, []string{"client"}),
		activeIncidents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_active_incidents",
			Help:      "Open incidents in the latest report.",
		}, []string{"client"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Monitoring API failures while reconciling a service.",
		}, []string{"client"}),
		journalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_failures_total",
			Help:      "Incident journal writes that failed.",
		}, []string{"client"}),
	}

	reg.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.refreshFailures,
		m.recomputeDuration,
		m.downtimeSeconds,
		m.availability,
		m.activeIncidents,
		m.upstreamFailures,
		m.journalFailures,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCycle(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RefreshFailed(clientID string) {
	if m == nil {
		return
	}
	m.refreshFailures.WithLabelValues(clientID).Inc()
}

func (m *Metrics) UpstreamFailed(clientID string) {
	if m == nil {
		return
	}
	m.upstreamFailures.WithLabelValues(clientID).Inc()
}

func (m *Metrics) JournalFailed(clientID string) {
	if m == nil {
		return
	}
	m.journalFailures.WithLabelValues(clientID).Inc()
}

// ObserveReport records a freshly built report and how long it took.
func (m *Metrics) ObserveReport(report *models.DowntimeReport, elapsed time.Duration) {
	if m == nil || report == nil {
		return
	}
	id := report.ClientID
	m.recomputeDuration.WithLabelValues(id).Observe(elapsed.Seconds())
	m.downtimeSeconds.WithLabelValues(id).Set(float64(report.TotalDowntimeSeconds))
	m.availability.WithLabelValues(id).Set(report.Availability)
	m.activeIncidents.WithLabelValues(id).Set(float64(len(report.ActiveIncidents)))
}
