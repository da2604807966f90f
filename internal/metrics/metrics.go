package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the agent
type Metrics struct {
	// Campaigns
	CampaignsActive        prometheus.Gauge
	CampaignsFinishedTotal *prometheus.CounterVec

	// Worker supervisors
	MessagesTotal         *prometheus.CounterVec
	ProfileRetriesTotal   prometheus.Counter
	ProfilesSkippedTotal  prometheus.Counter
	ResourceRestartsTotal prometheus.Counter
	LeasesHeld            prometheus.Gauge

	// Control plane client
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIReconnectsTotal        *prometheus.CounterVec

	// Dispatcher
	DispatchCyclesTotal     *prometheus.CounterVec
	RequestsDispatchedTotal *prometheus.CounterVec
	RequestsFinishedTotal   *prometheus.CounterVec
	SeenRequests            prometheus.Gauge

	// Local status server
	StatusRequestsTotal *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadmify_campaigns_active",
				Help: "Number of campaigns currently supervised by this agent",
			},
		),
		CampaignsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmify_campaigns_finished_total",
				Help: "Total number of campaign runs finished, by result",
			},
			[]string{"result"},
		),

		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmify_messages_total",
				Help: "Total number of send attempts, by outcome",
			},
			[]string{"outcome"},
		),
		ProfileRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leadmify_profile_retries_total",
				Help: "Total number of per-profile attempts retried after a resource error",
			},
		),
		ProfilesSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leadmify_profiles_skipped_total",
				Help: "Total number of profile jobs skipped because the profile was leased",
			},
		),
		ResourceRestartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leadmify_resource_restarts_total",
				Help: "Total number of automation resources recreated after dying",
			},
		),
		LeasesHeld: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadmify_leases_held",
				Help: "Number of profile leases currently held",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmify_api_requests_total",
				Help: "Total number of control-plane HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadmify_api_request_duration_seconds",
				Help:    "Control-plane request duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		APIReconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmify_api_reconnects_total",
				Help: "Total number of wait-for-reconnect episodes, by result",
			},
			[]string{"result"},
		),

		DispatchCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmify_dispatch_cycles_total",
				Help: "Total number of poll cycles, by result",
			},
			[]string{"result"},
		),
		RequestsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmify_requests_dispatched_total",
				Help: "Total number of ancillary requests dispatched, by queue",
			},
			[]string{"queue"},
		),
		RequestsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmify_requests_finished_total",
				Help: "Total number of ancillary requests finished, by queue and status",
			},
			[]string{"queue", "status"},
		),
		SeenRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadmify_seen_requests",
				Help: "Number of request ids in the dispatcher seen set",
			},
		),

		StatusRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmify_status_http_requests_total",
				Help: "Total number of local status API requests",
			},
			[]string{"method", "path", "status"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadmify_uptime_seconds",
				Help: "Agent uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadmify_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadmify_storage_used_bytes",
				Help: "Size of the send journal database file in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.CampaignsActive,
		m.CampaignsFinishedTotal,
		m.MessagesTotal,
		m.ProfileRetriesTotal,
		m.ProfilesSkippedTotal,
		m.ResourceRestartsTotal,
		m.LeasesHeld,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIReconnectsTotal,
		m.DispatchCyclesTotal,
		m.RequestsDispatchedTotal,
		m.RequestsFinishedTotal,
		m.SeenRequests,
		m.StatusRequestsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// SetCampaignsActive sets the active campaign gauge
func SetCampaignsActive(n int) {
	if m := Global(); m != nil {
		m.CampaignsActive.Set(float64(n))
	}
}

// IncCampaignsFinished counts a finished campaign run (completed, failed, stopped)
func IncCampaignsFinished(result string) {
	if m := Global(); m != nil {
		m.CampaignsFinishedTotal.WithLabelValues(result).Inc()
	}
}

// IncMessages counts a send attempt by outcome
func IncMessages(outcome string) {
	if m := Global(); m != nil {
		m.MessagesTotal.WithLabelValues(outcome).Inc()
	}
}

// IncProfileRetries counts a retried per-profile attempt
func IncProfileRetries() {
	if m := Global(); m != nil {
		m.ProfileRetriesTotal.Inc()
	}
}

// IncProfilesSkipped counts a profile job skipped on lease contention
func IncProfilesSkipped() {
	if m := Global(); m != nil {
		m.ProfilesSkippedTotal.Inc()
	}
}

// IncResourceRestarts counts a recreated automation resource
func IncResourceRestarts() {
	if m := Global(); m != nil {
		m.ResourceRestartsTotal.Inc()
	}
}

// SetLeasesHeld sets the held lease gauge
func SetLeasesHeld(n int) {
	if m := Global(); m != nil {
		m.LeasesHeld.Set(float64(n))
	}
}

// ObserveAPIRequest records one control-plane HTTP exchange
func ObserveAPIRequest(method, path, status string, d time.Duration) {
	if m := Global(); m != nil {
		m.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(method, path).Observe(d.Seconds())
	}
}

// IncAPIReconnects counts a reconnect episode (restored, lost)
func IncAPIReconnects(result string) {
	if m := Global(); m != nil {
		m.APIReconnectsTotal.WithLabelValues(result).Inc()
	}
}

// IncDispatchCycles counts a poll cycle (ok, error)
func IncDispatchCycles(result string) {
	if m := Global(); m != nil {
		m.DispatchCyclesTotal.WithLabelValues(result).Inc()
	}
}

// IncRequestsDispatched counts a dispatched ancillary request
func IncRequestsDispatched(queue string) {
	if m := Global(); m != nil {
		m.RequestsDispatchedTotal.WithLabelValues(queue).Inc()
	}
}

// IncRequestsFinished counts a request reported terminal
func IncRequestsFinished(queue, status string) {
	if m := Global(); m != nil {
		m.RequestsFinishedTotal.WithLabelValues(queue, status).Inc()
	}
}

// SetSeenRequests sets the seen-set size gauge
func SetSeenRequests(n int) {
	if m := Global(); m != nil {
		m.SeenRequests.Set(float64(n))
	}
}
