package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics (simulator server)
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Engine API metrics (dashboard client)
	engineCallsTotal   *prometheus.CounterVec
	engineCallDuration *prometheus.HistogramVec

	// Business metrics
	batchRunsTotal  *prometheus.CounterVec
	batchRowsTotal  *prometheus.CounterVec
	watchClients    prometheus.Gauge
	fleetStrategies *prometheus.GaugeVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	r.engineCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratdeck_engine_calls_total",
			Help: "Total number of engine query/mutation calls",
		},
		[]string{"op", "status"},
	)
	r.engineCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratdeck_engine_call_duration_seconds",
			Help:    "Engine call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	r.batchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratdeck_batch_runs_total",
			Help: "Total number of batch action runs",
		},
		[]string{"action"},
	)
	r.batchRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratdeck_batch_rows_total",
			Help: "Total number of per-strategy batch invocations",
		},
		[]string{"action", "status"},
	)
	r.watchClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratdeck_watch_clients",
			Help: "Number of connected state stream clients",
		},
	)
	r.fleetStrategies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratdeck_fleet_strategies",
			Help: "Number of strategies by status",
		},
		[]string{"status"},
	)

	reg.MustRegister(r.engineCallsTotal)
	reg.MustRegister(r.engineCallDuration)
	reg.MustRegister(r.batchRunsTotal)
	reg.MustRegister(r.batchRowsTotal)
	reg.MustRegister(r.watchClients)
	reg.MustRegister(r.fleetStrategies)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// RecordEngineCall records one engine query or mutation.
func (r *Registry) RecordEngineCall(op, status string, duration float64) {
	r.engineCallsTotal.WithLabelValues(op, status).Inc()
	r.engineCallDuration.WithLabelValues(op).Observe(duration)
}

// RecordBatchRun records a settled batch action run.
func (r *Registry) RecordBatchRun(action string) {
	r.batchRunsTotal.WithLabelValues(action).Inc()
}

// RecordBatchRow records one per-strategy invocation inside a batch run.
func (r *Registry) RecordBatchRow(action, status string) {
	r.batchRowsTotal.WithLabelValues(action, status).Inc()
}

// WatchClientsInc increments the connected stream client gauge.
func (r *Registry) WatchClientsInc() { r.watchClients.Inc() }

// WatchClientsDec decrements the connected stream client gauge.
func (r *Registry) WatchClientsDec() { r.watchClients.Dec() }

// SetFleetSize sets the per-status strategy count.
func (r *Registry) SetFleetSize(status string, n int) {
	r.fleetStrategies.WithLabelValues(status).Set(float64(n))
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
