package monitoring

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kubernetes metadata attached as constant labels when present
var (
	kubernetesNamespace = os.Getenv("KUBERNETES_NAMESPACE")
	kubernetesPodName   = os.Getenv("KUBERNETES_POD_NAME")
)

func constLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if kubernetesNamespace != "" {
		labels["kubernetes_namespace"] = kubernetesNamespace
	}
	if kubernetesPodName != "" {
		labels["kubernetes_pod_name"] = kubernetesPodName
	}
	return labels
}

var (
	registry = newRegistry()
	factory  = promauto.With(prometheus.WrapRegistererWith(constLabels(), registry))
)

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return r
}

// Registry returns the registry all metrics of this package are registered with
func Registry() *prometheus.Registry {
	return registry
}

// Tracking call outcomes
const (
	OutcomeSent     = "sent"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

var (
	// Tracker metrics
	TrackerCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matomo_tracker_calls_total",
			Help: "Total number of tracking calls by outcome",
		},
		[]string{"outcome"},
	)

	TrackerCallDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matomo_tracker_call_duration_seconds",
			Help:    "Duration of tracking calls to the collector in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	TrackerSkippedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matomo_tracker_skipped_total",
			Help: "Total number of requests excluded from tracking by reason",
		},
		[]string{"reason"},
	)

	// HTTP request metrics of the example server
	RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matomo_example_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matomo_example_http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ActiveConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "matomo_example_active_connections",
			Help: "Number of active connections",
		},
	)

	ServerInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matomo_example_server_info",
			Help: "Server build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetServerInfo sets server build information
func SetServerInfo(version, commit, buildTime string) {
	ServerInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
