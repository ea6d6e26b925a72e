// Package metrics registers the operator's Prometheus metrics on the
// controller-runtime registry so they are served from the manager's
// /metrics endpoint alongside the built-in controller metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// DirectoryRequests counts calls made to the LLDAP API.
	// Labels:
	//
	//	operation - snake_case method name, e.g. "get_user", "create_user"
	//	result    - "success", "not_found", or "error"
	DirectoryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lldap_operator_directory_requests_total",
			Help: "Total number of requests made to the LLDAP API, partitioned by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// DirectoryRequestDuration observes the latency of each LLDAP API call.
	// Labels:
	//
	//	operation - snake_case method name, e.g. "get_user", "create_user"
	DirectoryRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lldap_operator_directory_request_duration_seconds",
			Help:    "Duration of requests made to the LLDAP API in seconds, partitioned by operation.",
			Buckets: append([]float64{0.001}, prometheus.DefBuckets...),
		},
		[]string{"operation"},
	)
)

func init() {
	ctrlmetrics.Registry.MustRegister(
		DirectoryRequests,
		DirectoryRequestDuration,
	)
}

// ObserveDirectoryRequest records one LLDAP API call.
func ObserveDirectoryRequest(operation, result string, seconds float64) {
	DirectoryRequests.WithLabelValues(operation, result).Inc()
	DirectoryRequestDuration.WithLabelValues(operation).Observe(seconds)
}
