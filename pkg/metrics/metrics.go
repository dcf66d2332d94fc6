// Package metrics provides the Prometheus registry and the optional
// /metrics endpoint for the fetcher. The metrics themselves are defined
// in their owning packages (client, storage, pipeline) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the fetcher.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Serve starts an HTTP server exposing /metrics on addr. It returns the
// server so the caller can shut it down; ListenAndServe errors are
// delivered on the returned channel.
func Serve(addr string) (*http.Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return srv, errCh
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - gtr_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - gtr_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - gtr_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - gtr_retries_total{error_class} (Counter): Retry attempts by error class
//   - gtr_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - gtr_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Storage Metrics (pkg/storage):
//   - gtr_storage_operations_total{operation, status} (Counter): Object store operations by outcome
//
// Pipeline Metrics (pkg/pipeline):
//   - gtr_pages_written_total{endpoint} (Counter): Pages persisted per endpoint
//   - gtr_records_extracted_total{endpoint} (Counter): Records extracted per endpoint
//   - gtr_run_duration_seconds{endpoint} (Histogram): Full-endpoint run duration
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(gtr_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(gtr_request_duration_seconds_bucket[5m]))
//
//   # Pages Written Per Minute
//   rate(gtr_pages_written_total[1m]) * 60
