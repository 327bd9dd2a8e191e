// Package metrics is a minimal seam between the pipeline and whatever metrics
// system a deployment uses.
//
// The pipeline only ever calls the package-level helpers; the process wires a
// concrete backend at startup (or none, in which case everything is a no-op).
// Backends buffer locally and submit on Flush so the hot path never blocks on
// the network.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are free-form metric dimensions (e.g. kind, status, shop).
type Labels map[string]string

// Backend receives raw metric events. Implementations must be safe for
// concurrent use and must not block.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that batch and submit on demand.
type Flusher interface {
	Flush() error
}

// nopBackend drops everything. It is the default so code can emit metrics
// unconditionally.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Call once at startup, before
// the pipeline runs.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Flush asks the current backend to submit buffered metrics, if it batches.
func Flush() error {
	mu.RLock()
	b := backend
	mu.RUnlock()

	if f, ok := b.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Metric names understood by the backends in this module. Keeping them here
// makes the name/label contract visible in one place.
const (
	MetricRecordsTotal   = "sync_records_total"          // labels: kind
	MetricShopsTotal     = "sync_shops_total"            // labels: status
	MetricHTTPRequests   = "sync_http_requests_total"    // labels: endpoint, status
	MetricHTTPErrors     = "sync_http_errors_total"      // labels: endpoint, status
	MetricHTTPReqSeconds = "sync_http_request_duration_seconds"
	MetricHTTPBodyBytes  = "sync_http_download_bytes"
)

// AddRecordsLoaded counts destination rows loaded for one resource kind.
func AddRecordsLoaded(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(MetricRecordsTotal, float64(n), Labels{"kind": kind})
}

// IncShopResult counts one per-shop outcome: "ok", "no_credentials",
// "auth_failed".
func IncShopResult(status string) {
	current().IncCounter(MetricShopsTotal, 1, Labels{"status": status})
}

// RecordHTTP records one vendor-API request: count, optional error count,
// duration, and downloaded body size.
func RecordHTTP(endpoint string, status int, err error, dur time.Duration, bytes int64) {
	b := current()

	statusLabel := strconv.Itoa(status)
	if status == 0 {
		statusLabel = "transport_error"
	}
	labels := Labels{"endpoint": endpoint, "status": statusLabel}

	b.IncCounter(MetricHTTPRequests, 1, labels)
	if err != nil || status >= 400 {
		b.IncCounter(MetricHTTPErrors, 1, labels)
	}
	if dur > 0 {
		b.ObserveHistogram(MetricHTTPReqSeconds, dur.Seconds(), labels)
	}
	if bytes >= 0 {
		b.ObserveHistogram(MetricHTTPBodyBytes, float64(bytes), labels)
	}
}
