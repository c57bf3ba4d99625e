package router

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Metrics tracks routing outcomes. Counters are mutated only by the
// forward engine; admin endpoints read snapshots.
type Metrics struct {
	mu sync.Mutex

	totalRequests int64
	successes     int64
	failures      int64
	// avgResponseMs is the rolling average over successful forwards.
	avgResponseMs float64

	serviceRequests map[string]int64
	serviceErrors   map[string]int64
}

// NewMetrics creates an empty metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		serviceRequests: make(map[string]int64),
		serviceErrors:   make(map[string]int64),
	}
}

// RecordSuccess records a successful forward and folds the duration
// into the rolling average: (avg*(n-1) + dur) / n.
func (m *Metrics) RecordSuccess(service string, duration time.Duration) {
	ms := float64(duration.Milliseconds())

	m.mu.Lock()
	m.totalRequests++
	m.successes++
	n := float64(m.successes)
	m.avgResponseMs = (m.avgResponseMs*(n-1) + ms) / n
	m.serviceRequests[service]++
	m.mu.Unlock()
}

// RecordFailure records a failed forward.
func (m *Metrics) RecordFailure(service string) {
	m.mu.Lock()
	m.totalRequests++
	m.failures++
	m.serviceRequests[service]++
	m.serviceErrors[service]++
	m.mu.Unlock()
}

// Clear resets all counters.
func (m *Metrics) Clear() {
	m.mu.Lock()
	m.totalRequests = 0
	m.successes = 0
	m.failures = 0
	m.avgResponseMs = 0
	m.serviceRequests = make(map[string]int64)
	m.serviceErrors = make(map[string]int64)
	m.mu.Unlock()
}

// Snapshot is a point-in-time view of routing metrics.
type Snapshot struct {
	TotalRequests     int64            `json:"totalRequests"`
	Successes         int64            `json:"successes"`
	Failures          int64            `json:"failures"`
	AvgResponseTimeMs float64          `json:"avgResponseTimeMs"`
	ServiceRequests   map[string]int64 `json:"serviceRequests"`
	ServiceErrors     map[string]int64 `json:"serviceErrors"`
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		TotalRequests:     m.totalRequests,
		Successes:         m.successes,
		Failures:          m.failures,
		AvgResponseTimeMs: m.avgResponseMs,
		ServiceRequests:   make(map[string]int64, len(m.serviceRequests)),
		ServiceErrors:     make(map[string]int64, len(m.serviceErrors)),
	}
	for k, v := range m.serviceRequests {
		snap.ServiceRequests[k] = v
	}
	for k, v := range m.serviceErrors {
		snap.ServiceErrors[k] = v
	}
	return snap
}

// WritePrometheus writes metrics in Prometheus text exposition format.
func (m *Metrics) WritePrometheus(w http.ResponseWriter) {
	snap := m.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeHelp(w, "gateway_requests_total", "Total number of forwarded requests", "counter")
	writeMetric(w, "gateway_requests_total", snap.TotalRequests)

	writeHelp(w, "gateway_request_failures_total", "Total number of failed forwards", "counter")
	writeMetric(w, "gateway_request_failures_total", snap.Failures)

	writeHelp(w, "gateway_response_time_avg_ms", "Rolling average response time", "gauge")
	writeMetricFloat(w, "gateway_response_time_avg_ms", snap.AvgResponseTimeMs)

	writeHelp(w, "gateway_service_requests_total", "Requests per target service", "counter")
	for _, svc := range sortedKeys(snap.ServiceRequests) {
		writeMetric(w, "gateway_service_requests_total", snap.ServiceRequests[svc], "service", svc)
	}

	writeHelp(w, "gateway_service_errors_total", "Errors per target service", "counter")
	for _, svc := range sortedKeys(snap.ServiceErrors) {
		writeMetric(w, "gateway_service_errors_total", snap.ServiceErrors[svc], "service", svc)
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64, labels ...string) {
	w.Write([]byte(name + formatLabels(labels) + " " + strconv.FormatInt(value, 10) + "\n"))
}

func writeMetricFloat(w http.ResponseWriter, name string, value float64, labels ...string) {
	w.Write([]byte(name + formatLabels(labels) + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n"))
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i := 0; i < len(labels)-1; i += 2 {
		if i > 0 {
			result += ","
		}
		result += labels[i] + "=\"" + labels[i+1] + "\""
	}
	return result + "}"
}
