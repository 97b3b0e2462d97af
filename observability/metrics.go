package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds counterd's collectors. It satisfies rpc.Recorder.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	operations   *prometheus.CounterVec
	value        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "counterd",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "counterd",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "counterd",
				Subsystem: "counter",
				Name:      "operations_total",
				Help:      "Counter operations applied, by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		value: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "counterd",
				Subsystem: "counter",
				Name:      "value",
				Help:      "Last value observed by a counter operation.",
			},
		),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.operations, m.value)
	return m
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) RecordOperation(op string, value int64, err error) {
	if err != nil {
		m.operations.WithLabelValues(op, "error").Inc()
		return
	}
	m.operations.WithLabelValues(op, "ok").Inc()
	m.value.Set(float64(value))
}
