package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dropit",
			Subsystem: "proxy",
			Name:      "http_requests_total",
			Help:      "Count of proxied requests",
		}, []string{"method", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dropit",
			Subsystem: "proxy",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of proxied requests",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"method", "status"}),
	}
	for _, collector := range []prometheus.Collector{m.requestTotal, m.requestLatency} {
		if err := prometheus.Register(collector); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch v := are.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					m.requestTotal = v
				case *prometheus.HistogramVec:
					m.requestLatency = v
				}
			}
		}
	}
	return m
}

func (m *metrics) observe(method string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "status": strconv.Itoa(status)}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}
