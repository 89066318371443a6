package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the server's Prometheus metrics on a private registry so
// several servers can coexist in one process (tests).
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	RecallBeats    prometheus.Histogram
	RecallDuration prometheus.Histogram
	Scenes         prometheus.Gauge
	Edges          prometheus.Gauge
	RateLimited    prometheus.Counter
}

// NewCollector creates and registers all metrics under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RecallBeats: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recall_beats",
			Help:      "Beats returned per story recall.",
			Buckets:   prometheus.LinearBuckets(0, 5, 6),
		}),
		RecallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recall_duration_seconds",
			Help:      "Time spent walking the graph per story recall.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		Scenes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scenes",
			Help:      "Scenes in the in-memory index.",
		}),
		Edges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "edges",
			Help:      "Edges in the in-memory index.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Recall requests rejected by the rate limiter.",
		}),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.RecallBeats,
		c.RecallDuration,
		c.Scenes,
		c.Edges,
		c.RateLimited,
		collectors.NewGoCollector(),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetGraphSize records the current index size.
func (c *Collector) SetGraphSize(scenes, edges int) {
	c.Scenes.Set(float64(scenes))
	c.Edges.Set(float64(edges))
}

// ObserveRecall records one story recall.
func (c *Collector) ObserveRecall(d time.Duration, beats int) {
	c.RecallDuration.Observe(d.Seconds())
	c.RecallBeats.Observe(float64(beats))
}
