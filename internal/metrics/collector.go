package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics of one server. It owns its registry
// so several servers (and tests) can live in one process.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	StreamsCreated prometheus.Counter
	StreamsDeleted prometheus.Counter
	PointsAdded    prometheus.Counter
	BranchesForked prometheus.Counter

	LiveStreams prometheus.Gauge
	LivePoints  prometheus.Gauge

	RateLimited prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		StreamsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_created_total",
			Help:      "Total number of streams created",
		}),
		StreamsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_deleted_total",
			Help:      "Total number of streams deleted",
		}),
		PointsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_added_total",
			Help:      "Total number of points added below a parent",
		}),
		BranchesForked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "branches_forked_total",
			Help:      "Total number of points that opened a fresh branch",
		}),
		LiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_streams",
			Help:      "Streams currently held in memory",
		}),
		LivePoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_points",
			Help:      "Points currently held in memory, root sentinels included",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.StreamsCreated,
		c.StreamsDeleted,
		c.PointsAdded,
		c.BranchesForked,
		c.LiveStreams,
		c.LivePoints,
		c.RateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// StreamCreated and the methods below make Collector an engine.Observer.
func (c *Collector) StreamCreated() {
	c.StreamsCreated.Inc()
	c.LiveStreams.Inc()
	c.LivePoints.Inc()
}

func (c *Collector) StreamDeleted(points int) {
	c.StreamsDeleted.Inc()
	c.LiveStreams.Dec()
	c.LivePoints.Sub(float64(points))
}

func (c *Collector) PointAdded(freshBranch bool) {
	c.PointsAdded.Inc()
	c.LivePoints.Inc()
	if freshBranch {
		c.BranchesForked.Inc()
	}
}

func (c *Collector) Restored(streams, points int) {
	c.SetLive(streams, points)
}

func (c *Collector) SetLive(streams, points int) {
	c.LiveStreams.Set(float64(streams))
	c.LivePoints.Set(float64(points))
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) RecordRateLimited() {
	c.RateLimited.Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
