// Package metrics exposes Prometheus counters for the explorer.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explorer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	streamBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "explorer_stream_bytes_total",
			Help: "Total file bytes streamed to clients",
		},
	)

	streamResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_stream_responses_total",
			Help: "File responses by status",
		},
		[]string{"status"},
	)

	treeBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "explorer_tree_build_duration_seconds",
			Help:    "Time to build and expand the navigation tree",
			Buckets: prometheus.DefBuckets,
		},
	)

	dirCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_dir_cache_lookups_total",
			Help: "Directory cache lookups by result",
		},
		[]string{"result"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_uploads_total",
			Help: "Uploads by outcome",
		},
		[]string{"outcome"},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "explorer_upload_bytes_total",
			Help: "Total bytes accepted by uploads",
		},
	)
)

// RecordRequest records an HTTP request.
func RecordRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStream records a file response and the bytes sent with it.
func RecordStream(status int, bytes int64) {
	streamResponsesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	if bytes > 0 {
		streamBytesTotal.Add(float64(bytes))
	}
}

func RecordTreeBuild(duration time.Duration) {
	treeBuildDuration.Observe(duration.Seconds())
}

func RecordCacheHit() {
	dirCacheLookups.WithLabelValues("hit").Inc()
}

func RecordCacheMiss() {
	dirCacheLookups.WithLabelValues("miss").Inc()
}

// RecordUpload records an upload outcome ("ok" or a rejection reason).
func RecordUpload(outcome string, bytes int64) {
	uploadsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		uploadBytesTotal.Add(float64(bytes))
	}
}

// Middleware records every request against its registered route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		RecordRequest(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}

// Handler serves the Prometheus exposition format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
