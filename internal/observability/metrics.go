package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the asset pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Mapping metrics
	mappingLookupsTotal *prometheus.CounterVec
	mappingReloadsTotal *prometheus.CounterVec
	mappingEntries      prometheus.Gauge

	// Build metrics
	builderDuration *prometheus.HistogramVec

	// Live reload metrics
	liveReloadSubscribers prometheus.Gauge
	liveReloadDropped     prometheus.Counter
	liveReloadPings       *prometheus.CounterVec

	// Publish metrics
	publishObjectsTotal *prometheus.CounterVec
	publishBytesTotal   prometheus.Counter

	handler fiber.Handler
}

// NewMetrics creates the metrics and registers them with reg. A nil reg uses
// the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	gatherer := prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxassets_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxassets_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxassets_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Mapping metrics
		mappingLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxassets_mapping_lookups_total",
				Help: "Total number of mapping lookups by result",
			},
			[]string{"result"},
		),
		mappingReloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxassets_mapping_reloads_total",
				Help: "Total number of mapping file loads and writes",
			},
			[]string{"status"},
		),
		mappingEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxassets_mapping_entries",
				Help: "Number of source paths in the current mapping",
			},
		),

		// Build metrics
		builderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxassets_builder_duration_seconds",
				Help:    "Builder run time in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"builder", "status"},
		),

		// Live reload metrics
		liveReloadSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxassets_livereload_subscribers",
				Help: "Current number of live reload subscribers",
			},
		),
		liveReloadDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxassets_livereload_dropped_subscribers_total",
				Help: "Total number of subscribers dropped because their queue was full",
			},
		),
		liveReloadPings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxassets_livereload_pings_total",
				Help: "Total number of live reload pings by origin",
			},
			[]string{"origin"},
		),

		// Publish metrics
		publishObjectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxassets_publish_objects_total",
				Help: "Total number of objects uploaded",
			},
			[]string{"status"},
		),
		publishBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxassets_publish_bytes_total",
				Help: "Total number of bytes uploaded",
			},
		),
	}

	m.handler = adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return m
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		path := normalizePath(c.Path())
		method := c.Method()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := statusClass(c.Response().StatusCode())

		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)

		return err
	}
}

// RecordLookup records a mapping lookup
func (m *Metrics) RecordLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.mappingLookupsTotal.WithLabelValues(result).Inc()
}

// RecordMappingReload records a mapping load or write and the resulting size
func (m *Metrics) RecordMappingReload(entries int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.mappingReloadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.mappingReloadsTotal.WithLabelValues("success").Inc()
	m.mappingEntries.Set(float64(entries))
}

// RecordBuild records one builder run
func (m *Metrics) RecordBuild(builder string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.builderDuration.WithLabelValues(builder, status).Observe(duration.Seconds())
}

// UpdateSubscribers sets the live reload subscriber gauge
func (m *Metrics) UpdateSubscribers(n int) {
	if m == nil {
		return
	}
	m.liveReloadSubscribers.Set(float64(n))
}

// RecordDroppedSubscriber records a subscriber dropped on a full queue
func (m *Metrics) RecordDroppedSubscriber() {
	if m == nil {
		return
	}
	m.liveReloadDropped.Inc()
}

// RecordPing records a live reload ping. origin is "local" or "relay".
func (m *Metrics) RecordPing(origin string) {
	if m == nil {
		return
	}
	m.liveReloadPings.WithLabelValues(origin).Inc()
}

// RecordPublish records an uploaded object
func (m *Metrics) RecordPublish(bytes int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishObjectsTotal.WithLabelValues("error").Inc()
		return
	}
	m.publishObjectsTotal.WithLabelValues("success").Inc()
	m.publishBytesTotal.Add(float64(bytes))
}

// Handler returns a Fiber handler that exposes Prometheus metrics
func (m *Metrics) Handler() fiber.Handler {
	if m == nil || m.handler == nil {
		return adaptor.HTTPHandler(promhttp.Handler())
	}
	return m.handler
}

// normalizePath keeps label cardinality bounded
func normalizePath(path string) string {
	if len(path) > 50 {
		return "long_path"
	}
	return path
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
