package observability

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	testCases := []struct {
		status   int
		expected string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{304, "3xx"},
		{404, "4xx"},
		{499, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{100, "unknown"},
		{0, "unknown"},
		{600, "5xx"},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			assert.Equal(t, tc.expected, statusClass(tc.status))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	t.Run("returns path unchanged for short paths", func(t *testing.T) {
		assert.Equal(t, "/static/app.js", normalizePath("/static/app.js"))
	})

	t.Run("returns long_path for paths over 50 chars", func(t *testing.T) {
		longPath := "/static/dist/very/long/path/that/exceeds/fifty/characters/app.js"
		assert.Equal(t, "long_path", normalizePath(longPath))
	})
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	t.Run("RecordLookup", func(t *testing.T) {
		m.RecordLookup(true)
		m.RecordLookup(true)
		m.RecordLookup(false)
		assert.Equal(t, float64(2), testutil.ToFloat64(m.mappingLookupsTotal.WithLabelValues("hit")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.mappingLookupsTotal.WithLabelValues("miss")))
	})

	t.Run("RecordMappingReload", func(t *testing.T) {
		m.RecordMappingReload(7, nil)
		m.RecordMappingReload(0, assert.AnError)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.mappingReloadsTotal.WithLabelValues("success")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.mappingReloadsTotal.WithLabelValues("error")))
		assert.Equal(t, float64(7), testutil.ToFloat64(m.mappingEntries))
	})

	t.Run("live reload", func(t *testing.T) {
		m.UpdateSubscribers(3)
		m.RecordDroppedSubscriber()
		m.RecordPing("local")
		assert.Equal(t, float64(3), testutil.ToFloat64(m.liveReloadSubscribers))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.liveReloadDropped))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.liveReloadPings.WithLabelValues("local")))
	})

	t.Run("RecordPublish", func(t *testing.T) {
		m.RecordPublish(1024, nil)
		m.RecordPublish(0, assert.AnError)
		assert.Equal(t, float64(1024), testutil.ToFloat64(m.publishBytesTotal))
	})

	t.Run("RecordBuild", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordBuild("esbuild", 250*time.Millisecond, nil)
			m.RecordBuild("tailwind", time.Second, assert.AnError)
		})
	})
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLookup(true)
		m.RecordMappingReload(1, nil)
		m.RecordBuild("esbuild", time.Second, nil)
		m.UpdateSubscribers(1)
		m.RecordDroppedSubscriber()
		m.RecordPing("relay")
		m.RecordPublish(1, nil)
	})
	assert.NotNil(t, m.Handler())
}

func TestMetrics_HTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	app := fiber.New()
	app.Use(m.MetricsMiddleware())
	app.Get("/metrics", m.Handler())
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/ok", "2xx")))

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
