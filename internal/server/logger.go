package server

import (
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var sensitiveQueryParams = []string{"token", "access_token", "api_key", "apikey", "key", "secret", "password"}

// RequestLoggerConfig configures RequestLogger
type RequestLoggerConfig struct {
	// SkipPaths are not logged
	SkipPaths []string
	// SkipPrefixes skips every path below them, e.g. static files
	SkipPrefixes []string
	// Logger defaults to the global logger
	Logger *zerolog.Logger
	// SlowRequestThreshold logs slower requests at WARN (0 = disabled)
	SlowRequestThreshold time.Duration
}

// DefaultRequestLoggerConfig returns the default configuration
func DefaultRequestLoggerConfig() RequestLoggerConfig {
	return RequestLoggerConfig{
		SkipPaths:            []string{"/metrics"},
		SlowRequestThreshold: time.Second,
	}
}

func redactQueryString(query string) string {
	if query == "" {
		return ""
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return "[redacted]"
	}
	for key := range values {
		for _, param := range sensitiveQueryParams {
			if strings.EqualFold(key, param) {
				values.Set(key, "[redacted]")
			}
		}
	}
	return values.Encode()
}

// RequestLogger logs one structured line per request
func RequestLogger(cfg RequestLoggerConfig) fiber.Handler {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, skip := range cfg.SkipPaths {
			if path == skip {
				return c.Next()
			}
		}
		for _, prefix := range cfg.SkipPrefixes {
			if strings.HasPrefix(path, prefix) {
				return c.Next()
			}
		}

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)
		status := c.Response().StatusCode()

		var event *zerolog.Event
		switch {
		case err != nil:
			event = logger.Error().Err(err)
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case cfg.SlowRequestThreshold > 0 && duration > cfg.SlowRequestThreshold:
			event = logger.Warn().Bool("slow_request", true)
		default:
			event = logger.Info()
		}

		requestID, _ := c.Locals("requestid").(string)
		event = event.
			Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Int("status", status).
			Int64("duration_ms", duration.Milliseconds()).
			Int("response_bytes", len(c.Response().Body()))

		if q := string(c.Request().URI().QueryString()); q != "" {
			event = event.Str("query", redactQueryString(q))
		}
		if referer := c.Get(fiber.HeaderReferer); referer != "" {
			event = event.Str("referer", referer)
		}
		event.Msg("HTTP request")
		return err
	}
}
