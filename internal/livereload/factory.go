package livereload

import (
	"fmt"

	"github.com/fluxbase-eu/fluxassets/internal/config"
	"github.com/rs/zerolog/log"
)

// NewNotifier creates the notifier for the configured backend.
//
// Backend options:
// - "local": pings go straight to broker (single process)
// - "redis": pings are relayed through Redis so other processes see them
func NewNotifier(cfg *config.LiveReloadConfig, broker *Broker) (Notifier, error) {
	switch cfg.Backend {
	case "local", "":
		log.Debug().Msg("Using local live reload broker")
		return broker, nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis live reload backend")
		}
		relay, err := NewRedisRelay(cfg.RedisURL, cfg.Channel, broker)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis for live reload: %w", err)
		}
		if err := relay.Start(); err != nil {
			_ = relay.Close()
			return nil, err
		}
		return relay, nil

	default:
		return nil, fmt.Errorf("unknown live reload backend: %s (valid options: local, redis)", cfg.Backend)
	}
}
