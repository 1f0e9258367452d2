package livereload

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultChannel is the Redis channel pings are relayed on
const DefaultChannel = "fluxassets:livereload"

// RedisRelay forwards pings between processes. A Ping publishes to Redis and
// every relay subscribed to the channel, including the sender, pings its
// local broker. This lets a separate build process reload browsers that are
// connected to the web server.
type RedisRelay struct {
	client  *redis.Client
	channel string
	broker  *Broker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisRelay connects to Redis.
// url should be in the format: redis://[password@]host:port[/db]
func NewRedisRelay(url, channel string, broker *Broker) (*RedisRelay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis for live reload relay")
	return newRedisRelay(client, channel, broker), nil
}

func newRedisRelay(client *redis.Client, channel string, broker *Broker) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisRelay{
		client:  client,
		channel: channel,
		broker:  broker,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Ping publishes a change to every relay on the channel
func (r *RedisRelay) Ping(ctx context.Context) error {
	if err := r.client.Publish(ctx, r.channel, "change").Err(); err != nil {
		return fmt.Errorf("failed to publish live reload ping: %w", err)
	}
	return nil
}

// Start subscribes to the channel and forwards messages to the broker until
// Close is called
func (r *RedisRelay) Start() error {
	ps := r.client.Subscribe(r.ctx, r.channel)
	if _, err := ps.Receive(r.ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { _ = ps.Close() }()

		msgCh := ps.Channel()
		for {
			select {
			case <-r.ctx.Done():
				return
			case _, ok := <-msgCh:
				if !ok {
					return
				}
				r.forward()
			}
		}
	}()
	return nil
}

func (r *RedisRelay) forward() {
	if r.broker != nil {
		r.broker.broadcast("relay")
	}
}

// Close stops the subscription and closes the client
func (r *RedisRelay) Close() error {
	r.cancel()
	r.wg.Wait()
	err := r.client.Close()
	log.Info().Msg("Live reload relay closed")
	return err
}
