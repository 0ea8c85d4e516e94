package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/engram/internal/resilience"
)

// RedisPublisher is the part of a redis client the forwarder needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisForwarder mirrors bus events onto a Redis channel so out-of-process
// UIs can follow along. A failing Redis trips the breaker; events published
// while it is open are dropped.
type RedisForwarder struct {
	client  RedisPublisher
	channel string
	breaker *resilience.Breaker
}

// NewRedisForwarder creates a forwarder publishing to channel.
func NewRedisForwarder(client RedisPublisher, channel string) *RedisForwarder {
	return &RedisForwarder{
		client:  client,
		channel: channel,
		breaker: resilience.New(resilience.EventSinkConfig("redis-events")),
	}
}

// Run forwards events from the bus until ctx is done.
func (f *RedisForwarder) Run(ctx context.Context, bus *Bus) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	slog.Info("forwarding events to redis", "channel", f.channel)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := f.forward(ctx, ev); err != nil && !errors.Is(err, resilience.ErrOpen) {
				slog.Warn("redis publish failed", "type", ev.Type, "error", err)
			}
		}
	}
}

func (f *RedisForwarder) forward(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, RedisPublishTimeout)
		defer cancel()
		return f.client.Publish(ctx, f.channel, data).Err()
	})
}
