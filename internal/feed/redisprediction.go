package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"cryptodash/internal/model"
)

// DefaultPredictionChannel is the Pub/Sub channel predictions arrive on.
const DefaultPredictionChannel = "update_price"

// RedisPredictions receives predictions from a Redis Pub/Sub channel. The
// client resubscribes on its own after connection loss. It implements
// model.PredictionSource.
type RedisPredictions struct {
	client  goredis.UniversalClient
	channel string
	log     *slog.Logger
	now     func() time.Time

	// OnConnect is called with true once subscribed and false on release.
	OnConnect func(connected bool)
}

// NewRedisPredictions creates a Pub/Sub prediction source.
func NewRedisPredictions(client goredis.UniversalClient, channel string) *RedisPredictions {
	if channel == "" {
		channel = DefaultPredictionChannel
	}
	return &RedisPredictions{
		client:  client,
		channel: channel,
		log:     slog.Default().With("component", "redis-predictions", "channel", channel),
		now:     time.Now,
	}
}

// Start subscribes and forwards predictions until ctx is cancelled. The
// subscription is closed before it returns.
func (r *RedisPredictions) Start(ctx context.Context, out chan<- model.PredictionUpdated) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.log.Info("subscribed")
	r.setConnected(true)
	defer r.setConnected(false)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ev, err := DecodePrediction([]byte(msg.Payload), "redis", r.now())
			if err != nil {
				r.log.Debug("ignoring message", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *RedisPredictions) setConnected(v bool) {
	if r.OnConnect != nil {
		r.OnConnect(v)
	}
}
