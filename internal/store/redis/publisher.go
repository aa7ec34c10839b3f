// Package redis publishes dashboard views to Redis so other processes can
// read the latest view or follow updates over Pub/Sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"cryptodash/internal/model"
)

const (
	defaultViewTTL      = 30 * time.Minute
	defaultWriteTimeout = 2 * time.Second
)

// Config configures the view publisher.
type Config struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string // default "dash"
	ViewTTL      time.Duration
	MaxFailures  int
	ResetTimeout time.Duration
}

// ViewKey is the key holding the latest view of an asset.
func ViewKey(prefix, asset string) string { return prefix + ":" + asset + ":view" }

// ViewChannel is the Pub/Sub channel views of an asset are published on.
func ViewChannel(prefix, asset string) string { return "pub:" + prefix + ":" + asset }

// Publisher writes each view with SET and PUBLISH in one pipeline, behind a
// circuit breaker. Only the newest unwritten view is held back; it is
// dropped once a newer view is written, or retried until Redis recovers.
type Publisher struct {
	client  goredis.UniversalClient
	cfg     Config
	breaker *CircuitBreaker
	log     *slog.Logger

	mu      sync.Mutex
	pending *model.View

	// OnPublish is called after every pipeline attempt.
	OnPublish func(d time.Duration, err error)
	// OnSkip is called when the open breaker rejects a view.
	OnSkip func()
}

var _ model.ViewPublisher = (*Publisher)(nil)

// New connects to Redis and returns a publisher.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "component", "redis", "addr", cfg.Addr)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, cfg Config) *Publisher {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "dash"
	}
	if cfg.ViewTTL <= 0 {
		cfg.ViewTTL = defaultViewTTL
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	return &Publisher{
		client:  client,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		log:     slog.Default().With("component", "redis"),
	}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() goredis.UniversalClient { return p.client }

// Breaker returns the circuit breaker so callers can observe transitions.
func (p *Publisher) Breaker() *CircuitBreaker { return p.breaker }

// Run publishes every view received on ch until ctx is done or ch closes.
// A held-back view is retried every ResetTimeout, so Redis catches up even
// when no new views arrive.
func (p *Publisher) Run(ctx context.Context, ch <-chan model.View) {
	retry := time.NewTicker(p.cfg.ResetTimeout)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
			if err := p.flushPending(ctx); err != nil && err != ErrCircuitOpen {
				p.log.Warn("held view retry failed", "error", err)
			}
		case v, ok := <-ch:
			if !ok {
				return
			}
			if err := p.Publish(ctx, v); err != nil && err != ErrCircuitOpen {
				p.log.Warn("view publish failed", "asset", v.Asset, "seq", v.Seq, "error", err)
			}
		}
	}
}

// Publish writes v as the latest view and announces it on the asset channel.
// A view that could not be written is held back unless a newer one already
// is.
func (p *Publisher) Publish(ctx context.Context, v model.View) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal view: %w", err)
	}

	err = p.breaker.Execute(func() error { return p.write(ctx, v.Asset, data) })
	if err != nil {
		p.hold(v)
		if err == ErrCircuitOpen && p.OnSkip != nil {
			p.OnSkip()
		}
		return err
	}
	p.release(v.Seq)
	return nil
}

// flushPending writes the held-back view, if any.
func (p *Publisher) flushPending(ctx context.Context) error {
	p.mu.Lock()
	pending := p.pending
	p.mu.Unlock()

	if pending == nil {
		return nil
	}
	return p.Publish(ctx, *pending)
}

func (p *Publisher) hold(v model.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil || v.Seq >= p.pending.Seq {
		p.pending = &v
	}
}

// release forgets a held view once seq or a newer view has been written.
func (p *Publisher) release(seq int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != nil && p.pending.Seq <= seq {
		p.pending = nil
	}
}

func (p *Publisher) write(ctx context.Context, asset string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	start := time.Now()
	pipe := p.client.Pipeline()
	pipe.Set(ctx, ViewKey(p.cfg.KeyPrefix, asset), data, p.cfg.ViewTTL)
	pipe.Publish(ctx, ViewChannel(p.cfg.KeyPrefix, asset), data)
	_, err := pipe.Exec(ctx)

	if p.OnPublish != nil {
		p.OnPublish(time.Since(start), err)
	}
	return err
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
