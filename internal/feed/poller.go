package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"cryptodash/internal/logger"
	"cryptodash/internal/model"
)

// AssetFetcher is the part of CoinCapClient the poller needs.
type AssetFetcher interface {
	Asset(ctx context.Context, id string) (model.MarketSnapshot, error)
	TopAssets(ctx context.Context, limit int) ([]model.MarketSnapshot, error)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Asset      string
	Interval   time.Duration
	TopLimit   int  // 0 skips the top-assets table
	RunOnStart bool // poll once immediately instead of waiting an interval
}

// Poller fetches the tracked asset on a fixed cadence and emits one
// PriceObserved per cycle. It implements model.PriceSource.
type Poller struct {
	cfg    PollerConfig
	client AssetFetcher
	log    *slog.Logger

	// OnPoll is called after every cycle with its latency and error.
	OnPoll func(d time.Duration, err error)
	// OnDrop is called when an event is dropped because the consumer is behind.
	OnDrop func(kind string)
}

// NewPoller creates a poller for cfg.Asset.
func NewPoller(cfg PollerConfig, client AssetFetcher) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Poller{
		cfg:    cfg,
		client: client,
		log:    slog.Default().With("component", "poller", "asset", cfg.Asset),
	}
}

// Start schedules polling with cron and blocks until ctx is cancelled. The
// schedule is stopped and any running cycle has finished when it returns.
func (p *Poller) Start(ctx context.Context, out chan<- model.PriceObserved, market chan<- model.MarketUpdated) error {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	schedule := fmt.Sprintf("@every %s", p.cfg.Interval)
	if _, err := c.AddFunc(schedule, func() { p.PollOnce(ctx, out, market) }); err != nil {
		return fmt.Errorf("register poll job: %w", err)
	}

	if p.cfg.RunOnStart {
		p.PollOnce(ctx, out, market)
	}

	c.Start()
	p.log.Info("poller started", "interval", p.cfg.Interval.String())

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	p.log.Info("poller stopped")
	return nil
}

// PollOnce runs a single poll cycle.
func (p *Poller) PollOnce(ctx context.Context, out chan<- model.PriceObserved, market chan<- model.MarketUpdated) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	start := time.Now()
	traceID := logger.NewTraceID(p.cfg.Asset, start)
	ctx = logger.WithTraceID(ctx, traceID)

	err := p.poll(ctx, out, market)
	if p.OnPoll != nil {
		p.OnPoll(time.Since(start), err)
	}
	if err != nil {
		p.log.Warn("poll failed", append([]any{"error", err}, logger.LogWithTrace(ctx)...)...)
	}
	return err
}

func (p *Poller) poll(ctx context.Context, out chan<- model.PriceObserved, market chan<- model.MarketUpdated) error {
	asset, err := p.client.Asset(ctx, p.cfg.Asset)
	if err != nil {
		return err
	}

	ev := model.PriceObserved{
		TS:         asset.TS,
		PriceUsd:   asset.PriceUsd,
		ReceivedAt: time.Now(),
		TraceID:    logger.TraceID(ctx),
	}
	select {
	case out <- ev:
	default:
		p.drop("price")
	}

	if market == nil {
		return nil
	}
	upd := model.MarketUpdated{Asset: asset}
	if p.cfg.TopLimit > 0 {
		top, err := p.client.TopAssets(ctx, p.cfg.TopLimit)
		if err != nil {
			// The price already went out; the table just keeps its last value.
			p.log.Warn("top assets fetch failed", append([]any{"error", err}, logger.LogWithTrace(ctx)...)...)
		} else {
			upd.Top = top
		}
	}
	select {
	case market <- upd:
	default:
		p.drop("market")
	}
	return nil
}

func (p *Poller) drop(kind string) {
	if p.OnDrop != nil {
		p.OnDrop(kind)
	}
	p.log.Warn("consumer behind, dropping event", "kind", kind)
}
