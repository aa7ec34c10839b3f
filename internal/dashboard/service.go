package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cryptodash/internal/bus"
	"cryptodash/internal/metrics"
	"cryptodash/internal/model"
)

// ErrNotRunning is returned by commands sent after the event loop stopped.
var ErrNotRunning = errors.New("dashboard service not running")

// HistorySource returns past prices used to fill the window at startup.
type HistorySource interface {
	History(ctx context.Context, id, interval string) ([]model.PriceObserved, error)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Core            CoreConfig
	HistoryInterval string // empty disables warm-up
	EventBuffer     int
}

// Deps are the collaborators of a Service. Only Prices is required.
type Deps struct {
	Prices      model.PriceSource
	Predictions []model.PredictionSource
	History     HistorySource
	Bus         *bus.FanOut
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type zoomOp int

const (
	zoomFactor zoomOp = iota
	zoomIn
	zoomOut
	zoomReset
)

type zoomCmd struct {
	op     zoomOp
	factor float64
	reply  chan zoomResult
}

type zoomResult struct {
	r   model.DisplayRange
	err error
}

// Service drives one Core from independent producers: the price poller,
// any number of prediction channels and zoom commands from the gateway.
// A single goroutine applies every event, so Core needs no locking.
type Service struct {
	cfg  ServiceConfig
	deps Deps
	core *Core
	log  *slog.Logger
	prom *metrics.Metrics

	priceCh  chan model.PriceObserved
	predCh   chan model.PredictionUpdated
	marketCh chan model.MarketUpdated
	zoomCh   chan zoomCmd
	viewCh   chan model.View
	stopped  chan struct{}

	latest atomic.Pointer[model.View]
}

// NewService builds the core and wires metric hooks.
func NewService(cfg ServiceConfig, deps Deps) (*Service, error) {
	if deps.Prices == nil {
		return nil, errors.New("dashboard: price source required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	core, err := NewCore(cfg.Core, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("dashboard config: %w", err)
	}

	svc := &Service{
		cfg:      cfg,
		deps:     deps,
		core:     core,
		log:      deps.Logger.With("component", "dashboard"),
		prom:     deps.Metrics,
		priceCh:  make(chan model.PriceObserved, cfg.EventBuffer),
		predCh:   make(chan model.PredictionUpdated, cfg.EventBuffer),
		marketCh: make(chan model.MarketUpdated, cfg.EventBuffer),
		zoomCh:   make(chan zoomCmd),
		viewCh:   make(chan model.View, cfg.EventBuffer),
		stopped:  make(chan struct{}),
	}
	svc.wireMetrics()

	v := core.View()
	svc.latest.Store(&v)
	return svc, nil
}

func (svc *Service) wireMetrics() {
	m := svc.prom
	if m == nil {
		return
	}
	svc.core.OnAccepted = func(model.PriceSample) { m.SamplesTotal.Inc() }
	svc.core.OnRejected = func(reason string, _ error) { m.RejectedTotal.WithLabelValues(reason).Inc() }
	svc.core.Merger().OnStale = func(time.Duration) { m.StalePredictions.Inc() }
}

// Core returns the session core. Only the event loop may call its mutating
// methods while Run is active.
func (svc *Service) Core() *Core { return svc.core }

// Latest returns the most recently published view. Safe for concurrent use.
func (svc *Service) Latest() model.View {
	return *svc.latest.Load()
}

// Run warms up the window, starts the producers and applies events until
// ctx is cancelled. Producers are stopped together and waited for before
// Run returns; the bus is closed last.
func (svc *Service) Run(ctx context.Context) error {
	defer close(svc.stopped)

	svc.warmUp(ctx)
	svc.publish()

	if svc.deps.Bus != nil {
		go svc.deps.Bus.Run(ctx, svc.viewCh)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.deps.Prices.Start(ctx, svc.priceCh, svc.marketCh); err != nil {
			svc.log.Error("price source stopped", "error", err)
		}
	}()
	for i, src := range svc.deps.Predictions {
		wg.Add(1)
		go func(i int, src model.PredictionSource) {
			defer wg.Done()
			if err := src.Start(ctx, svc.predCh); err != nil {
				svc.log.Error("prediction source stopped", "index", i, "error", err)
			}
		}(i, src)
	}

	svc.log.Info("dashboard running",
		"asset", svc.cfg.Core.Asset,
		"session", svc.core.Session(),
		"prediction_sources", len(svc.deps.Predictions))

	svc.loop(ctx)

	wg.Wait()
	close(svc.viewCh)
	svc.log.Info("dashboard stopped", "seq", svc.core.Seq(), "samples", svc.core.Len())
	return nil
}

// loop is the single consumer. Each case applies one event completely
// before the next select, so cancellation never interrupts an event.
func (svc *Service) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-svc.priceCh:
			svc.apply(func() { svc.core.OnPriceObserved(ev) })
		case ev := <-svc.predCh:
			if svc.prom != nil {
				svc.prom.PredictionsTotal.WithLabelValues(ev.Source).Inc()
				if ev.Message != "" {
					svc.prom.ChatMessagesTotal.Inc()
				}
			}
			svc.apply(func() { svc.core.OnPredictionUpdated(ev) })
		case ev := <-svc.marketCh:
			svc.apply(func() { svc.core.OnMarketSnapshot(ev) })
		case cmd := <-svc.zoomCh:
			var res zoomResult
			svc.apply(func() { res.r, res.err = svc.zoom(cmd) })
			cmd.reply <- res
		}
	}
}

// apply runs one state change and publishes the resulting view if the
// session changed.
func (svc *Service) apply(fn func()) {
	start := time.Now()
	seq := svc.core.Seq()
	evicted := svc.core.buf.Evicted()

	fn()

	if svc.prom != nil {
		svc.prom.RecomputeDur.Observe(time.Since(start).Seconds())
		svc.prom.BufferLen.Set(float64(svc.core.Len()))
		if d := svc.core.buf.Evicted() - evicted; d > 0 {
			svc.prom.BufferEvicted.Add(float64(d))
		}
	}
	if svc.core.Seq() != seq {
		svc.publish()
	}
}

func (svc *Service) zoom(cmd zoomCmd) (model.DisplayRange, error) {
	switch cmd.op {
	case zoomIn:
		return svc.core.ZoomIn()
	case zoomOut:
		return svc.core.ZoomOut()
	case zoomReset:
		svc.core.ResetZoom()
		return svc.core.DisplayRange()
	default:
		return svc.core.RequestZoom(cmd.factor)
	}
}

func (svc *Service) publish() {
	v := svc.core.View()
	svc.latest.Store(&v)
	if svc.prom != nil {
		svc.prom.ViewsTotal.Inc()
	}
	if svc.deps.Bus == nil {
		return
	}
	select {
	case svc.viewCh <- v:
	default:
		if svc.prom != nil {
			svc.prom.FanoutDropsTotal.WithLabelValues("bus").Inc()
		}
		svc.log.Warn("view bus full, dropping view", "seq", v.Seq)
	}
}

// warmUp fills the window from the history endpoint. Failures are logged;
// live polling starts either way.
func (svc *Service) warmUp(ctx context.Context) {
	if svc.deps.History == nil || svc.cfg.HistoryInterval == "" {
		return
	}
	hist, err := svc.deps.History.History(ctx, svc.cfg.Core.Asset, svc.cfg.HistoryInterval)
	if err != nil {
		svc.log.Warn("history warm-up failed", "interval", svc.cfg.HistoryInterval, "error", err)
		return
	}
	// Only the newest points fit in the window.
	if n := svc.cfg.Core.BufferCapacity; len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	loaded := 0
	for _, ev := range hist {
		if svc.core.OnPriceObserved(ev) == nil {
			loaded++
		}
	}
	svc.log.Info("history warm-up done", "interval", svc.cfg.HistoryInterval, "loaded", loaded)
}

// Zoom scales the display range by factor.
func (svc *Service) Zoom(ctx context.Context, factor float64) (model.DisplayRange, error) {
	return svc.send(ctx, zoomCmd{op: zoomFactor, factor: factor})
}

// ZoomIn applies the configured zoom-in step.
func (svc *Service) ZoomIn(ctx context.Context) (model.DisplayRange, error) {
	return svc.send(ctx, zoomCmd{op: zoomIn})
}

// ZoomOut applies the configured zoom-out step.
func (svc *Service) ZoomOut(ctx context.Context) (model.DisplayRange, error) {
	return svc.send(ctx, zoomCmd{op: zoomOut})
}

// ResetZoom drops any accumulated zoom.
func (svc *Service) ResetZoom(ctx context.Context) (model.DisplayRange, error) {
	return svc.send(ctx, zoomCmd{op: zoomReset})
}

func (svc *Service) send(ctx context.Context, cmd zoomCmd) (model.DisplayRange, error) {
	cmd.reply = make(chan zoomResult, 1)
	select {
	case svc.zoomCh <- cmd:
	case <-svc.stopped:
		return model.DisplayRange{}, ErrNotRunning
	case <-ctx.Done():
		return model.DisplayRange{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.r, res.err
	case <-ctx.Done():
		return model.DisplayRange{}, ctx.Err()
	}
}
