// Package dashboard owns one dashboard session: the price window, the
// current prediction, derived indicators and the display range.
//
// Core is the synchronous state machine. Service drives it from the feed
// goroutines and publishes each resulting View.
package dashboard

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cryptodash/internal/axisrange"
	"cryptodash/internal/indicator"
	"cryptodash/internal/model"
	"cryptodash/internal/prediction"
	"cryptodash/internal/series"
)

// Rejection reasons passed to Core.OnRejected.
const (
	RejectOutOfOrder        = "out_of_order"
	RejectInvalidPrice      = "invalid_price"
	RejectInvalidPrediction = "invalid_prediction"
)

// CoreConfig configures a Core.
type CoreConfig struct {
	Asset          string
	Session        string // generated when empty
	BufferCapacity int
	SMAPeriod      int
	RSIPeriod      int
	Range          axisrange.EstimatorConfig
	StaleAfter     time.Duration // 0 disables prediction staleness
	ChatCapacity   int
}

// Validate checks every option. Any error here stops initialization.
func (c CoreConfig) Validate() error {
	if c.BufferCapacity <= 0 {
		return fmt.Errorf("%w: %d", series.ErrInvalidCapacity, c.BufferCapacity)
	}
	if c.SMAPeriod <= 0 {
		return fmt.Errorf("%w: sma period %d", indicator.ErrInvalidPeriod, c.SMAPeriod)
	}
	if c.RSIPeriod <= 0 {
		return fmt.Errorf("%w: rsi period %d", indicator.ErrInvalidPeriod, c.RSIPeriod)
	}
	if c.StaleAfter < 0 {
		return fmt.Errorf("negative prediction staleness %s", c.StaleAfter)
	}
	return nil
}

// Core holds the state of one dashboard session. It is not safe for
// concurrent use; a single goroutine applies every event.
//
// Nothing inside Core reads the wall clock. Series and range depend only on
// the events applied and their timestamps.
type Core struct {
	cfg     CoreConfig
	log     *slog.Logger
	session string
	seq     int64

	buf    *series.Buffer
	merger *prediction.Merger
	chat   *prediction.ChatLog
	ranges *axisrange.Estimator

	// Projection of buf, rebuilt after every accepted sample.
	points []model.DisplayPoint

	market *model.MarketSnapshot
	top    []model.MarketSnapshot

	// Provider clock minus local clock, from the latest live sample.
	skew time.Duration
	// Local receive time of the current prediction, as shown in views.
	predReceivedAt time.Time

	// OnAccepted is called for every sample appended to the window.
	OnAccepted func(s model.PriceSample)

	// OnRejected is called when an event is dropped. reason is one of the
	// Reject* constants.
	OnRejected func(reason string, err error)
}

// NewCore validates cfg and builds an empty session.
func NewCore(cfg CoreConfig, logger *slog.Logger) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	buf, err := series.New(cfg.BufferCapacity)
	if err != nil {
		return nil, err
	}
	ranges, err := axisrange.NewEstimator(cfg.Range)
	if err != nil {
		return nil, fmt.Errorf("range estimator: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	session := cfg.Session
	if session == "" {
		session = uuid.NewString()
	}

	return &Core{
		cfg:     cfg,
		log:     logger.With("component", "core", "session", session),
		session: session,
		buf:     buf,
		merger:  prediction.NewMerger(cfg.StaleAfter),
		chat:    prediction.NewChatLog(cfg.ChatCapacity),
		ranges:  ranges,
	}, nil
}

// Session returns the session ID.
func (c *Core) Session() string { return c.session }

// Seq returns the number of state changes applied so far.
func (c *Core) Seq() int64 { return c.seq }

// Merger exposes the prediction merger so callers can attach hooks.
func (c *Core) Merger() *prediction.Merger { return c.merger }

// Len returns the number of samples in the window.
func (c *Core) Len() int { return c.buf.Len() }

// OnPriceObserved merges the current prediction into the price, appends it
// and recomputes indicators and range. Rejected samples leave the session
// unchanged; the error is logged and returned for counting.
func (c *Core) OnPriceObserved(ev model.PriceObserved) error {
	if !model.ValidPrice(ev.PriceUsd) {
		err := fmt.Errorf("%w: %v", model.ErrInvalidPrice, ev.PriceUsd)
		c.reject(RejectInvalidPrice, err, "trace_id", ev.TraceID)
		return err
	}

	s := c.merger.Merge(ev.PriceUsd, ev.TS)
	if err := c.buf.Append(s); err != nil {
		c.reject(RejectOutOfOrder, err, "trace_id", ev.TraceID)
		return err
	}
	if !ev.ReceivedAt.IsZero() {
		c.skew = ev.TS.Sub(ev.ReceivedAt)
	}
	if c.OnAccepted != nil {
		c.OnAccepted(s)
	}

	c.recompute()
	c.seq++
	return nil
}

// OnPredictionUpdated applies a push-channel message. The chat line is kept
// even when the price is rejected. ReceivedAt is shifted by the observed
// provider clock offset before staleness is judged against sample TS.
func (c *Core) OnPredictionUpdated(ev model.PredictionUpdated) error {
	changed := c.chat.Add(ev.Message, ev.ReceivedAt)

	var err error
	if ev.PriceUsd != nil {
		if err = c.merger.Update(*ev.PriceUsd, ev.ReceivedAt.Add(c.skew)); err != nil {
			c.reject(RejectInvalidPrediction, err, "source", ev.Source)
		} else {
			changed = true
			c.predReceivedAt = ev.ReceivedAt
			c.log.Debug("prediction updated", "price", *ev.PriceUsd, "source", ev.Source)
		}
	}
	if changed {
		c.seq++
	}
	return err
}

// OnMarketSnapshot stores the pass-through KPI data of a poll cycle.
func (c *Core) OnMarketSnapshot(ev model.MarketUpdated) {
	asset := ev.Asset
	c.market = &asset
	if ev.Top != nil {
		c.top = append([]model.MarketSnapshot(nil), ev.Top...)
	}
	c.seq++
}

// RequestZoom scales the display range. In auto mode the zoom is kept for
// later ticks, and ErrEmptySeries reports that it was recorded before any
// data arrived.
func (c *Core) RequestZoom(factor float64) (model.DisplayRange, error) {
	return c.applyZoom(func() (model.DisplayRange, error) { return c.ranges.Zoom(factor) })
}

// ZoomIn applies the configured zoom-in factor.
func (c *Core) ZoomIn() (model.DisplayRange, error) { return c.applyZoom(c.ranges.ZoomIn) }

// ZoomOut applies the configured zoom-out factor.
func (c *Core) ZoomOut() (model.DisplayRange, error) { return c.applyZoom(c.ranges.ZoomOut) }

// ResetZoom drops any accumulated zoom and recomputes the range.
func (c *Core) ResetZoom() {
	c.ranges.ResetZoom()
	c.ranges.Recompute(c.buf.Observed())
	c.seq++
}

// DisplaySeries returns the render-ready series oldest-first. The slice is
// freshly allocated; pointed-to values must be treated as read-only.
func (c *Core) DisplaySeries() []model.DisplayPoint {
	out := make([]model.DisplayPoint, len(c.points))
	copy(out, c.points)
	return out
}

// DisplayRange returns the current axis range, or ErrEmptySeries when there
// is nothing to range over yet.
func (c *Core) DisplayRange() (model.DisplayRange, error) {
	r, ok := c.ranges.Range()
	if !ok {
		return r, axisrange.ErrEmptySeries
	}
	return r, nil
}

// View builds an immutable snapshot of the session.
func (c *Core) View() model.View {
	v := model.View{
		Session:   c.session,
		Asset:     c.cfg.Asset,
		Seq:       c.seq,
		Series:    c.DisplaySeries(),
		RangeMode: string(c.ranges.Mode()),
		Chat:      c.chat.Entries(),
	}
	if r, ok := c.ranges.Range(); ok {
		v.Range = &r
	}
	if st := c.merger.State(); st.Valid {
		v.Prediction = &model.Prediction{PriceUsd: st.Price, ReceivedAt: c.predReceivedAt}
	}
	if c.market != nil {
		m := *c.market
		v.Market = &m
	}
	if len(c.top) > 0 {
		v.Top = append([]model.MarketSnapshot(nil), c.top...)
	}
	return v
}

// recompute rebuilds indicators and range over the full window.
func (c *Core) recompute() {
	samples := c.buf.Snapshot()
	prices := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.Observed
	}

	// Periods were validated in NewCore, so neither call can fail.
	sma, _ := indicator.SMA(prices, c.cfg.SMAPeriod)
	rsi, _ := indicator.RSI(prices, c.cfg.RSIPeriod)

	points := make([]model.DisplayPoint, len(samples))
	for i, s := range samples {
		points[i] = model.DisplayPoint{
			TS:        s.TS,
			Observed:  s.Observed,
			Predicted: s.Predicted,
			SMA:       sma[i].Ptr(),
			RSI:       rsi[i].Ptr(),
		}
	}
	c.points = points

	if _, err := c.ranges.Recompute(prices); err != nil {
		c.log.Warn("range recompute failed", "error", err)
	}
}

func (c *Core) reject(reason string, err error, args ...any) {
	c.log.Warn("event rejected", append([]any{"reason", reason, "error", err}, args...)...)
	if c.OnRejected != nil {
		c.OnRejected(reason, err)
	}
}

func (c *Core) applyZoom(zoom func() (model.DisplayRange, error)) (model.DisplayRange, error) {
	r, err := zoom()
	if err != nil && !errors.Is(err, axisrange.ErrEmptySeries) {
		return r, err
	}
	c.seq++
	return r, err
}
