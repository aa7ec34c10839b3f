package model

import "context"

// ── Feed Port Interfaces ──
// These decouple the dashboard service from concrete feed implementations
// (CoinCap polling, websocket or Redis push channels, file replay).

// PriceSource produces PriceObserved events on its own cadence.
type PriceSource interface {
	// Start begins producing events into out. Blocks until ctx is cancelled.
	Start(ctx context.Context, out chan<- PriceObserved, market chan<- MarketUpdated) error
}

// PredictionSource produces PredictionUpdated events whenever the push
// channel delivers one.
type PredictionSource interface {
	// Start subscribes and forwards events into out. Blocks until ctx is
	// cancelled; the subscription is released before it returns.
	Start(ctx context.Context, out chan<- PredictionUpdated) error
}

// ViewPublisher pushes render-ready views to an external consumer.
type ViewPublisher interface {
	// Run publishes every view received on ch until ctx is done or ch closes.
	Run(ctx context.Context, ch <-chan View)

	// Close releases underlying resources.
	Close() error
}
