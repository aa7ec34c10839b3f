package model

import "time"

// PriceObserved is emitted once per poll cycle by the market feed.
// TS comes from the market-data provider, not from the local clock.
// ReceivedAt is the local time the poll response arrived; it is zero for
// history and replayed samples.
type PriceObserved struct {
	TS         time.Time `json:"ts"`
	PriceUsd   float64   `json:"price_usd"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
}

// PredictionUpdated is emitted whenever the push channel delivers a new
// predicted price. PriceUsd is nil when the message carried only a chat line.
type PredictionUpdated struct {
	PriceUsd   *float64  `json:"price_usd,omitempty"`
	Message    string    `json:"message,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Source     string    `json:"source,omitempty"` // "websocket", "redis", "replay"
}

// MarketUpdated carries the pass-through KPI data of a poll cycle.
type MarketUpdated struct {
	Asset MarketSnapshot   `json:"asset"`
	Top   []MarketSnapshot `json:"top,omitempty"`
}
