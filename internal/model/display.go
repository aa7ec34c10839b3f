package model

import "time"

// DisplayRange is the numeric axis [Low, High] for the rendering layer.
type DisplayRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Span returns High - Low.
func (r DisplayRange) Span() float64 { return r.High - r.Low }

// DisplayPoint is one row of the render-ready series. Optional fields are
// nil when there is no value for that index.
type DisplayPoint struct {
	TS        time.Time `json:"ts"`
	Observed  float64   `json:"observed"`
	Predicted *float64  `json:"predicted,omitempty"`
	SMA       *float64  `json:"sma,omitempty"`
	RSI       *float64  `json:"rsi,omitempty"`
}

// ChatPrediction is a free-text prediction line pushed alongside prices.
type ChatPrediction struct {
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

// Prediction is the current prediction state as shown to the UI.
type Prediction struct {
	PriceUsd   float64   `json:"price_usd"`
	ReceivedAt time.Time `json:"received_at"`
}

// View is an immutable render-ready projection of a dashboard session.
// Every slice in a View is owned by that View.
type View struct {
	Session    string           `json:"session"`
	Asset      string           `json:"asset"`
	Seq        int64            `json:"seq"`
	Series     []DisplayPoint   `json:"series"`
	Range      *DisplayRange    `json:"range,omitempty"` // nil until there is data to range over
	RangeMode  string           `json:"range_mode"`
	Prediction *Prediction      `json:"prediction,omitempty"`
	Chat       []ChatPrediction `json:"chat,omitempty"`
	Market     *MarketSnapshot  `json:"market,omitempty"`
	Top        []MarketSnapshot `json:"top,omitempty"`
}
