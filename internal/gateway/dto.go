package gateway

import (
	"time"

	"cryptodash/internal/model"
)

// RangeResponse is returned by /api/range and the zoom endpoints. Low and
// High are omitted until there is data to range over.
type RangeResponse struct {
	Ready bool     `json:"ready"`
	Mode  string   `json:"mode"`
	Low   *float64 `json:"low,omitempty"`
	High  *float64 `json:"high,omitempty"`
}

func rangeResponse(r model.DisplayRange, ready bool, mode string) RangeResponse {
	resp := RangeResponse{Ready: ready, Mode: mode}
	if ready {
		resp.Low, resp.High = model.Float(r.Low), model.Float(r.High)
	}
	return resp
}

// SeriesResponse is returned by /api/series.
type SeriesResponse struct {
	Session string               `json:"session"`
	Asset   string               `json:"asset"`
	Seq     int64                `json:"seq"`
	Points  []model.DisplayPoint `json:"points"`
}

// PredictionsResponse is returned by /api/predictions.
type PredictionsResponse struct {
	Prediction *model.Prediction      `json:"prediction"`
	Chat       []model.ChatPrediction `json:"chat"`
}

// MarketResponse is returned by /api/market.
type MarketResponse struct {
	Asset *model.MarketSnapshot  `json:"asset"`
	Top   []model.MarketSnapshot `json:"top"`
}

// ZoomRequest is the body of POST /api/zoom.
type ZoomRequest struct {
	Factor float64 `json:"factor"`
}

// HistoryPoint is one past price.
type HistoryPoint struct {
	TS       time.Time `json:"ts"`
	PriceUsd float64   `json:"price_usd"`
}

// HistoryResponse is returned by /api/history.
type HistoryResponse struct {
	Asset    string         `json:"asset"`
	Interval string         `json:"interval"`
	Points   []HistoryPoint `json:"points"`
}
