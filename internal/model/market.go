package model

import "time"

// MarketSnapshot is the KPI view of one asset as reported by the provider.
type MarketSnapshot struct {
	ID                string    `json:"id"`
	Symbol            string    `json:"symbol"`
	Name              string    `json:"name"`
	Rank              int       `json:"rank"`
	PriceUsd          float64   `json:"price_usd"`
	ChangePercent24Hr float64   `json:"change_percent_24h"`
	MarketCapUsd      float64   `json:"market_cap_usd"`
	VolumeUsd24Hr     float64   `json:"volume_usd_24h"`
	TS                time.Time `json:"ts"`
}
