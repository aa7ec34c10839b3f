// Package feed adapts external market data and prediction channels into
// dashboard events.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cryptodash/internal/model"
)

// DefaultCoinCapURL is the public CoinCap v2 REST endpoint.
const DefaultCoinCapURL = "https://api.coincap.io/v2"

// History intervals accepted by CoinCap.
var HistoryIntervals = []string{"m1", "m5", "m15", "m30", "h1", "h2", "h6", "h12", "d1"}

// ErrUnknownInterval is returned for a history interval CoinCap does not serve.
var ErrUnknownInterval = errors.New("unknown history interval")

// CoinCapClient reads asset prices from the CoinCap v2 API.
type CoinCapClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewCoinCapClient creates a client. An empty baseURL uses DefaultCoinCapURL.
func NewCoinCapClient(baseURL, apiKey string, timeout time.Duration) *CoinCapClient {
	if baseURL == "" {
		baseURL = DefaultCoinCapURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CoinCapClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// coincapAsset mirrors the wire format; every number is a string.
type coincapAsset struct {
	ID                string      `json:"id"`
	Rank              interface{} `json:"rank"`
	Symbol            string      `json:"symbol"`
	Name              string      `json:"name"`
	PriceUsd          interface{} `json:"priceUsd"`
	ChangePercent24Hr interface{} `json:"changePercent24Hr"`
	MarketCapUsd      interface{} `json:"marketCapUsd"`
	VolumeUsd24Hr     interface{} `json:"volumeUsd24Hr"`
}

type coincapHistoryPoint struct {
	PriceUsd interface{} `json:"priceUsd"`
	Time     int64       `json:"time"`
}

type envelope[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

func (a coincapAsset) snapshot(ts time.Time) (model.MarketSnapshot, error) {
	price, err := toFloat(a.PriceUsd)
	if err != nil {
		return model.MarketSnapshot{}, fmt.Errorf("asset %s priceUsd: %w", a.ID, err)
	}
	return model.MarketSnapshot{
		ID:                a.ID,
		Symbol:            a.Symbol,
		Name:              a.Name,
		Rank:              toInt(a.Rank),
		PriceUsd:          price,
		ChangePercent24Hr: optFloat(a.ChangePercent24Hr),
		MarketCapUsd:      optFloat(a.MarketCapUsd),
		VolumeUsd24Hr:     optFloat(a.VolumeUsd24Hr),
		TS:                ts,
	}, nil
}

// Asset fetches one asset. TS is the provider's response timestamp.
func (c *CoinCapClient) Asset(ctx context.Context, id string) (model.MarketSnapshot, error) {
	var env envelope[coincapAsset]
	if err := c.get(ctx, "/assets/"+url.PathEscape(id), nil, &env); err != nil {
		return model.MarketSnapshot{}, err
	}
	return env.Data.snapshot(responseTime(env.Timestamp))
}

// TopAssets fetches the first limit assets by market cap rank. Assets with
// an unparseable price are skipped.
func (c *CoinCapClient) TopAssets(ctx context.Context, limit int) ([]model.MarketSnapshot, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var env envelope[[]coincapAsset]
	if err := c.get(ctx, "/assets", q, &env); err != nil {
		return nil, err
	}
	ts := responseTime(env.Timestamp)
	out := make([]model.MarketSnapshot, 0, len(env.Data))
	for _, a := range env.Data {
		snap, err := a.snapshot(ts)
		if err != nil {
			continue
		}
		out = append(out, snap)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// History fetches the price history of an asset at the given interval,
// oldest first.
func (c *CoinCapClient) History(ctx context.Context, id, interval string) ([]model.PriceObserved, error) {
	if !validInterval(interval) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	q := url.Values{"interval": {interval}}
	var env envelope[[]coincapHistoryPoint]
	if err := c.get(ctx, "/assets/"+url.PathEscape(id)+"/history", q, &env); err != nil {
		return nil, err
	}
	out := make([]model.PriceObserved, 0, len(env.Data))
	for _, p := range env.Data {
		price, err := toFloat(p.PriceUsd)
		if err != nil {
			continue
		}
		out = append(out, model.PriceObserved{TS: fromUnixMilli(p.Time), PriceUsd: price})
	}
	return out, nil
}

func (c *CoinCapClient) get(ctx context.Context, path string, q url.Values, dest interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("coincap %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coincap %s: unexpected status %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("coincap %s: decode: %w", path, err)
	}
	return nil
}

// responseTime falls back to the local clock when the provider omits its
// timestamp.
func responseTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return fromUnixMilli(ms)
}

func validInterval(s string) bool {
	for _, i := range HistoryIntervals {
		if i == s {
			return true
		}
	}
	return false
}
