package dashboard

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"cryptodash/internal/axisrange"
	"cryptodash/internal/indicator"
	"cryptodash/internal/model"
	"cryptodash/internal/prediction"
	"cryptodash/internal/series"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() CoreConfig {
	return CoreConfig{
		Asset:          "bitcoin",
		Session:        "test-session",
		BufferCapacity: 5,
		SMAPeriod:      2,
		RSIPeriod:      2,
		Range:          axisrange.EstimatorConfig{Mode: axisrange.ModeAuto, Padding: 0.1},
	}
}

func newTestCore(t *testing.T, cfg CoreConfig) *Core {
	t.Helper()
	c, err := NewCore(cfg, nil)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	return c
}

func price(sec int, p float64) model.PriceObserved {
	return model.PriceObserved{TS: t0.Add(time.Duration(sec) * time.Second), PriceUsd: p}
}

func predicted(sec int, p float64) model.PredictionUpdated {
	return model.PredictionUpdated{PriceUsd: model.Float(p), ReceivedAt: t0.Add(time.Duration(sec) * time.Second)}
}

func TestNewCore_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CoreConfig)
		target error
	}{
		{"capacity", func(c *CoreConfig) { c.BufferCapacity = 0 }, series.ErrInvalidCapacity},
		{"sma", func(c *CoreConfig) { c.SMAPeriod = -1 }, indicator.ErrInvalidPeriod},
		{"rsi", func(c *CoreConfig) { c.RSIPeriod = 0 }, indicator.ErrInvalidPeriod},
		{"padding", func(c *CoreConfig) { c.Range.Padding = 1.5 }, nil},
		{"mode", func(c *CoreConfig) { c.Range.Mode = "fit" }, nil},
		{"staleness", func(c *CoreConfig) { c.StaleAfter = -time.Second }, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			_, err := NewCore(cfg, nil)
			if err == nil {
				t.Fatal("expected config error")
			}
			if tc.target != nil && !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}
}

func TestCore_GeneratesSession(t *testing.T) {
	cfg := testConfig()
	cfg.Session = ""
	a := newTestCore(t, cfg)
	b := newTestCore(t, cfg)
	if a.Session() == "" || a.Session() == b.Session() {
		t.Fatalf("expected distinct generated sessions, got %q and %q", a.Session(), b.Session())
	}
}

func TestCore_EmptyState(t *testing.T) {
	c := newTestCore(t, testConfig())
	if len(c.DisplaySeries()) != 0 {
		t.Fatal("expected empty series")
	}
	if _, err := c.DisplayRange(); !errors.Is(err, axisrange.ErrEmptySeries) {
		t.Fatalf("expected ErrEmptySeries, got %v", err)
	}
	v := c.View()
	if v.Range != nil || v.Prediction != nil || v.Seq != 0 || v.RangeMode != "auto" {
		t.Fatalf("unexpected empty view %+v", v)
	}
}

func TestCore_SeriesWithIndicators(t *testing.T) {
	c := newTestCore(t, testConfig())
	for i, p := range []float64{10, 20, 30, 40} {
		if err := c.OnPriceObserved(price(i, p)); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	pts := c.DisplaySeries()
	if len(pts) != 4 {
		t.Fatalf("expected 4 points, got %d", len(pts))
	}
	if pts[0].SMA != nil {
		t.Error("SMA[0] should be absent")
	}
	for i, want := range []float64{15, 25, 35} {
		if got := pts[i+1].SMA; got == nil || *got != want {
			t.Errorf("SMA[%d] = %v, want %v", i+1, got, want)
		}
	}
	if pts[0].RSI != nil || pts[1].RSI != nil {
		t.Error("RSI before period should be absent")
	}
	if pts[2].RSI == nil || *pts[2].RSI != 100 {
		t.Errorf("RSI of rising series = %v, want 100", pts[2].RSI)
	}

	r, err := c.DisplayRange()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(r.Low-9) > 1e-9 || math.Abs(r.High-44) > 1e-9 {
		t.Errorf("range = %+v, want [9, 44]", r)
	}
}

func TestCore_WindowEvictsAndIndicatorsFollow(t *testing.T) {
	c := newTestCore(t, testConfig())
	for i := 1; i <= 12; i++ {
		c.OnPriceObserved(price(i, float64(i*10)))
	}
	pts := c.DisplaySeries()
	if len(pts) != 5 || pts[0].Observed != 80 || pts[4].Observed != 120 {
		t.Fatalf("unexpected window %+v", pts)
	}
	// Indicators are recomputed over the window, not the full history.
	if pts[0].SMA != nil {
		t.Error("first point of the window has no SMA history")
	}
}

func TestCore_NoPredictionEver(t *testing.T) {
	c := newTestCore(t, testConfig())
	for i := 0; i < 5; i++ {
		c.OnPriceObserved(price(i, 100))
	}
	for i, p := range c.DisplaySeries() {
		if p.Predicted != nil {
			t.Fatalf("point %d has prediction %v", i, *p.Predicted)
		}
	}
}

func TestCore_PredictionCarriedBetweenTicks(t *testing.T) {
	cfg := testConfig()
	cfg.BufferCapacity = 50
	c := newTestCore(t, cfg)

	c.OnPriceObserved(price(0, 100))
	c.OnPredictionUpdated(predicted(1, 50000))
	for i := 2; i < 30; i++ {
		c.OnPriceObserved(price(i*10, 100+float64(i)))
	}

	pts := c.DisplaySeries()
	if pts[0].Predicted != nil {
		t.Error("sample before the prediction must not be rewritten")
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].Predicted == nil || *pts[i].Predicted != 50000 {
			t.Fatalf("point %d: predicted = %v, want 50000", i, pts[i].Predicted)
		}
	}
}

func TestCore_StalePredictionAbsent(t *testing.T) {
	cfg := testConfig()
	cfg.StaleAfter = 20 * time.Second
	c := newTestCore(t, cfg)

	c.OnPredictionUpdated(predicted(0, 50000))
	c.OnPriceObserved(price(10, 100))
	c.OnPriceObserved(price(30, 100))

	pts := c.DisplaySeries()
	if pts[0].Predicted == nil {
		t.Error("fresh prediction should attach")
	}
	if pts[1].Predicted != nil {
		t.Error("stale prediction should be absent")
	}
	// The view still reports the last prediction received.
	if v := c.View(); v.Prediction == nil || v.Prediction.PriceUsd != 50000 {
		t.Errorf("view prediction = %+v", v.Prediction)
	}
}

func TestCore_StalenessUsesProviderClock(t *testing.T) {
	cfg := testConfig()
	cfg.StaleAfter = 20 * time.Second
	c := newTestCore(t, cfg)

	// The provider clock runs 60s ahead of the local one.
	local := t0
	live := func(sec int, p float64) model.PriceObserved {
		ev := price(sec+60, p)
		ev.ReceivedAt = local.Add(time.Duration(sec) * time.Second)
		return ev
	}

	c.OnPriceObserved(live(0, 100))
	c.OnPredictionUpdated(predicted(5, 50000))
	c.OnPriceObserved(live(10, 101))
	c.OnPriceObserved(live(30, 102))

	pts := c.DisplaySeries()
	if pts[1].Predicted == nil || *pts[1].Predicted != 50000 {
		t.Fatalf("prediction 5s old should attach despite clock offset, got %v", pts[1].Predicted)
	}
	if pts[2].Predicted != nil {
		t.Error("prediction 25s old should be stale")
	}
	if v := c.View(); v.Prediction == nil || !v.Prediction.ReceivedAt.Equal(t0.Add(5*time.Second)) {
		t.Errorf("view should report the local receive time, got %+v", v.Prediction)
	}
}

func TestCore_PerSampleErrorsAbsorbed(t *testing.T) {
	c := newTestCore(t, testConfig())
	var reasons []string
	c.OnRejected = func(reason string, _ error) { reasons = append(reasons, reason) }

	c.OnPriceObserved(price(10, 100))
	c.OnPredictionUpdated(predicted(10, 500))
	before := c.View()

	if err := c.OnPriceObserved(price(10, 101)); !errors.Is(err, series.ErrOutOfOrderSample) {
		t.Errorf("expected ErrOutOfOrderSample, got %v", err)
	}
	if err := c.OnPriceObserved(price(20, math.NaN())); !errors.Is(err, model.ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
	if err := c.OnPriceObserved(price(21, -3)); !errors.Is(err, model.ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
	if err := c.OnPredictionUpdated(predicted(20, math.Inf(1))); !errors.Is(err, prediction.ErrInvalidPrediction) {
		t.Errorf("expected ErrInvalidPrediction, got %v", err)
	}

	after := c.View()
	if after.Seq != before.Seq || len(after.Series) != len(before.Series) || after.Prediction.PriceUsd != 500 {
		t.Fatalf("rejected events changed the session: before=%+v after=%+v", before, after)
	}
	want := []string{RejectOutOfOrder, RejectInvalidPrice, RejectInvalidPrice, RejectInvalidPrediction}
	if len(reasons) != len(want) {
		t.Fatalf("reasons = %v, want %v", reasons, want)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Fatalf("reasons = %v, want %v", reasons, want)
		}
	}

	// Next valid tick still goes through.
	if err := c.OnPriceObserved(price(30, 102)); err != nil {
		t.Fatalf("valid tick after errors: %v", err)
	}
}

func TestCore_ChatLog(t *testing.T) {
	c := newTestCore(t, testConfig())
	for i := 0; i < 7; i++ {
		c.OnPredictionUpdated(model.PredictionUpdated{Message: string(rune('a' + i)), ReceivedAt: t0})
	}
	// A rejected price still keeps its chat line.
	c.OnPredictionUpdated(model.PredictionUpdated{PriceUsd: model.Float(-1), Message: "z", ReceivedAt: t0})

	chat := c.View().Chat
	if len(chat) != 5 || chat[0].Message != "z" || chat[1].Message != "g" {
		t.Fatalf("unexpected chat %+v", chat)
	}
}

func TestCore_ManualZoom(t *testing.T) {
	cfg := testConfig()
	cfg.Range = axisrange.EstimatorConfig{Mode: axisrange.ModeManual}
	c := newTestCore(t, cfg)

	r, err := c.DisplayRange()
	if err != nil || r != axisrange.DefaultManualRange {
		t.Fatalf("manual range before data = %+v, %v", r, err)
	}
	c.OnPriceObserved(price(0, 62000))
	if r, _ := c.DisplayRange(); r != axisrange.DefaultManualRange {
		t.Fatalf("data moved manual range: %+v", r)
	}

	r, _ = c.ZoomIn()
	if r.High != 80000 {
		t.Errorf("zoom in high = %v", r.High)
	}
	r, _ = c.ZoomOut()
	if math.Abs(r.High-96000) > 1e-9 {
		t.Errorf("zoom out high = %v", r.High)
	}
	if _, err := c.RequestZoom(0); !errors.Is(err, axisrange.ErrInvalidZoom) {
		t.Errorf("expected ErrInvalidZoom, got %v", err)
	}
	c.ResetZoom()
	if r, _ := c.DisplayRange(); r != axisrange.DefaultManualRange {
		t.Errorf("reset range = %+v", r)
	}
}

func TestCore_HugeZoomKeepsViewEncodable(t *testing.T) {
	for _, mode := range []axisrange.Mode{axisrange.ModeManual, axisrange.ModeAuto} {
		cfg := testConfig()
		cfg.Range.Mode = mode
		c := newTestCore(t, cfg)
		c.OnPriceObserved(price(0, 100))

		before, _ := c.DisplayRange()
		seq := c.Seq()
		if _, err := c.RequestZoom(1e308); !errors.Is(err, axisrange.ErrInvalidZoom) {
			t.Fatalf("%s: expected ErrInvalidZoom, got %v", mode, err)
		}
		if c.Seq() != seq {
			t.Errorf("%s: rejected zoom bumped the sequence", mode)
		}
		for i := 0; i < 5000; i++ {
			c.ZoomOut()
		}
		c.OnPriceObserved(price(1, 90))

		r, err := c.DisplayRange()
		if err != nil || math.IsInf(r.High, 0) {
			t.Fatalf("%s: range = %+v, %v (was %+v)", mode, r, err, before)
		}
		if mode == axisrange.ModeAuto && r.Low > 90 {
			t.Errorf("auto range stopped following data: %+v", r)
		}
		if _, err := json.Marshal(c.View()); err != nil {
			t.Fatalf("%s: view not encodable: %v", mode, err)
		}
	}
}

func TestCore_AutoZoomBeforeData(t *testing.T) {
	c := newTestCore(t, testConfig())
	seq := c.Seq()
	if _, err := c.RequestZoom(0.5); !errors.Is(err, axisrange.ErrEmptySeries) {
		t.Fatalf("expected ErrEmptySeries, got %v", err)
	}
	if c.Seq() == seq {
		t.Error("recorded zoom should bump the sequence")
	}
}

func TestCore_MarketSnapshot(t *testing.T) {
	c := newTestCore(t, testConfig())
	top := []model.MarketSnapshot{{ID: "bitcoin", Rank: 1}, {ID: "ethereum", Rank: 2}}
	c.OnMarketSnapshot(model.MarketUpdated{Asset: model.MarketSnapshot{ID: "bitcoin", PriceUsd: 62000}, Top: top})

	top[0].ID = "mutated"
	v := c.View()
	if v.Market == nil || v.Market.PriceUsd != 62000 {
		t.Fatalf("market = %+v", v.Market)
	}
	if len(v.Top) != 2 || v.Top[0].ID != "bitcoin" {
		t.Fatalf("top table shares caller memory: %+v", v.Top)
	}

	// A cycle without a top table keeps the last one.
	c.OnMarketSnapshot(model.MarketUpdated{Asset: model.MarketSnapshot{ID: "bitcoin", PriceUsd: 62100}})
	if v := c.View(); len(v.Top) != 2 || v.Market.PriceUsd != 62100 {
		t.Fatalf("unexpected view after partial update %+v", v)
	}
}

func TestCore_ViewIsolation(t *testing.T) {
	c := newTestCore(t, testConfig())
	c.OnPriceObserved(price(0, 100))
	v := c.View()
	c.OnPriceObserved(price(1, 200))
	v.Series[0].Observed = -1

	if len(v.Series) != 1 {
		t.Fatal("view observed a later append")
	}
	if c.DisplaySeries()[0].Observed != 100 {
		t.Fatal("view shares memory with the core")
	}
}

// events is a fixed interleaving of both producers.
func events() []any {
	return []any{
		price(0, 62000),
		price(10, 62010),
		predicted(12, 63000),
		price(20, 61990),
		price(20, 1), // duplicate ts
		predicted(25, -1),
		price(30, 62050.25),
		model.PredictionUpdated{Message: "pump", ReceivedAt: t0.Add(31 * time.Second)},
		price(40, 61800),
		price(50, math.NaN()),
		price(60, 62500),
		price(70, 62400),
	}
}

func replay(t *testing.T) ([]byte, []byte) {
	t.Helper()
	c := newTestCore(t, testConfig())
	for _, ev := range events() {
		switch e := ev.(type) {
		case model.PriceObserved:
			c.OnPriceObserved(e)
		case model.PredictionUpdated:
			c.OnPredictionUpdated(e)
		}
	}
	s, _ := json.Marshal(c.DisplaySeries())
	r, _ := c.DisplayRange()
	rb, _ := json.Marshal(r)
	return s, rb
}

func TestCore_Deterministic(t *testing.T) {
	s1, r1 := replay(t)
	s2, r2 := replay(t)
	if string(s1) != string(s2) {
		t.Fatalf("series differ between replays:\n%s\n%s", s1, s2)
	}
	if string(r1) != string(r2) {
		t.Fatalf("range differs between replays: %s vs %s", r1, r2)
	}
}
