package axisrange

import (
	"fmt"
	"math"

	"cryptodash/internal/model"
)

// Mode selects how the estimator tracks the data.
type Mode string

const (
	// ModeAuto recomputes a tight padded range from the window on every tick.
	ModeAuto Mode = "auto"
	// ModeManual keeps a fixed range that only zoom commands change.
	ModeManual Mode = "manual"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeManual:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown range mode %q", s)
}

// DefaultManualRange is where manual mode starts.
var DefaultManualRange = model.DisplayRange{Low: 0, High: 100000}

// Zoom button factors.
const (
	DefaultZoomIn  = 0.8
	DefaultZoomOut = 1.2
)

// Bounds of the cumulative auto-mode zoom.
const (
	MinCumulativeZoom = 1e-6
	MaxCumulativeZoom = 1e6
)

// EstimatorConfig configures an Estimator.
type EstimatorConfig struct {
	Mode    Mode
	Padding float64            // auto mode, in [0,1)
	Initial model.DisplayRange // manual mode starting range
	ZoomIn  float64
	ZoomOut float64
}

// Validate checks the configuration.
func (c EstimatorConfig) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Padding < 0 || c.Padding >= 1 || math.IsNaN(c.Padding) {
		return fmt.Errorf("padding factor %v outside [0,1)", c.Padding)
	}
	if c.Mode == ModeManual && !(c.Initial.High > c.Initial.Low) {
		return fmt.Errorf("manual range [%v, %v] is empty", c.Initial.Low, c.Initial.High)
	}
	for _, f := range []float64{c.ZoomIn, c.ZoomOut} {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %v", ErrInvalidZoom, f)
		}
	}
	return nil
}

// Estimator owns the current DisplayRange for one dashboard session.
//
// In auto mode zoom commands accumulate into a factor that is applied on
// top of every recomputed range, so a zoom survives the next tick.
type Estimator struct {
	cfg     EstimatorConfig
	current model.DisplayRange
	ready   bool
	zoom    float64 // cumulative, auto mode only
}

// NewEstimator creates an estimator. Zero zoom factors take the defaults.
func NewEstimator(cfg EstimatorConfig) (*Estimator, error) {
	if cfg.ZoomIn == 0 {
		cfg.ZoomIn = DefaultZoomIn
	}
	if cfg.ZoomOut == 0 {
		cfg.ZoomOut = DefaultZoomOut
	}
	if cfg.Mode == ModeManual && cfg.Initial == (model.DisplayRange{}) {
		cfg.Initial = DefaultManualRange
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Estimator{cfg: cfg, zoom: 1}
	if cfg.Mode == ModeManual {
		e.current = cfg.Initial
		e.ready = true
	}
	return e, nil
}

// Mode returns the configured mode.
func (e *Estimator) Mode() Mode { return e.cfg.Mode }

// Range returns the current range. ok is false in auto mode until data has
// been seen.
func (e *Estimator) Range() (model.DisplayRange, bool) {
	return e.current, e.ready
}

// Recompute updates the range for the current window. Manual mode ignores
// the data. Auto mode returns ErrEmptySeries for an empty window and
// forgets the previous range. A kept zoom that does not fit the new data is
// skipped for this recompute so the range still follows the window.
func (e *Estimator) Recompute(series []float64) (model.DisplayRange, error) {
	if e.cfg.Mode == ModeManual {
		return e.current, nil
	}
	base, err := AutoRange(series, e.cfg.Padding)
	if err != nil {
		e.ready = false
		e.current = model.DisplayRange{}
		return e.current, err
	}
	r, err := Zoom(base, e.zoom)
	if err != nil {
		r = base
	}
	e.current, e.ready = r, true
	return r, nil
}

// Zoom applies a zoom command. In auto mode the factor is also remembered
// for later recomputes; with no data yet it returns ErrEmptySeries. A
// rejected command leaves both the range and the kept zoom unchanged.
func (e *Estimator) Zoom(factor float64) (model.DisplayRange, error) {
	if e.cfg.Mode == ModeManual {
		r, err := Zoom(e.current, factor)
		if err != nil {
			return e.current, err
		}
		e.current = r
		return r, nil
	}

	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return e.current, fmt.Errorf("%w: %v", ErrInvalidZoom, factor)
	}
	z := e.zoom * factor
	if z < MinCumulativeZoom || z > MaxCumulativeZoom {
		return e.current, fmt.Errorf("%w: cumulative zoom %v outside [%v, %v]",
			ErrInvalidZoom, z, MinCumulativeZoom, MaxCumulativeZoom)
	}
	if !e.ready {
		e.zoom = z
		return model.DisplayRange{}, ErrEmptySeries
	}
	r, err := Zoom(e.current, factor)
	if err != nil {
		return e.current, err
	}
	e.zoom, e.current = z, r
	return r, nil
}

// ZoomIn applies the configured zoom-in factor.
func (e *Estimator) ZoomIn() (model.DisplayRange, error) { return e.Zoom(e.cfg.ZoomIn) }

// ZoomOut applies the configured zoom-out factor.
func (e *Estimator) ZoomOut() (model.DisplayRange, error) { return e.Zoom(e.cfg.ZoomOut) }

// ResetZoom drops accumulated zoom. Manual mode returns to the initial range.
func (e *Estimator) ResetZoom() {
	e.zoom = 1
	if e.cfg.Mode == ModeManual {
		e.current = e.cfg.Initial
	}
}
