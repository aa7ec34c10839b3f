// Package axisrange computes the numeric axis range the chart is drawn on.
package axisrange

import (
	"errors"
	"fmt"
	"math"

	"cryptodash/internal/model"
)

var (
	// ErrEmptySeries is returned when a range is requested with no data.
	// Callers should treat it as nothing to display yet.
	ErrEmptySeries = errors.New("empty series")

	// ErrInvalidZoom is returned for a zoom factor that is not finite and
	// positive, or one that would leave a range that cannot be drawn.
	ErrInvalidZoom = errors.New("invalid zoom factor")
)

// AutoRange pads the min and max of series multiplicatively:
// [min*(1-padding), max*(1+padding)].
func AutoRange(series []float64, padding float64) (model.DisplayRange, error) {
	if len(series) == 0 {
		return model.DisplayRange{}, ErrEmptySeries
	}
	lo := math.Inf(1)
	hi := math.Inf(-1)
	for _, v := range series {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return model.DisplayRange{Low: lo * (1 - padding), High: hi * (1 + padding)}, nil
}

// Zoom scales the upper bound of r relative to its lower bound. A factor
// below 1 zooms in, above 1 zooms out. r is returned unchanged with
// ErrInvalidZoom when the new upper bound overflows, or when a non-empty
// range would collapse or no longer change.
func Zoom(r model.DisplayRange, factor float64) (model.DisplayRange, error) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return r, fmt.Errorf("%w: %v", ErrInvalidZoom, factor)
	}
	z := model.DisplayRange{Low: r.Low, High: r.Low + r.Span()*factor}
	if math.IsInf(z.High, 0) || math.IsNaN(z.High) {
		return r, fmt.Errorf("%w: %v overflows range [%v, %v]", ErrInvalidZoom, factor, r.Low, r.High)
	}
	if r.High > r.Low && (!(z.High > z.Low) || (factor != 1 && z.High == r.High)) {
		return r, fmt.Errorf("%w: %v collapses range [%v, %v]", ErrInvalidZoom, factor, r.Low, r.High)
	}
	return z, nil
}
