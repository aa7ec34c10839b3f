// Package prediction holds the most recent out-of-band predicted price and
// attaches it to observed samples at ingestion time.
package prediction

import (
	"errors"
	"fmt"
	"time"

	"cryptodash/internal/model"
)

// ErrInvalidPrediction is returned for a predicted price that is not a
// finite positive number. The previous state is kept.
var ErrInvalidPrediction = errors.New("invalid prediction")

// State is the single most recent prediction. It is replaced wholesale.
type State struct {
	Price      float64
	ReceivedAt time.Time
	Valid      bool
}

// Merger combines the latest prediction with each observed sample.
//
// StaleAfter bounds how long a prediction may be reused: a prediction
// received more than StaleAfter before a sample's timestamp is treated as
// absent. Zero disables staleness, so every later sample carries the last
// known prediction indefinitely. receivedAt passed to Update must be on the
// same clock as sample timestamps.
type Merger struct {
	StaleAfter time.Duration

	state State

	// OnStale is called when a prediction exists but was too old to attach.
	OnStale func(age time.Duration)
}

// NewMerger creates a merger with no prediction received yet.
func NewMerger(staleAfter time.Duration) *Merger {
	return &Merger{StaleAfter: staleAfter}
}

// Update replaces the prediction state. Invalid prices are rejected and the
// prior state is left untouched.
func (m *Merger) Update(price float64, receivedAt time.Time) error {
	if !model.ValidPrice(price) {
		return fmt.Errorf("%w: %v", ErrInvalidPrediction, price)
	}
	m.state = State{Price: price, ReceivedAt: receivedAt, Valid: true}
	return nil
}

// State returns a copy of the current prediction state.
func (m *Merger) State() State { return m.state }

// Merge builds the sample for an observed price at ts. It never mutates
// the prediction state.
func (m *Merger) Merge(observed float64, ts time.Time) model.PriceSample {
	s := model.PriceSample{TS: ts, Observed: observed}
	if p, ok := m.current(ts); ok {
		s.Predicted = model.Float(p)
	}
	return s
}

// current returns the prediction usable for a sample at ts.
func (m *Merger) current(ts time.Time) (float64, bool) {
	if !m.state.Valid {
		return 0, false
	}
	if m.StaleAfter > 0 {
		// A prediction received after ts has a negative age and is fresh.
		if age := ts.Sub(m.state.ReceivedAt); age > m.StaleAfter {
			if m.OnStale != nil {
				m.OnStale(age)
			}
			return 0, false
		}
	}
	return m.state.Price, true
}
