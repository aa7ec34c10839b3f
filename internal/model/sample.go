package model

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidPrice is returned for an observed price that is not a finite
// positive number.
var ErrInvalidPrice = errors.New("invalid observed price")

// PriceSample is one observed price with the prediction that was current
// when it was ingested. Samples are never mutated after creation.
type PriceSample struct {
	TS        time.Time `json:"ts"`
	Observed  float64   `json:"observed"`
	Predicted *float64  `json:"predicted,omitempty"` // nil when no usable prediction
}

// ValidPrice reports whether p is finite and strictly positive.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// Float returns a pointer to a copy of v.
func Float(v float64) *float64 { return &v }
