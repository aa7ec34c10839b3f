// Package indicator computes technical indicators over a price window.
//
// Every function is a pure projection of its input: the same series yields
// the same output, and nothing is carried between calls. Indices without
// enough history are reported as not ready rather than zero.
package indicator

import (
	"errors"
	"fmt"
)

// ErrInvalidPeriod is returned when an indicator period is not positive.
var ErrInvalidPeriod = errors.New("invalid indicator period")

// Value is one indicator output. V is meaningless unless Ready is set.
type Value struct {
	V     float64
	Ready bool
}

// Ptr returns a pointer to V, or nil when the value is not ready.
func (v Value) Ptr() *float64 {
	if !v.Ready {
		return nil
	}
	x := v.V
	return &x
}

// Series is an indicator aligned index-for-index with its input.
type Series []Value

// Last returns the final value of the series, if any.
func (s Series) Last() (Value, bool) {
	if len(s) == 0 {
		return Value{}, false
	}
	return s[len(s)-1], true
}

// ReadyCount returns how many values are ready.
func (s Series) ReadyCount() int {
	n := 0
	for _, v := range s {
		if v.Ready {
			n++
		}
	}
	return n
}

func checkPeriod(name string, period int) error {
	if period <= 0 {
		return fmt.Errorf("%w: %s period %d", ErrInvalidPeriod, name, period)
	}
	return nil
}
