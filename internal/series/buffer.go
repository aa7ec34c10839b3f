// Package series provides the sliding window of recent price samples.
// The window is a fixed-capacity ring that evicts the oldest sample first
// and only accepts samples with strictly increasing timestamps.
package series

import (
	"errors"
	"fmt"

	"cryptodash/internal/model"
)

var (
	// ErrOutOfOrderSample is returned when a sample's timestamp is not
	// strictly after the newest buffered sample.
	ErrOutOfOrderSample = errors.New("out-of-order sample")

	// ErrInvalidCapacity is returned by New for a non-positive capacity.
	ErrInvalidCapacity = errors.New("buffer capacity must be positive")
)

// Buffer is a capacity-bounded, time-ordered FIFO of PriceSample.
// It is owned by a single goroutine; no locking is done here.
type Buffer struct {
	buf     []model.PriceSample
	head    int // index of the oldest sample
	size    int
	evicted uint64
}

// New creates a buffer holding at most capacity samples.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &Buffer{buf: make([]model.PriceSample, capacity)}, nil
}

// Append inserts s at the tail. A sample whose timestamp is not after the
// last buffered one is rejected and the buffer is left untouched. When the
// buffer is full the oldest sample is evicted.
func (b *Buffer) Append(s model.PriceSample) error {
	if b.size > 0 {
		last := b.buf[b.index(b.size-1)]
		if !s.TS.After(last.TS) {
			return fmt.Errorf("%w: ts %s not after %s",
				ErrOutOfOrderSample, s.TS.Format("2006-01-02T15:04:05.000Z07:00"),
				last.TS.Format("2006-01-02T15:04:05.000Z07:00"))
		}
	}

	if b.size == len(b.buf) {
		// Full: overwrite the oldest slot and advance head.
		b.buf[b.head] = s
		b.head = (b.head + 1) % len(b.buf)
		b.evicted++
		return nil
	}

	b.buf[b.index(b.size)] = s
	b.size++
	return nil
}

// Snapshot returns the samples oldest-first in a freshly allocated slice.
// Later appends are never visible through a snapshot already taken.
func (b *Buffer) Snapshot() []model.PriceSample {
	out := make([]model.PriceSample, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.buf[b.index(i)]
	}
	return out
}

// Observed returns the observed prices oldest-first.
func (b *Buffer) Observed() []float64 {
	out := make([]float64, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.buf[b.index(i)].Observed
	}
	return out
}

// Last returns the newest sample. ok is false when the buffer is empty.
func (b *Buffer) Last() (model.PriceSample, bool) {
	if b.size == 0 {
		return model.PriceSample{}, false
	}
	return b.buf[b.index(b.size-1)], true
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int { return b.size }

// Cap returns the fixed capacity N.
func (b *Buffer) Cap() int { return len(b.buf) }

// Evicted returns the total number of samples dropped from the head.
func (b *Buffer) Evicted() uint64 { return b.evicted }

// index converts a logical position (0 = oldest) to a slot in buf.
func (b *Buffer) index(logical int) int {
	return (b.head + logical) % len(b.buf)
}
