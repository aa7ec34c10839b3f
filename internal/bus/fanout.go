// Package bus broadcasts dashboard views from the single core goroutine to
// any number of delivery sinks.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"cryptodash/internal/model"
)

type subscriber struct {
	name string
	ch   chan model.View
}

// FanOut copies every View from one input channel to each subscriber. A
// subscriber whose channel is full misses that view; the core never waits
// on a slow sink.
type FanOut struct {
	mu      sync.RWMutex
	subs    []subscriber
	bufSize int
	closed  bool

	// OnDrop is called when a view is dropped for the named subscriber.
	OnDrop func(name string)
}

// New creates a FanOut whose subscriber channels hold bufSize views.
func New(bufSize int) *FanOut {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &FanOut{bufSize: bufSize}
}

// Subscribe registers a named sink and returns its channel. The channel is
// closed when Run returns.
func (f *FanOut) Subscribe(name string) <-chan model.View {
	ch := make(chan model.View, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.subs = append(f.subs, subscriber{name: name, ch: ch})
	return ch
}

// Run forwards views until ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan model.View) {
	defer f.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.broadcast(v)
		}
	}
}

func (f *FanOut) broadcast(v model.View) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		select {
		case s.ch <- v:
		default:
			if f.OnDrop != nil {
				f.OnDrop(s.name)
			} else {
				slog.Warn("bus subscriber full, dropping view", "subscriber", s.name, "seq", v.Seq)
			}
		}
	}
}

func (f *FanOut) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		close(s.ch)
	}
	f.subs = nil
	f.closed = true
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string `json:"name"`
	Len  int    `json:"len"`
	Cap  int    `json:"cap"`
}

// ChannelStats reports the fill level of every subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.subs))
	for i, s := range f.subs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
