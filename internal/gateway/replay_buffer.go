package gateway

import (
	"sort"
	"sync"
)

type replayEntry struct {
	seq  int64
	data []byte
}

// ReplayBuffer keeps the most recent view envelopes for clients that
// reconnect after missing a few sequence numbers. Sequences are pushed in
// increasing order. Safe for concurrent use.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry // ring, oldest at head
	head    int
	size    int
}

// NewReplayBuffer creates a buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push stores data under seq, evicting the oldest envelope when full. A seq
// not greater than the newest stored one is ignored.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size > 0 && seq <= rb.at(rb.size-1).seq {
		return
	}
	e := replayEntry{seq: seq, data: append([]byte(nil), data...)}
	if rb.size < len(rb.entries) {
		rb.entries[(rb.head+rb.size)%len(rb.entries)] = e
		rb.size++
		return
	}
	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % len(rb.entries)
}

// Range returns the envelopes with seq in [from, to], oldest first.
func (rb *ReplayBuffer) Range(from, to int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	start := sort.Search(rb.size, func(i int) bool { return rb.at(i).seq >= from })
	var out [][]byte
	for i := start; i < rb.size; i++ {
		e := rb.at(i)
		if e.seq > to {
			break
		}
		out = append(out, e.data)
	}
	return out
}

// Oldest returns the smallest stored sequence, or 0 when empty.
func (rb *ReplayBuffer) Oldest() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.size == 0 {
		return 0
	}
	return rb.at(0).seq
}

// Len returns the number of stored envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

func (rb *ReplayBuffer) at(i int) replayEntry {
	return rb.entries[(rb.head+i)%len(rb.entries)]
}
