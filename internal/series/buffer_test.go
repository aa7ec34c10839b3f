package series

import (
	"errors"
	"testing"
	"time"

	"cryptodash/internal/model"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(sec int, price float64) model.PriceSample {
	return model.PriceSample{TS: base.Add(time.Duration(sec) * time.Second), Observed: price}
}

func TestBuffer_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := New(c); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("New(%d): expected ErrInvalidCapacity, got %v", c, err)
		}
	}
}

func TestBuffer_BasicAppend(t *testing.T) {
	b, _ := New(4)

	if err := b.Append(sample(1, 100)); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := b.Append(sample(2, 200)); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	if b.Len() != 2 {
		t.Fatalf("expected len=2, got %d", b.Len())
	}
	if b.Cap() != 4 {
		t.Fatalf("expected cap=4, got %d", b.Cap())
	}

	last, ok := b.Last()
	if !ok || last.Observed != 200 {
		t.Fatalf("expected last=200, got %v ok=%v", last.Observed, ok)
	}
}

func TestBuffer_EmptyLast(t *testing.T) {
	b, _ := New(3)
	if _, ok := b.Last(); ok {
		t.Fatal("Last on empty buffer should return ok=false")
	}
	if got := b.Snapshot(); len(got) != 0 {
		t.Fatalf("expected empty snapshot, got %d", len(got))
	}
}

func TestBuffer_EvictsOldestFirst(t *testing.T) {
	const capacity = 5
	for _, total := range []int{1, 4, 5, 6, 13, 50} {
		b, _ := New(capacity)
		for i := 1; i <= total; i++ {
			if err := b.Append(sample(i, float64(i))); err != nil {
				t.Fatalf("total=%d append %d: %v", total, i, err)
			}
		}

		want := total
		if want > capacity {
			want = capacity
		}
		if b.Len() != want {
			t.Fatalf("total=%d: expected len=%d, got %d", total, want, b.Len())
		}

		// Contents must be the last `capacity` samples, in order.
		snap := b.Snapshot()
		first := total - want + 1
		for i, s := range snap {
			if s.Observed != float64(first+i) {
				t.Fatalf("total=%d: snap[%d]=%v, want %d", total, i, s.Observed, first+i)
			}
		}
		if int(b.Evicted()) != total-want {
			t.Errorf("total=%d: expected evicted=%d, got %d", total, total-want, b.Evicted())
		}
	}
}

func TestBuffer_RejectsOutOfOrder(t *testing.T) {
	b, _ := New(3)
	b.Append(sample(10, 1))
	b.Append(sample(20, 2))
	before := b.Snapshot()

	cases := []struct {
		name string
		s    model.PriceSample
	}{
		{"duplicate", sample(20, 99)},
		{"older", sample(15, 99)},
		{"much older", sample(0, 99)},
	}
	for _, tc := range cases {
		err := b.Append(tc.s)
		if !errors.Is(err, ErrOutOfOrderSample) {
			t.Errorf("%s: expected ErrOutOfOrderSample, got %v", tc.name, err)
		}
	}

	after := b.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("rejected appends changed size: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("rejected appends changed contents at %d", i)
		}
	}
}

func TestBuffer_RejectsOutOfOrderWhenFull(t *testing.T) {
	b, _ := New(2)
	b.Append(sample(1, 1))
	b.Append(sample(2, 2))
	b.Append(sample(3, 3)) // evicts 1

	if err := b.Append(sample(2, 9)); !errors.Is(err, ErrOutOfOrderSample) {
		t.Fatalf("expected ErrOutOfOrderSample after wraparound, got %v", err)
	}
	got := b.Observed()
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("unexpected contents %v", got)
	}
}

func TestBuffer_SnapshotIsolation(t *testing.T) {
	b, _ := New(3)
	b.Append(sample(1, 1))
	b.Append(sample(2, 2))

	snap := b.Snapshot()
	b.Append(sample(3, 3))
	b.Append(sample(4, 4)) // wraps and overwrites slot of sample 1

	if len(snap) != 2 || snap[0].Observed != 1 || snap[1].Observed != 2 {
		t.Fatalf("snapshot observed later mutation: %+v", snap)
	}

	// Mutating the snapshot must not touch the buffer.
	snap[0].Observed = 1000
	if b.Snapshot()[0].Observed == 1000 {
		t.Fatal("snapshot shares memory with buffer")
	}
}

func TestBuffer_Wraparound(t *testing.T) {
	b, _ := New(4)

	// Fill and keep appending for several rounds to exercise head movement.
	sec := 0
	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			sec++
			if err := b.Append(sample(sec, float64(sec))); err != nil {
				t.Fatalf("round %d append %d failed: %v", round, i, err)
			}
		}
		obs := b.Observed()
		for i, v := range obs {
			if v != float64(sec-3+i) {
				t.Fatalf("round %d: obs[%d]=%v, want %d", round, i, v, sec-3+i)
			}
		}
	}
}
