package prediction

import (
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMerger_NoPredictionIsAbsent(t *testing.T) {
	m := NewMerger(0)
	for i := 0; i < 10; i++ {
		s := m.Merge(100+float64(i), t0.Add(time.Duration(i)*10*time.Second))
		if s.Predicted != nil {
			t.Fatalf("tick %d: expected no prediction, got %v", i, *s.Predicted)
		}
	}
}

func TestMerger_CarriesLastPrediction(t *testing.T) {
	m := NewMerger(0)
	if err := m.Update(50000, t0); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Without staleness the prediction sticks regardless of tick count.
	for i := 1; i <= 100; i++ {
		s := m.Merge(42000, t0.Add(time.Duration(i)*time.Minute))
		if s.Predicted == nil || *s.Predicted != 50000 {
			t.Fatalf("tick %d: expected predicted=50000, got %+v", i, s.Predicted)
		}
	}
}

func TestMerger_InvalidPredictionKeepsState(t *testing.T) {
	m := NewMerger(0)
	m.Update(50000, t0)

	bad := []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, p := range bad {
		if err := m.Update(p, t0.Add(time.Second)); !errors.Is(err, ErrInvalidPrediction) {
			t.Errorf("Update(%v): expected ErrInvalidPrediction, got %v", p, err)
		}
	}

	st := m.State()
	if !st.Valid || st.Price != 50000 || !st.ReceivedAt.Equal(t0) {
		t.Fatalf("state changed by invalid updates: %+v", st)
	}
}

func TestMerger_ReplacedWholesale(t *testing.T) {
	m := NewMerger(0)
	m.Update(50000, t0)
	m.Update(51000, t0.Add(5*time.Second))

	st := m.State()
	if st.Price != 51000 || !st.ReceivedAt.Equal(t0.Add(5*time.Second)) {
		t.Fatalf("unexpected state %+v", st)
	}
	s := m.Merge(1, t0.Add(6*time.Second))
	if *s.Predicted != 51000 {
		t.Fatalf("expected latest prediction, got %v", *s.Predicted)
	}
}

func TestMerger_Staleness(t *testing.T) {
	m := NewMerger(20 * time.Second)
	staleCalls := 0
	m.OnStale = func(time.Duration) { staleCalls++ }

	m.Update(50000, t0)

	cases := []struct {
		offset time.Duration
		want   bool
	}{
		{-5 * time.Second, true}, // prediction newer than the tick
		{0, true},
		{10 * time.Second, true},
		{20 * time.Second, true}, // boundary is inclusive
		{20*time.Second + time.Millisecond, false},
		{time.Hour, false},
	}
	for _, tc := range cases {
		s := m.Merge(1, t0.Add(tc.offset))
		if (s.Predicted != nil) != tc.want {
			t.Errorf("offset %v: predicted=%v, want %v", tc.offset, s.Predicted != nil, tc.want)
		}
	}
	if staleCalls != 2 {
		t.Errorf("expected 2 stale callbacks, got %d", staleCalls)
	}

	// Stale merges never clear the state: a fresh tick after a new update works.
	if !m.State().Valid {
		t.Fatal("merge must not mutate prediction state")
	}
}

func TestMerger_MergeDoesNotMutate(t *testing.T) {
	m := NewMerger(time.Second)
	m.Update(50000, t0)
	before := m.State()
	m.Merge(1, t0.Add(time.Hour))
	if m.State() != before {
		t.Fatal("Merge mutated prediction state")
	}
}

func TestMerger_SamplesDoNotAlias(t *testing.T) {
	m := NewMerger(0)
	m.Update(50000, t0)
	a := m.Merge(1, t0.Add(time.Second))
	b := m.Merge(2, t0.Add(2*time.Second))
	*a.Predicted = 1
	if *b.Predicted != 50000 {
		t.Fatal("merged samples share the prediction pointer")
	}
}
