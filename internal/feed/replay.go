package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"cryptodash/internal/model"
)

// Replay record kinds.
const (
	KindPrice      = "price"
	KindPrediction = "prediction"
)

// ReplayRecord is one line of a JSONL replay file:
//
//	{"kind":"price","ts":"2024-03-01T12:00:00Z","price_usd":62000.5}
//	{"kind":"prediction","ts":"2024-03-01T12:00:04Z","predicted_price":63000,"chat_prediction":"up"}
type ReplayRecord struct {
	Kind           string      `json:"kind"`
	TS             time.Time   `json:"ts"`
	PriceUsd       float64     `json:"price_usd,omitempty"`
	PredictedPrice interface{} `json:"predicted_price,omitempty"`
	ChatPrediction string      `json:"chat_prediction,omitempty"`
}

// ReadReplay parses a JSONL stream. Blank lines are skipped; a malformed
// line is an error naming its line number.
func ReadReplay(r io.Reader) ([]ReplayRecord, error) {
	var out []ReplayRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var rec ReplayRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		if rec.Kind != KindPrice && rec.Kind != KindPrediction {
			return nil, fmt.Errorf("replay line %d: unknown kind %q", line, rec.Kind)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay read: %w", err)
	}
	return out, nil
}

// Replayer plays recorded events back for offline runs and demos. Each kind
// is exposed as its own source so the service still sees two independent
// producers. Timestamps come from the file, never from the local clock.
//
// Speed scales the recorded gaps: 1 is real time, 10 is ten times faster,
// 0 replays without waiting. At any speed the halves obtained from Prices
// and Predictions hand out records in file order: a record is sent only
// after the previous one has been received, so two replays of a file apply
// the same event sequence.
type Replayer struct {
	records []ReplayRecord
	speed   float64
	log     *slog.Logger

	mu      sync.Mutex
	wanted  map[string]bool
	next    int           // index of the next record to hand out
	changed chan struct{} // closed when next advances
}

// NewReplayer loads a replay file.
func NewReplayer(path string, speed float64) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()
	recs, err := ReadReplay(f)
	if err != nil {
		return nil, err
	}
	return NewReplayerFromRecords(recs, speed), nil
}

// NewReplayerFromRecords replays already parsed records.
func NewReplayerFromRecords(recs []ReplayRecord, speed float64) *Replayer {
	if speed < 0 {
		speed = 0
	}
	return &Replayer{
		records: recs,
		speed:   speed,
		log:     slog.Default().With("component", "replay"),
		wanted:  map[string]bool{},
		changed: make(chan struct{}),
	}
}

// Prices returns the price half of the recording. Records of a kind whose
// half was never requested are skipped.
func (r *Replayer) Prices() model.PriceSource {
	r.want(KindPrice)
	return replayPrices{r}
}

// Predictions returns the prediction half of the recording.
func (r *Replayer) Predictions() model.PredictionSource {
	r.want(KindPrediction)
	return replayPredictions{r}
}

func (r *Replayer) want(kind string) {
	r.mu.Lock()
	r.wanted[kind] = true
	r.mu.Unlock()
}

type replayPrices struct{ r *Replayer }

func (p replayPrices) Start(ctx context.Context, out chan<- model.PriceObserved, _ chan<- model.MarketUpdated) error {
	return p.r.play(ctx, KindPrice, func(rec ReplayRecord) bool {
		select {
		case out <- model.PriceObserved{TS: rec.TS, PriceUsd: rec.PriceUsd}:
		case <-ctx.Done():
			return false
		}
		return drained(ctx, func() int { return len(out) })
	})
}

type replayPredictions struct{ r *Replayer }

func (p replayPredictions) Start(ctx context.Context, out chan<- model.PredictionUpdated) error {
	return p.r.play(ctx, KindPrediction, func(rec ReplayRecord) bool {
		raw, _ := json.Marshal(predictionMessage{PredictedPrice: rec.PredictedPrice, ChatPrediction: rec.ChatPrediction})
		ev, err := DecodePrediction(raw, "replay", rec.TS)
		if err != nil {
			p.r.log.Debug("skipping prediction record", "ts", rec.TS, "error", err)
			return true
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return false
		}
		return drained(ctx, func() int { return len(out) })
	})
}

// play paces records of one kind against the first record of the file and
// hands each to emit. It returns when the file is exhausted or ctx is done.
func (r *Replayer) play(ctx context.Context, kind string, emit func(ReplayRecord) bool) error {
	if len(r.records) == 0 {
		<-ctx.Done()
		return nil
	}
	origin := r.records[0].TS
	start := time.Now()

	n := 0
	for i, rec := range r.records {
		if rec.Kind != kind {
			continue
		}
		if !r.waitTurn(ctx, i) {
			return nil
		}
		if r.speed > 0 {
			due := start.Add(time.Duration(float64(rec.TS.Sub(origin)) / r.speed))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}
		}
		if !emit(rec) {
			return nil
		}
		r.advance(i)
		n++
	}
	r.log.Info("replay finished", "kind", kind, "events", n)

	// A finished source stays idle so the service keeps serving the result.
	<-ctx.Done()
	return nil
}

// waitTurn blocks until record i is the next one to hand out.
func (r *Replayer) waitTurn(ctx context.Context, i int) bool {
	for {
		r.mu.Lock()
		for r.next < len(r.records) && !r.wanted[r.records[r.next].Kind] {
			r.next++
		}
		if r.next >= i {
			r.mu.Unlock()
			return true
		}
		ch := r.changed
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

func (r *Replayer) advance(i int) {
	r.mu.Lock()
	r.next = i + 1
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

// drained waits until the consumer has taken everything queued on a channel.
func drained(ctx context.Context, queued func() int) bool {
	for queued() > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Microsecond):
		}
	}
	return true
}
