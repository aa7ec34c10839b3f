// Package gateway serves dashboard views to browsers over WebSocket and a
// small REST API, and forwards zoom commands back to the dashboard loop.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cryptodash/internal/bus"
	"cryptodash/internal/model"
)

// Controller is the dashboard surface the gateway needs.
type Controller interface {
	Latest() model.View
	Zoom(ctx context.Context, factor float64) (model.DisplayRange, error)
	ZoomIn(ctx context.Context) (model.DisplayRange, error)
	ZoomOut(ctx context.Context) (model.DisplayRange, error)
	ResetZoom(ctx context.Context) (model.DisplayRange, error)
}

// Hub fans views out to WebSocket clients. It keeps the latest envelope for
// new clients and a replay buffer so reconnecting clients can fill gaps.
type Hub struct {
	ctl Controller
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	latest  []byte
	seq     int64

	replay *ReplayBuffer

	// Latency tracks how long each broadcast takes to encode and fan out.
	Latency *LatencyTracker

	// OnClientCount is called whenever a client connects or disconnects.
	OnClientCount func(n int)

	// OnDrop is called when a client's send buffer is full.
	OnDrop func()

	// Queues reports internal view queue fill levels for stats. Optional.
	Queues func() []bus.ChannelStat
}

// NewHub creates a hub serving views from ctl. replaySize bounds the number
// of envelopes kept for gap backfill.
func NewHub(ctl Controller, replaySize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		ctl:     ctl,
		log:     logger.With("component", "gateway"),
		clients: make(map[*Client]struct{}),
		replay:  NewReplayBuffer(replaySize),
		Latency: NewLatencyTracker(10000),
	}
}

// Run broadcasts every view from views until ctx is cancelled or views is
// closed. Open client connections are closed on return.
func (h *Hub) Run(ctx context.Context, views <-chan model.View) {
	defer h.closeClients()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			h.Broadcast(v)
		}
	}
}

// Broadcast encodes v once and queues it on every client.
func (h *Hub) Broadcast(v model.View) {
	start := time.Now()
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("view encode failed", "seq", v.Seq, "error", err)
		return
	}
	env := encodeEnvelope("view", v.Seq, start.UTC(), data)

	h.mu.Lock()
	h.latest = env
	h.seq = v.Seq
	h.replay.Push(v.Seq, env)
	h.mu.Unlock()

	h.fanOut(env)
	h.Latency.Record(time.Since(start))
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
}

// Register attaches a WebSocket connection. A positive lastSeq requests the
// views missed since that sequence; otherwise the latest view is sent.
func (h *Hub) Register(conn *websocket.Conn, lastSeq int64) *Client {
	c := newClient(h, conn)

	// Initial messages are queued under the lock so a concurrent broadcast
	// cannot overtake them.
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	var initial [][]byte
	if lastSeq > 0 && lastSeq < h.seq {
		initial = h.replay.Range(lastSeq+1, h.seq)
	}
	if len(initial) == 0 && h.latest != nil && lastSeq != h.seq {
		initial = [][]byte{h.latest}
	}
	for _, msg := range initial {
		select {
		case c.send <- msg:
		default:
		}
	}
	h.mu.Unlock()

	h.log.Info("ws client connected", "clients", n, "last_seq", lastSeq, "backfill", len(initial))
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}

	go c.writePump()
	go c.readPump()
	return c
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client disconnected", "clients", n)
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

func (h *Hub) closeClients() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// Missed returns the buffered envelopes with seq in [from, to].
func (h *Hub) Missed(from, to int64) [][]byte {
	return h.replay.Range(from, to)
}

// Seq returns the sequence number of the last broadcast view.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartStatsBroadcast sends process stats to every client each interval.
func (h *Hub) StartStatsBroadcast(ctx context.Context, start time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			data, err := json.Marshal(h.Stats(start))
			if err != nil {
				continue
			}
			h.fanOut(encodeEnvelope("stats", h.Seq(), now.UTC(), data))
		}
	}
}

// encodeEnvelope wraps an encoded payload:
// {"type":"view","seq":N,"ts":"...","data":{...}}
func encodeEnvelope(typ string, seq int64, ts time.Time, data []byte) []byte {
	buf := make([]byte, 0, len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}
