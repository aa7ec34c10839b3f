package gateway

import (
	"runtime"
	"time"

	"cryptodash/internal/bus"
)

// Stats is the process and delivery snapshot served on /api/stats and
// pushed to clients as "stats" envelopes.
type Stats struct {
	Goroutines  int     `json:"goroutines"`
	CPUCores    int     `json:"cpu_cores"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	UptimeSec   int64   `json:"uptime_sec"`

	WSClients    int     `json:"ws_clients"`
	Seq          int64   `json:"seq"`
	ReplayLen    int     `json:"replay_len"`
	BroadcastP50 float64 `json:"broadcast_p50_ms"`
	BroadcastP99 float64 `json:"broadcast_p99_ms"`

	Queues []bus.ChannelStat `json:"queues,omitempty"`

	TS string `json:"ts"`
}

// Stats collects a snapshot. start is the process start time.
func (h *Hub) Stats(start time.Time) Stats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	q := h.Latency.Quantiles(0.5, 0.99)
	s := Stats{
		Goroutines:   runtime.NumGoroutine(),
		CPUCores:     runtime.NumCPU(),
		HeapAllocMB:  float64(ms.HeapAlloc) / 1024 / 1024,
		SysMB:        float64(ms.Sys) / 1024 / 1024,
		GCRuns:       ms.NumGC,
		UptimeSec:    int64(time.Since(start).Seconds()),
		WSClients:    h.ClientCount(),
		Seq:          h.Seq(),
		ReplayLen:    h.replay.Len(),
		BroadcastP50: float64(q[0].Microseconds()) / 1000,
		BroadcastP99: float64(q[1].Microseconds()) / 1000,
		TS:           time.Now().UTC().Format(time.RFC3339Nano),
	}
	if h.Queues != nil {
		s.Queues = h.Queues()
	}
	return s
}
