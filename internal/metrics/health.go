package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus tracks liveness of the feeds and delivery sinks.
type HealthStatus struct {
	mu sync.RWMutex

	PollInterval        time.Duration
	LastPollTime        time.Time
	LastPollError       string
	PredictionConnected bool
	LastPredictionTime  time.Time
	RedisEnabled        bool
	RedisConnected      bool
	RedisLatencyMs      float64
	WSClients           int
	LastCheckAt         time.Time
	StartedAt           time.Time

	now func() time.Time
}

// NewHealthStatus returns a health status for a feed polled every
// pollInterval.
func NewHealthStatus(pollInterval time.Duration) *HealthStatus {
	return &HealthStatus{
		PollInterval: pollInterval,
		StartedAt:    time.Now(),
		now:          time.Now,
	}
}

// RecordPoll records the outcome of one poll cycle.
func (h *HealthStatus) RecordPoll(at time.Time, err error) {
	h.mu.Lock()
	h.LastPollTime = at
	if err != nil {
		h.LastPollError = err.Error()
	} else {
		h.LastPollError = ""
	}
	h.mu.Unlock()
}

func (h *HealthStatus) SetPredictionConnected(v bool) {
	h.mu.Lock()
	h.PredictionConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPredictionTime(t time.Time) {
	h.mu.Lock()
	h.LastPredictionTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetWSClients(n int) {
	h.mu.Lock()
	h.WSClients = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb goredis.UniversalClient) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker pings Redis every interval until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb goredis.UniversalClient, interval time.Duration) {
	if rdb == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckRedis(probeCtx, rdb)
				cancel()
			}
		}
	}()
}

// feedFresh reports whether a successful poll happened within three
// intervals. Called with mu held.
func (h *HealthStatus) feedFresh() bool {
	if h.LastPollTime.IsZero() || h.LastPollError != "" {
		return false
	}
	return h.now().Sub(h.LastPollTime) <= 3*h.PollInterval
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	feedOK := h.feedFresh()
	redisOK := !h.RedisEnabled || h.RedisConnected

	overallStatus := "healthy"
	httpCode := http.StatusOK
	switch {
	case !feedOK:
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case !redisOK || !h.PredictionConnected:
		overallStatus = "degraded"
	}

	pollAge := ""
	if !h.LastPollTime.IsZero() {
		pollAge = h.now().Sub(h.LastPollTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status              string  `json:"status"`
		Uptime              string  `json:"uptime"`
		FeedOK              bool    `json:"feed_ok"`
		LastPollTime        string  `json:"last_poll_time"`
		PollAge             string  `json:"poll_age"`
		LastPollError       string  `json:"last_poll_error,omitempty"`
		PredictionConnected bool    `json:"prediction_connected"`
		LastPredictionTime  string  `json:"last_prediction_time"`
		RedisEnabled        bool    `json:"redis_enabled"`
		RedisConnected      bool    `json:"redis_connected"`
		RedisLatencyMs      float64 `json:"redis_latency_ms"`
		WSClients           int     `json:"ws_clients"`
		LastCheckAt         string  `json:"last_check_at"`
	}{
		Status:              overallStatus,
		Uptime:              h.now().Sub(h.StartedAt).Round(time.Second).String(),
		FeedOK:              feedOK,
		LastPollTime:        h.LastPollTime.Format(time.RFC3339),
		PollAge:             pollAge,
		LastPollError:       h.LastPollError,
		PredictionConnected: h.PredictionConnected,
		LastPredictionTime:  h.LastPredictionTime.Format(time.RFC3339),
		RedisEnabled:        h.RedisEnabled,
		RedisConnected:      h.RedisConnected,
		RedisLatencyMs:      h.RedisLatencyMs,
		WSClients:           h.WSClients,
		LastCheckAt:         h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
