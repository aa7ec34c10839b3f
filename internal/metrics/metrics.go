package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the dashboard service.
type Metrics struct {
	// Ingestion
	SamplesTotal      prometheus.Counter
	RejectedTotal     *prometheus.CounterVec // labels: reason
	PredictionsTotal  *prometheus.CounterVec // labels: source
	StalePredictions  prometheus.Counter
	ChatMessagesTotal prometheus.Counter
	BufferLen         prometheus.Gauge
	BufferEvicted     prometheus.Counter

	// Feed
	PollsTotal          *prometheus.CounterVec // labels: result=ok|error
	PollDur             prometheus.Histogram
	PredictionReconnect *prometheus.CounterVec // labels: source

	// Core
	RecomputeDur prometheus.Histogram
	ViewsTotal   prometheus.Counter

	// Delivery
	WSClients        prometheus.Gauge
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber

	// Redis view publisher
	RedisPublishDur          prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisSkippedPublishes    prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_samples_total",
			Help: "Price samples appended to the window",
		}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_rejected_events_total",
			Help: "Events dropped by the core (out_of_order, invalid_price, invalid_prediction)",
		}, []string{"reason"}),
		PredictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_predictions_total",
			Help: "Prediction messages received per push channel",
		}, []string{"source"}),
		StalePredictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_stale_prediction_merges_total",
			Help: "Samples ingested without a prediction because it was stale",
		}),
		ChatMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_chat_messages_total",
			Help: "Chat predictions received",
		}),
		BufferLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_buffer_len",
			Help: "Samples currently in the window",
		}),
		BufferEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_buffer_evicted_total",
			Help: "Samples evicted from the head of the window",
		}),

		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_polls_total",
			Help: "Market data poll cycles by result",
		}, []string{"result"}),
		PollDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dashboard_poll_duration_seconds",
			Help:    "Market data poll latency",
			Buckets: prometheus.DefBuckets,
		}),
		PredictionReconnect: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_prediction_reconnects_total",
			Help: "Prediction channel reconnect attempts",
		}, []string{"source"}),

		RecomputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dashboard_recompute_duration_seconds",
			Help:    "Time to apply one event and build its view",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		ViewsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_views_total",
			Help: "Views published to the fan-out bus",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_ws_clients",
			Help: "Connected websocket clients",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_fanout_drops_total",
			Help: "Views dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),

		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dashboard_redis_publish_duration_seconds",
			Help:    "Redis view publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisSkippedPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_redis_skipped_publishes_total",
			Help: "Views not published because the circuit breaker was open",
		}),
	}

	reg.MustRegister(
		m.SamplesTotal,
		m.RejectedTotal,
		m.PredictionsTotal,
		m.StalePredictions,
		m.ChatMessagesTotal,
		m.BufferLen,
		m.BufferEvicted,
		m.PollsTotal,
		m.PollDur,
		m.PredictionReconnect,
		m.RecomputeDur,
		m.ViewsTotal,
		m.WSClients,
		m.FanoutDropsTotal,
		m.RedisPublishDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisSkippedPublishes,
	)

	return m
}
