package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cryptodash/internal/bus"
	"cryptodash/internal/config"
	"cryptodash/internal/dashboard"
	"cryptodash/internal/feed"
	"cryptodash/internal/gateway"
	"cryptodash/internal/logger"
	"cryptodash/internal/metrics"
	"cryptodash/internal/model"
	"cryptodash/internal/notification"
	storeredis "cryptodash/internal/store/redis"
)

var processStart = time.Now()

func main() {
	cfgPath := flag.String("config", "configs/dashboard.yaml", "Path to YAML config (empty: defaults and env only)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[dashboard] config: %v", err)
	}
	level, _ := logger.ParseLevel(cfg.LogLevel)
	slogger := logger.Init("dashboard", level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	// ── Metrics & health ──
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(cfg.PollInterval())

	// ── Alerts ──
	notifiers := []notification.Notifier{notification.NewLogNotifier(slogger)}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Alerts.WebhookURL, 10*time.Second))
	}
	alerts := notification.NewDispatcher(32, slogger, notifiers...)
	alerts.Cooldown = time.Duration(cfg.Alerts.CooldownSec) * time.Second
	go alerts.Run(ctx)

	// ── Redis (optional) ──
	var (
		rdb       goredis.UniversalClient
		publisher *storeredis.Publisher
	)
	if cfg.Redis.Enabled {
		publisher, err = storeredis.New(cfg.RedisPublisherConfig())
		if err != nil {
			slogger.Error("redis unavailable", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		rdb = publisher.Client()
		wireRedisMetrics(publisher, prom, alerts, cfg.Asset)
		health.SetRedisEnabled(true)
		health.CheckRedis(ctx, rdb)
		health.StartLivenessChecker(ctx, rdb, 10*time.Second)
	}

	// ── Feeds ──
	var history gateway.HistorySource
	deps := dashboard.Deps{
		Bus:     bus.New(cfg.Gateway.BusBuffer),
		Metrics: prom,
		Logger:  slogger,
	}
	if cfg.Feed.Source == "replay" {
		rp, err := feed.NewReplayer(cfg.Feed.ReplayPath, cfg.Feed.ReplaySpeed)
		if err != nil {
			slogger.Error("replay file unusable", "path", cfg.Feed.ReplayPath, "error", err)
			os.Exit(1)
		}
		deps.Prices = rp.Prices()
		deps.Predictions = []model.PredictionSource{rp.Predictions()}
		health.SetPredictionConnected(true)
		slogger.Info("replay mode", "path", cfg.Feed.ReplayPath, "speed", cfg.Feed.ReplaySpeed)
	} else {
		client := feed.NewCoinCapClient(cfg.Feed.BaseURL, cfg.Feed.APIKey, time.Duration(cfg.Feed.TimeoutMs)*time.Millisecond)
		poller := feed.NewPoller(cfg.PollerConfig(), client)
		streak := &notification.Streak{Threshold: cfg.Alerts.FailureThreshold}
		poller.OnPoll = func(d time.Duration, err error) {
			health.RecordPoll(time.Now(), err)
			switch tripped, recovered := streak.Record(err); {
			case tripped:
				alerts.Notify(notification.Alert{Level: notification.AlertWarning, Title: "coincap polls failing", Message: err.Error(), Asset: cfg.Asset})
			case recovered:
				alerts.Notify(notification.Alert{Level: notification.AlertInfo, Title: "coincap polls recovered", Asset: cfg.Asset})
			}
			prom.PollDur.Observe(d.Seconds())
			result := "ok"
			if err != nil {
				result = "error"
			}
			prom.PollsTotal.WithLabelValues(result).Inc()
		}
		poller.OnDrop = func(kind string) { prom.FanoutDropsTotal.WithLabelValues("poller_" + kind).Inc() }
		deps.Prices = poller
		deps.History = client
		history = client
		deps.Predictions = predictionSources(cfg, rdb, health, prom)
	}
	if len(deps.Predictions) == 0 {
		health.SetPredictionConnected(true)
	}

	svc, err := dashboard.NewService(cfg.ServiceConfig(), deps)
	if err != nil {
		slogger.Error("dashboard init failed", "error", err)
		os.Exit(1)
	}

	// ── View sinks ──
	deps.Bus.OnDrop = func(name string) { prom.FanoutDropsTotal.WithLabelValues(name).Inc() }
	gwViews := deps.Bus.Subscribe("gateway")
	healthViews := deps.Bus.Subscribe("health")
	var redisViews <-chan model.View
	if publisher != nil {
		redisViews = deps.Bus.Subscribe("redis")
	}

	hub := gateway.NewHub(svc, cfg.Gateway.ReplaySize, slogger)
	hub.OnClientCount = func(n int) {
		prom.WSClients.Set(float64(n))
		health.SetWSClients(n)
	}
	hub.OnDrop = func() { prom.FanoutDropsTotal.WithLabelValues("ws_client").Inc() }
	hub.Queues = deps.Bus.ChannelStats
	go hub.Run(ctx, gwViews)
	go hub.StartStatsBroadcast(ctx, processStart, time.Duration(cfg.Gateway.StatsIntervalMs)*time.Millisecond)
	go trackViews(healthViews, health, cfg.Feed.Source == "replay")

	pubDone := make(chan struct{})
	if publisher != nil {
		go func() {
			defer close(pubDone)
			publisher.Run(ctx, redisViews)
		}()
	} else {
		close(pubDone)
	}

	// ── HTTP servers ──
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, processStart)
	if history != nil {
		interval := cfg.Feed.HistoryInterval
		if interval == "" {
			interval = "m1"
		}
		gateway.RegisterHistoryRoute(mux, history, cfg.Asset, interval, slogger)
	}
	gwSrv := &http.Server{Addr: cfg.Gateway.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slogger.Info("gateway listening", "addr", cfg.Gateway.Addr)
		if err := gwSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogger.Error("gateway server failed", "error", err)
			cancel()
		}
	}()

	metricsSrv := metrics.NewServer(cfg.Metrics.Addr, health, reg)
	metricsSrv.Start()

	// ── Run until signal ──
	if err := svc.Run(ctx); err != nil {
		slogger.Error("dashboard stopped with error", "error", err)
	}
	<-pubDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := gwSrv.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("gateway shutdown", "error", err)
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		slogger.Warn("metrics shutdown", "error", err)
	}
	if publisher != nil {
		publisher.Close()
	}
	slogger.Info("dashboard exited", "uptime", time.Since(processStart).Round(time.Second).String())
}

func predictionSources(cfg *config.Config, rdb goredis.UniversalClient, health *metrics.HealthStatus, prom *metrics.Metrics) []model.PredictionSource {
	var out []model.PredictionSource
	src := cfg.Prediction.Source
	delay := time.Duration(cfg.Prediction.ReconnectDelayMs) * time.Millisecond

	if src == "websocket" || src == "both" {
		ws := feed.NewWSPredictions(cfg.Prediction.WSURL, nil, delay)
		ws.OnConnect = health.SetPredictionConnected
		ws.OnReconnect = func() { prom.PredictionReconnect.WithLabelValues("websocket").Inc() }
		out = append(out, ws)
	}
	if (src == "redis" || src == "both") && rdb != nil {
		rp := feed.NewRedisPredictions(rdb, cfg.Prediction.RedisChannel)
		rp.OnConnect = func(connected bool) {
			if src == "redis" {
				health.SetPredictionConnected(connected)
			}
			if !connected {
				prom.PredictionReconnect.WithLabelValues("redis").Inc()
			}
		}
		out = append(out, rp)
	}
	return out
}

func wireRedisMetrics(p *storeredis.Publisher, prom *metrics.Metrics, alerts *notification.Dispatcher, asset string) {
	p.OnPublish = func(d time.Duration, err error) { prom.RedisPublishDur.Observe(d.Seconds()) }
	p.OnSkip = func() { prom.RedisSkippedPublishes.Inc() }
	p.Breaker().OnStateChange = func(from, to storeredis.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
		switch {
		case to == storeredis.StateOpen:
			prom.RedisCircuitBreakerTrips.Inc()
			if from == storeredis.StateClosed {
				alerts.Notify(notification.Alert{Level: notification.AlertCritical, Title: "redis view publisher breaker open", Asset: asset})
			}
		case to == storeredis.StateClosed && from != storeredis.StateClosed:
			alerts.Notify(notification.Alert{Level: notification.AlertInfo, Title: "redis view publisher recovered", Asset: asset})
		}
	}
}

// trackViews feeds prediction freshness into the health endpoint. In replay
// mode there is no poller, so new samples also count as successful polls.
func trackViews(views <-chan model.View, health *metrics.HealthStatus, recordFeed bool) {
	var lastPred, lastTick time.Time
	for v := range views {
		if v.Prediction != nil && !v.Prediction.ReceivedAt.Equal(lastPred) {
			lastPred = v.Prediction.ReceivedAt
			health.SetLastPredictionTime(lastPred)
		}
		if n := len(v.Series); recordFeed && n > 0 && !v.Series[n-1].TS.Equal(lastTick) {
			lastTick = v.Series[n-1].TS
			health.RecordPoll(time.Now(), nil)
		}
	}
}
