// Package config loads the dashboard configuration: struct defaults, then
// the YAML file, then environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"cryptodash/internal/axisrange"
	"cryptodash/internal/dashboard"
	"cryptodash/internal/feed"
	"cryptodash/internal/model"
	storeredis "cryptodash/internal/store/redis"
)

// Config is the complete dashboard configuration.
type Config struct {
	Asset    string `yaml:"asset" default:"bitcoin" validate:"required"`
	LogLevel string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`

	BufferCapacity        int     `yaml:"buffer_capacity" default:"50" validate:"min=1"`
	SMAPeriod             int     `yaml:"sma_period" default:"7" validate:"min=1"`
	RSIPeriod             int     `yaml:"rsi_period" default:"14" validate:"min=1"`
	RangeMode             string  `yaml:"range_mode" default:"auto" validate:"oneof=auto manual"`
	PaddingFactor         float64 `yaml:"padding_factor" default:"0.0001" validate:"gte=0,lt=1"`
	PredictionStalenessMs *int    `yaml:"prediction_staleness_ms" validate:"omitempty,min=0"`

	Range      RangeConfig      `yaml:"range"`
	Feed       FeedConfig       `yaml:"feed"`
	Prediction PredictionConfig `yaml:"prediction"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Redis      RedisConfig      `yaml:"redis"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Alerts     AlertsConfig     `yaml:"alerts"`
}

// RangeConfig holds manual-mode bounds and zoom steps.
type RangeConfig struct {
	ManualLow  float64 `yaml:"manual_low" default:"0"`
	ManualHigh float64 `yaml:"manual_high" default:"100000"`
	ZoomIn     float64 `yaml:"zoom_in" default:"0.8" validate:"gt=0"`
	ZoomOut    float64 `yaml:"zoom_out" default:"1.2" validate:"gt=0"`
}

// FeedConfig selects and tunes the price source.
type FeedConfig struct {
	Source          string  `yaml:"source" default:"coincap" validate:"oneof=coincap replay"`
	BaseURL         string  `yaml:"base_url" default:"https://api.coincap.io/v2" validate:"required,url"`
	APIKey          string  `yaml:"api_key"`
	PollIntervalMs  int     `yaml:"poll_interval_ms" default:"10000" validate:"min=1000"`
	TimeoutMs       int     `yaml:"timeout_ms" default:"5000" validate:"min=1"`
	TopLimit        int     `yaml:"top_limit" default:"10" validate:"min=0,max=2000"`
	HistoryInterval string  `yaml:"history_interval"`
	ReplayPath      string  `yaml:"replay_path" validate:"required_if=Source replay"`
	ReplaySpeed     float64 `yaml:"replay_speed" default:"1" validate:"gte=0"`
}

// PredictionConfig selects the push channels for predictions.
type PredictionConfig struct {
	Source           string `yaml:"source" default:"websocket" validate:"oneof=websocket redis both none"`
	WSURL            string `yaml:"ws_url" default:"ws://localhost:5000/ws"`
	RedisChannel     string `yaml:"redis_channel" default:"update_price"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms" default:"3000" validate:"min=1"`
	ChatCapacity     int    `yaml:"chat_capacity" default:"5" validate:"min=1"`
}

// GatewayConfig configures the REST and websocket server.
type GatewayConfig struct {
	Addr            string `yaml:"addr" default:":8080" validate:"required"`
	ReplaySize      int    `yaml:"replay_size" default:"256" validate:"min=1"`
	StatsIntervalMs int    `yaml:"stats_interval_ms" default:"2000" validate:"min=100"`
	BusBuffer       int    `yaml:"bus_buffer" default:"64" validate:"min=1"`
}

// RedisConfig configures the Redis view publisher and prediction channel.
type RedisConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Addr           string `yaml:"addr" default:"localhost:6379"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db" validate:"min=0"`
	KeyPrefix      string `yaml:"key_prefix" default:"dash"`
	ViewTTLSec     int    `yaml:"view_ttl_sec" validate:"min=0"`
	MaxFailures    int    `yaml:"max_failures" default:"5" validate:"min=1"`
	ResetTimeoutMs int    `yaml:"reset_timeout_ms" default:"10000" validate:"min=1"`
}

// MetricsConfig configures the metrics and health server.
type MetricsConfig struct {
	Addr string `yaml:"addr" default:":9090" validate:"required"`
}

// AlertsConfig configures operational alerts.
type AlertsConfig struct {
	WebhookURL       string `yaml:"webhook_url" validate:"omitempty,url"`
	FailureThreshold int    `yaml:"failure_threshold" default:"3" validate:"min=1"`
	CooldownSec      int    `yaml:"cooldown_sec" default:"300" validate:"min=0"`
}

var validate = validator.New()

// Load reads path (optional: an empty path uses defaults and env only),
// applies environment overrides and validates the result. Defaults are set
// first so an explicit zero in the file is kept.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, fmt.Errorf("env override: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate runs struct tag validation and cross-field checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, e := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", e.Namespace(), e.Tag())
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.RangeMode == string(axisrange.ModeManual) && !(c.Range.ManualHigh > c.Range.ManualLow) {
		return fmt.Errorf("range.manual_high %v must exceed range.manual_low %v", c.Range.ManualHigh, c.Range.ManualLow)
	}
	if c.Feed.HistoryInterval != "" && !slices.Contains(feed.HistoryIntervals, c.Feed.HistoryInterval) {
		return fmt.Errorf("%w: feed.history_interval %q", feed.ErrUnknownInterval, c.Feed.HistoryInterval)
	}
	if c.usesRedisPredictions() && !c.Redis.Enabled {
		return fmt.Errorf("prediction.source %q requires redis.enabled", c.Prediction.Source)
	}
	return nil
}

func (c *Config) usesRedisPredictions() bool {
	return c.Feed.Source != "replay" && (c.Prediction.Source == "redis" || c.Prediction.Source == "both")
}

// PollInterval returns the feed cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Feed.PollIntervalMs) * time.Millisecond
}

// StaleAfter resolves prediction_staleness_ms: unset means twice the poll
// interval, 0 means predictions never go stale.
func (c *Config) StaleAfter() time.Duration {
	if c.PredictionStalenessMs == nil {
		return 2 * c.PollInterval()
	}
	return time.Duration(*c.PredictionStalenessMs) * time.Millisecond
}

// CoreConfig builds the dashboard core configuration.
func (c *Config) CoreConfig() dashboard.CoreConfig {
	return dashboard.CoreConfig{
		Asset:          c.Asset,
		BufferCapacity: c.BufferCapacity,
		SMAPeriod:      c.SMAPeriod,
		RSIPeriod:      c.RSIPeriod,
		Range: axisrange.EstimatorConfig{
			Mode:    axisrange.Mode(c.RangeMode),
			Padding: c.PaddingFactor,
			Initial: model.DisplayRange{Low: c.Range.ManualLow, High: c.Range.ManualHigh},
			ZoomIn:  c.Range.ZoomIn,
			ZoomOut: c.Range.ZoomOut,
		},
		StaleAfter:   c.StaleAfter(),
		ChatCapacity: c.Prediction.ChatCapacity,
	}
}

// ServiceConfig builds the dashboard service configuration.
func (c *Config) ServiceConfig() dashboard.ServiceConfig {
	return dashboard.ServiceConfig{
		Core:            c.CoreConfig(),
		HistoryInterval: c.Feed.HistoryInterval,
		EventBuffer:     c.Gateway.BusBuffer,
	}
}

// PollerConfig builds the CoinCap poller configuration.
func (c *Config) PollerConfig() feed.PollerConfig {
	return feed.PollerConfig{
		Asset:      c.Asset,
		Interval:   c.PollInterval(),
		TopLimit:   c.Feed.TopLimit,
		RunOnStart: true,
	}
}

// RedisPublisherConfig builds the Redis view publisher configuration.
func (c *Config) RedisPublisherConfig() storeredis.Config {
	return storeredis.Config{
		Addr:         c.Redis.Addr,
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		KeyPrefix:    c.Redis.KeyPrefix,
		ViewTTL:      time.Duration(c.Redis.ViewTTLSec) * time.Second,
		MaxFailures:  c.Redis.MaxFailures,
		ResetTimeout: time.Duration(c.Redis.ResetTimeoutMs) * time.Millisecond,
	}
}

// applyEnv overrides file values from the environment.
func (c *Config) applyEnv() error {
	setString(&c.Asset, "ASSET")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.RangeMode, "RANGE_MODE")
	setString(&c.Feed.Source, "FEED_SOURCE")
	setString(&c.Feed.BaseURL, "COINCAP_BASE_URL")
	setString(&c.Feed.APIKey, "COINCAP_API_KEY")
	setString(&c.Feed.ReplayPath, "REPLAY_PATH")
	setString(&c.Prediction.Source, "PREDICTION_SOURCE")
	setString(&c.Prediction.WSURL, "PREDICTION_WS_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Gateway.Addr, "GATEWAY_ADDR")
	setString(&c.Metrics.Addr, "METRICS_ADDR")
	setString(&c.Alerts.WebhookURL, "ALERT_WEBHOOK_URL")

	ints := []struct {
		dst *int
		key string
	}{
		{&c.BufferCapacity, "BUFFER_CAPACITY"},
		{&c.SMAPeriod, "SMA_PERIOD"},
		{&c.RSIPeriod, "RSI_PERIOD"},
		{&c.Feed.PollIntervalMs, "POLL_INTERVAL_MS"},
	}
	for _, e := range ints {
		if err := setInt(e.dst, e.key); err != nil {
			return err
		}
	}

	if v := getEnv("PREDICTION_STALENESS_MS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PREDICTION_STALENESS_MS: %w", err)
		}
		c.PredictionStalenessMs = &n
	}
	if v := getEnv("PADDING_FACTOR", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PADDING_FACTOR: %w", err)
		}
		c.PaddingFactor = f
	}
	if v := getEnv("REDIS_ENABLED", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REDIS_ENABLED: %w", err)
		}
		c.Redis.Enabled = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := getEnv(key, ""); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := getEnv(key, "")
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
