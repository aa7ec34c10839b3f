package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cryptodash/internal/axisrange"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Asset != "bitcoin" || c.BufferCapacity != 50 || c.SMAPeriod != 7 || c.RSIPeriod != 14 {
		t.Fatalf("unexpected core defaults %+v", c)
	}
	if c.RangeMode != "auto" || c.PaddingFactor != 0.0001 {
		t.Fatalf("unexpected range defaults mode=%s padding=%v", c.RangeMode, c.PaddingFactor)
	}
	if c.Feed.PollIntervalMs != 10000 || c.Gateway.Addr != ":8080" || c.Metrics.Addr != ":9090" {
		t.Fatalf("unexpected ambient defaults %+v", c)
	}
	if c.Range.ZoomIn != 0.8 || c.Range.ZoomOut != 1.2 || c.Range.ManualHigh != 100000 {
		t.Fatalf("unexpected zoom defaults %+v", c.Range)
	}
	if c.Alerts.WebhookURL != "" || c.Alerts.FailureThreshold != 3 {
		t.Fatalf("unexpected alert defaults %+v", c.Alerts)
	}
}

func TestLoad_RepoConfig(t *testing.T) {
	if _, err := Load(filepath.Join("..", "..", "configs", "dashboard.yaml")); err != nil {
		t.Fatalf("shipped config does not load: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
asset: ethereum
buffer_capacity: 20
padding_factor: 0
range_mode: manual
prediction_staleness_ms: 0
feed:
  poll_interval_ms: 5000
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Asset != "ethereum" || c.BufferCapacity != 20 || c.RangeMode != "manual" {
		t.Fatalf("file values not applied %+v", c)
	}
	if c.PaddingFactor != 0 {
		t.Fatalf("explicit zero padding replaced by default: %v", c.PaddingFactor)
	}
	if c.SMAPeriod != 7 {
		t.Fatalf("unset key lost its default: %d", c.SMAPeriod)
	}
	if c.StaleAfter() != 0 {
		t.Fatalf("explicit zero staleness = %v", c.StaleAfter())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "asset: ethereum\nbuffer_capacity: 20\n")
	t.Setenv("ASSET", "solana")
	t.Setenv("BUFFER_CAPACITY", "30")
	t.Setenv("GATEWAY_ADDR", ":9999")
	t.Setenv("PREDICTION_STALENESS_MS", "1500")
	t.Setenv("REDIS_ENABLED", "true")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Asset != "solana" || c.BufferCapacity != 30 || c.Gateway.Addr != ":9999" || !c.Redis.Enabled {
		t.Fatalf("env overrides not applied %+v", c)
	}
	if c.StaleAfter() != 1500*time.Millisecond {
		t.Fatalf("StaleAfter = %v", c.StaleAfter())
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("SMA_PERIOD", "seven")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "SMA_PERIOD") {
		t.Fatalf("expected SMA_PERIOD error, got %v", err)
	}
}

func TestStaleAfter_DefaultsToTwicePoll(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.StaleAfter() != 20*time.Second {
		t.Fatalf("StaleAfter = %v, want 20s", c.StaleAfter())
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero capacity", "buffer_capacity: -1", "BufferCapacity"},
		{"bad mode", "range_mode: fit", "RangeMode"},
		{"padding too large", "padding_factor: 1", "PaddingFactor"},
		{"negative rsi", "rsi_period: -3", "RSIPeriod"},
		{"negative staleness", "prediction_staleness_ms: -5", "PredictionStalenessMs"},
		{"bad log level", "log_level: loud", "LogLevel"},
		{"bad prediction source", "prediction:\n  source: carrier-pigeon", "Source"},
		{"replay without path", "feed:\n  source: replay", "ReplayPath"},
		{"empty manual range", "range_mode: manual\nrange:\n  manual_low: 10\n  manual_high: 10", "manual_high"},
		{"unknown history interval", "feed:\n  history_interval: m3", "history_interval"},
		{"redis predictions without redis", "prediction:\n  source: redis", "redis.enabled"},
		{"bad webhook url", "alerts:\n  webhook_url: not-a-url", "WebhookURL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "asset: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCoreConfig(t *testing.T) {
	c, err := Load(writeConfig(t, "range_mode: manual\nrange:\n  manual_low: 100\n  manual_high: 200\nprediction:\n  chat_capacity: 3"))
	if err != nil {
		t.Fatal(err)
	}
	cc := c.CoreConfig()
	if cc.Range.Mode != axisrange.ModeManual || cc.Range.Initial.Low != 100 || cc.Range.Initial.High != 200 {
		t.Fatalf("range config = %+v", cc.Range)
	}
	if cc.ChatCapacity != 3 || cc.BufferCapacity != 50 || cc.StaleAfter != 20*time.Second {
		t.Fatalf("core config = %+v", cc)
	}
	if err := cc.Validate(); err != nil {
		t.Fatalf("derived core config invalid: %v", err)
	}

	sc := c.ServiceConfig()
	if sc.EventBuffer != 64 || sc.Core.Asset != "bitcoin" {
		t.Fatalf("service config = %+v", sc)
	}
	pc := c.PollerConfig()
	if pc.Interval != 10*time.Second || pc.TopLimit != 10 || !pc.RunOnStart {
		t.Fatalf("poller config = %+v", pc)
	}
	rc := c.RedisPublisherConfig()
	if rc.KeyPrefix != "dash" || rc.MaxFailures != 5 || rc.ResetTimeout != 10*time.Second {
		t.Fatalf("redis config = %+v", rc)
	}
}
