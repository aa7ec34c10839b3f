// Package notification delivers operational alerts (feed outages, Redis
// breaker trips) to external channels.
package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Asset   string     `json:"asset,omitempty"`
	TS      time.Time  `json:"ts"`
}

// Notifier delivers alerts to one backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger.With("component", "alerts")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	n.log.Log(ctx, level, alert.Title, "message", alert.Message, "asset", alert.Asset)
	return nil
}

// Dispatcher queues alerts and delivers them to every notifier from one
// goroutine, so callers on hot paths never block on a slow backend. Repeats
// of the same title within Cooldown are suppressed.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan Alert
	log       *slog.Logger

	Cooldown time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time

	// OnDrop is called when the queue is full.
	OnDrop func(Alert)
}

// NewDispatcher creates a dispatcher with room for queueSize pending alerts.
func NewDispatcher(queueSize int, logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan Alert, queueSize),
		log:       logger.With("component", "alerts"),
		lastSent:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// Notify enqueues an alert. Returns false when it was suppressed or dropped.
func (d *Dispatcher) Notify(a Alert) bool {
	now := d.now()
	if a.TS.IsZero() {
		a.TS = now
	}

	d.mu.Lock()
	if last, ok := d.lastSent[a.Title]; ok && d.Cooldown > 0 && now.Sub(last) < d.Cooldown {
		d.mu.Unlock()
		return false
	}
	d.lastSent[a.Title] = now
	d.mu.Unlock()

	select {
	case d.queue <- a:
		return true
	default:
		if d.OnDrop != nil {
			d.OnDrop(a)
		}
		return false
	}
}

// Run delivers queued alerts until ctx is cancelled. Alerts still queued at
// that point are discarded.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			for _, n := range d.notifiers {
				sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if err := n.Send(sendCtx, a); err != nil {
					d.log.Warn("alert delivery failed", "title", a.Title, "error", err)
				}
				cancel()
			}
		}
	}
}

// Streak counts consecutive failures and reports when a threshold is
// crossed and when the first success follows. Not safe for concurrent use.
type Streak struct {
	Threshold int
	failures  int
	tripped   bool
}

// Record adds one outcome. tripped is true on the failure that reaches the
// threshold; recovered is true on the first success after that.
func (s *Streak) Record(err error) (tripped, recovered bool) {
	if err == nil {
		recovered = s.tripped
		s.failures, s.tripped = 0, false
		return false, recovered
	}
	s.failures++
	if !s.tripped && s.failures >= max(s.Threshold, 1) {
		s.tripped = true
		return true, false
	}
	return false, false
}

// Failures returns the current consecutive failure count.
func (s *Streak) Failures() int { return s.failures }
