package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cryptodash/internal/model"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WSPredictions receives predictions from a websocket push channel and
// reconnects after a delay whenever the connection drops. It implements
// model.PredictionSource.
type WSPredictions struct {
	url            string
	header         http.Header
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	log            *slog.Logger
	now            func() time.Time

	// OnConnect is called with true after each dial and false after each drop.
	OnConnect func(connected bool)
	// OnReconnect is called before every redial.
	OnReconnect func()
}

// NewWSPredictions creates a websocket prediction source.
func NewWSPredictions(url string, header http.Header, reconnectDelay time.Duration) *WSPredictions {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &WSPredictions{
		url:            url,
		header:         header,
		reconnectDelay: reconnectDelay,
		dialer:         websocket.DefaultDialer,
		log:            slog.Default().With("component", "ws-predictions"),
		now:            time.Now,
	}
}

// Start connects and forwards predictions until ctx is cancelled.
func (w *WSPredictions) Start(ctx context.Context, out chan<- model.PredictionUpdated) error {
	first := true
	for {
		if !first {
			if w.OnReconnect != nil {
				w.OnReconnect()
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.reconnectDelay):
			}
		}
		first = false

		conn, _, err := w.dialer.DialContext(ctx, w.url, w.header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("dial failed", "url", w.url, "error", err)
			continue
		}
		w.log.Info("connected", "url", w.url)
		w.setConnected(true)

		err = w.readLoop(ctx, conn, out)
		w.setConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		w.log.Warn("connection lost", "error", err)
	}
}

// readLoop reads frames until the connection fails or ctx is cancelled.
// The connection is closed when it returns.
func (w *WSPredictions) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- model.PredictionUpdated) error {
	done := make(chan struct{})
	defer close(done)

	// Closing the connection unblocks ReadMessage on shutdown.
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		ev, err := DecodePrediction(data, "websocket", w.now())
		if err != nil {
			w.log.Debug("ignoring frame", "error", err)
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *WSPredictions) setConnected(v bool) {
	if w.OnConnect != nil {
		w.OnConnect(v)
	}
}
