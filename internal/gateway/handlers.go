package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"cryptodash/internal/axisrange"
	"cryptodash/internal/feed"
	"cryptodash/internal/model"
)

const historyTimeout = 15 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers the WebSocket endpoint and REST API on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, processStart time.Time) {
	ctl := hub.ctl

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		lastSeq, _ := strconv.ParseInt(r.URL.Query().Get("last_seq"), 10, 64)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("ws upgrade failed", "error", err)
			return
		}
		hub.Register(conn, lastSeq)
	})

	mux.HandleFunc("/api/view", get(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctl.Latest())
	}))

	mux.HandleFunc("/api/series", get(func(w http.ResponseWriter, r *http.Request) {
		v := ctl.Latest()
		points := v.Series
		if points == nil {
			points = []model.DisplayPoint{}
		}
		writeJSON(w, http.StatusOK, SeriesResponse{Session: v.Session, Asset: v.Asset, Seq: v.Seq, Points: points})
	}))

	mux.HandleFunc("/api/range", get(func(w http.ResponseWriter, r *http.Request) {
		v := ctl.Latest()
		if v.Range == nil {
			writeJSON(w, http.StatusOK, rangeResponse(model.DisplayRange{}, false, v.RangeMode))
			return
		}
		writeJSON(w, http.StatusOK, rangeResponse(*v.Range, true, v.RangeMode))
	}))

	mux.HandleFunc("/api/predictions", get(func(w http.ResponseWriter, r *http.Request) {
		v := ctl.Latest()
		chat := v.Chat
		if chat == nil {
			chat = []model.ChatPrediction{}
		}
		writeJSON(w, http.StatusOK, PredictionsResponse{Prediction: v.Prediction, Chat: chat})
	}))

	mux.HandleFunc("/api/market", get(func(w http.ResponseWriter, r *http.Request) {
		v := ctl.Latest()
		top := v.Top
		if top == nil {
			top = []model.MarketSnapshot{}
		}
		writeJSON(w, http.StatusOK, MarketResponse{Asset: v.Market, Top: top})
	}))

	mux.HandleFunc("/api/zoom", post(func(w http.ResponseWriter, r *http.Request) {
		var req ZoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		zoomReply(w, r, hub, func(ctx context.Context) (model.DisplayRange, error) {
			return ctl.Zoom(ctx, req.Factor)
		})
	}))
	mux.HandleFunc("/api/zoom/in", post(func(w http.ResponseWriter, r *http.Request) {
		zoomReply(w, r, hub, ctl.ZoomIn)
	}))
	mux.HandleFunc("/api/zoom/out", post(func(w http.ResponseWriter, r *http.Request) {
		zoomReply(w, r, hub, ctl.ZoomOut)
	}))
	mux.HandleFunc("/api/zoom/reset", post(func(w http.ResponseWriter, r *http.Request) {
		zoomReply(w, r, hub, ctl.ResetZoom)
	}))

	// Gap backfill for clients that missed views: /api/missed?from=N&to=M
	mux.HandleFunc("/api/missed", get(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
		if err1 != nil || err2 != nil || from > to {
			writeError(w, http.StatusBadRequest, "from and to must be integers with from <= to")
			return
		}
		msgs := hub.Missed(from, to)
		out := make([]json.RawMessage, len(msgs))
		for i, m := range msgs {
			out[i] = m
		}
		writeJSON(w, http.StatusOK, out)
	}))

	mux.HandleFunc("/api/stats", get(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.Stats(processStart))
	}))
}

// HistorySource serves past prices for a timeframe.
type HistorySource interface {
	History(ctx context.Context, id, interval string) ([]model.PriceObserved, error)
}

// RegisterHistoryRoute registers GET /api/history?interval=m1|m15|h1|d1 for
// the timeframe picker. The result is returned as-is; the live window is
// not reseeded. An empty interval uses defaultInterval.
func RegisterHistoryRoute(mux *http.ServeMux, src HistorySource, asset, defaultInterval string, logger *slog.Logger) {
	log := logger.With("component", "gateway")

	mux.HandleFunc("/api/history", get(func(w http.ResponseWriter, r *http.Request) {
		interval := r.URL.Query().Get("interval")
		if interval == "" {
			interval = defaultInterval
		}
		ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
		defer cancel()

		hist, err := src.History(ctx, asset, interval)
		switch {
		case errors.Is(err, feed.ErrUnknownInterval):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			log.Warn("history request failed", "interval", interval, "error", err)
			writeError(w, http.StatusBadGateway, "history unavailable")
			return
		}

		points := make([]HistoryPoint, len(hist))
		for i, h := range hist {
			points[i] = HistoryPoint{TS: h.TS, PriceUsd: h.PriceUsd}
		}
		writeJSON(w, http.StatusOK, HistoryResponse{Asset: asset, Interval: interval, Points: points})
	}))
}

func zoomReply(w http.ResponseWriter, r *http.Request, hub *Hub, zoom func(context.Context) (model.DisplayRange, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	rg, err := zoom(ctx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rangeResponse(rg, true, hub.ctl.Latest().RangeMode))
	case errors.Is(err, axisrange.ErrEmptySeries):
		// Recorded; applies once data arrives.
		writeJSON(w, http.StatusAccepted, rangeResponse(rg, false, hub.ctl.Latest().RangeMode))
	case errors.Is(err, axisrange.ErrInvalidZoom):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		hub.log.Warn("zoom request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func get(h http.HandlerFunc) http.HandlerFunc  { return allow(http.MethodGet, h) }
func post(h http.HandlerFunc) http.HandlerFunc { return allow(http.MethodPost, h) }

func allow(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
