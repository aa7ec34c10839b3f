package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"cryptodash/internal/axisrange"
	"cryptodash/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1024
	commandTimeout = 5 * time.Second
	sendBuffer     = 256
)

// Client is one WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// command is a client-to-server message.
//
//	{"type":"zoom","factor":0.5,"req_id":"1"}
//	{"type":"zoom_in"} {"type":"zoom_out"} {"type":"zoom_reset"}
//	{"ping":1712345678901}
type command struct {
	Type   string  `json:"type"`
	Factor float64 `json:"factor"`
	ReqID  string  `json:"req_id,omitempty"`
	Ping   int64   `json:"ping,omitempty"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{conn: conn, send: make(chan []byte, sendBuffer), hub: h}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			c.reply(map[string]any{"type": "error", "error": "invalid JSON"})
			continue
		}
		c.handle(cmd)
	}
}

func (c *Client) handle(cmd command) {
	if cmd.Type == "" && cmd.Ping > 0 {
		c.reply(map[string]any{
			"type":      "pong",
			"ping":      cmd.Ping,
			"server_ts": time.Now().UnixMilli(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var (
		r   model.DisplayRange
		err error
	)
	switch cmd.Type {
	case "zoom":
		r, err = c.hub.ctl.Zoom(ctx, cmd.Factor)
	case "zoom_in":
		r, err = c.hub.ctl.ZoomIn(ctx)
	case "zoom_out":
		r, err = c.hub.ctl.ZoomOut(ctx)
	case "zoom_reset":
		r, err = c.hub.ctl.ResetZoom(ctx)
	default:
		c.reply(map[string]any{"type": "error", "req_id": cmd.ReqID, "error": "unknown command " + cmd.Type})
		return
	}

	if err != nil && !errors.Is(err, axisrange.ErrEmptySeries) {
		c.hub.log.Warn("ws zoom command failed", "type", cmd.Type, "error", err)
		c.reply(map[string]any{"type": "error", "req_id": cmd.ReqID, "error": err.Error()})
		return
	}
	resp := rangeResponse(r, err == nil, c.hub.ctl.Latest().RangeMode)
	c.reply(map[string]any{"type": "range", "req_id": cmd.ReqID, "data": resp})
}

// reply queues a direct response. Only readPump calls it, so send is
// still open.
func (c *Client) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
