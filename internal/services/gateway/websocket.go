package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

const (
	wsReadLimit    = 64 << 10
	wsDefaultWrite = 2 * time.Second
)

// wsConn adapts a websocket connection to coordinator.Conn. Writes are
// serialised; each one is bounded by the caller's deadline.
type wsConn struct {
	id   string
	conn *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{id: uuid.NewString(), conn: conn}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(wsDefaultWrite)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(ev)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// clientFrame is what a live client may send.
type clientFrame struct {
	Type   model.EventType `json:"type"`
	Device string          `json:"device"`
	Room   string          `json:"room"`
	Value  any             `json:"value"`
}

// handleWS upgrades the request, registers the subscriber and routes its
// control frames. Errors are reported to the sending client only.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warnf("gateway: websocket upgrade: %v", err)
		return
	}
	raw.SetReadLimit(wsReadLimit)
	conn := newWSConn(raw)

	hub := g.coord.Hub()
	if err := hub.Register(r.Context(), conn); err != nil {
		g.log.Warnf("gateway: %v", err)
		return
	}
	defer func() {
		hub.Unregister(conn)
		_ = conn.Close()
	}()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Infof("gateway: subscriber %s read: %v", conn.ID(), err)
			}
			return
		}
		g.handleFrame(r.Context(), conn, data)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, conn *wsConn, data []byte) {
	reply := func(msg string) {
		sendCtx, cancel := context.WithTimeout(ctx, wsDefaultWrite)
		defer cancel()
		if err := conn.Send(sendCtx, model.ErrorEvent(msg)); err != nil {
			g.log.Warnf("gateway: reply to %s: %v", conn.ID(), err)
		}
	}

	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		reply("malformed message: " + err.Error())
		return
	}
	if frame.Type != model.EventControl {
		reply("unsupported message type: " + string(frame.Type))
		return
	}
	device := frame.Device
	if device == string(model.KindLED) {
		device = "led:" + frame.Room
	}
	if frame.Value == nil {
		reply("control: value is required")
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()
	if _, err := g.coord.Dispatch(cmdCtx, device, frame.Value); err != nil {
		reply(err.Error())
	}
}
