// Package signal is the WebSocket adapter for the realtime hub: it upgrades
// connections, pumps frames, and dispatches inbound signaling messages.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/edlive/livehub/internal/config"
	"github.com/edlive/livehub/internal/core"
	"github.com/edlive/livehub/internal/domain"
	"github.com/edlive/livehub/internal/hub"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	hub     *hub.Hub
	limiter *RateLimiter

	sendBuffer   int
	readLimit    int64
	writeTimeout time.Duration
}

func NewController(h *hub.Hub, cfg *config.Config) *Controller {
	ctl := &Controller{
		hub:          h,
		sendBuffer:   cfg.SendBuffer,
		readLimit:    cfg.ReadLimit,
		writeTimeout: cfg.WriteTimeout,
	}
	if cfg.MsgRateLimit > 0 {
		ctl.limiter = NewRateLimiter(cfg.MsgRateLimit, cfg.MsgRateWindow)
	}
	// Dropped connections and staleness evictions announce device_left
	// through here, so ungraceful and explicit leaves look the same to peers.
	h.NotifyGone(ctl.deviceGone)
	return ctl
}

// connState carries the identity bound to one connection. The deviceId is
// captured at registration time; the disconnect cleanup uses it directly
// instead of searching the registry by handle.
type connState struct {
	connID   string
	deviceID domain.DeviceID
}

// wsConn adapts *websocket.Conn to core.SignalConn with a buffered,
// non-blocking send channel drained by the write pump.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Open() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleWS upgrades the request and runs the read/write pump pair for the
// lifetime of the connection.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendBuffer),
	}
	st := &connState{connID: uuid.NewString()}
	log.Info().Str("module", "signal").Str("conn", st.connID).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, st, conn)
}

func (ctl *Controller) deviceGone(dev domain.Device, sessionID domain.SessionID) {
	ctl.broadcast(sessionID, struct {
		Type     string          `json:"type"`
		DeviceID domain.DeviceID `json:"deviceId"`
		UserID   domain.UserID   `json:"userId"`
	}{"device_left", dev.ID, dev.UserID}, dev.ID)
}

func (ctl *Controller) broadcast(sessionID domain.SessionID, v any, exclude domain.DeviceID) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	ctl.hub.BroadcastToSession(sessionID, b, exclude)
}

func (ctl *Controller) sendJSON(conn core.SignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = conn.TrySend(b)
}

func (ctl *Controller) sendError(conn core.SignalConn, msg string) {
	ctl.sendJSON(conn, map[string]any{
		"type":    "error",
		"message": msg,
	})
}
