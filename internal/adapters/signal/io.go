package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, st *connState, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", st.connID).Str("device", string(st.deviceID)).Msg("readPump closing")
		cancel()
		c.Close()
		if ctl.limiter != nil {
			ctl.limiter.Forget(st.connID)
		}
		// Cascading cleanup: registry delete plus membership removal. The
		// device_left broadcast for the session the device was attached to
		// happens via the hub's gone callback.
		if st.deviceID != "" {
			ctl.hub.Unregister(st.deviceID)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("conn", st.connID).Msg("readPump read error")
				return
			}
			ctl.handleMessage(st, c, data)
		}
	}
}
