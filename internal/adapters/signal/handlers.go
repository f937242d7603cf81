package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/edlive/livehub/internal/core"
	"github.com/edlive/livehub/internal/domain"
)

// handleMessage decodes one inbound frame and dispatches it. A malformed or
// unknown message gets an error reply; the connection always stays open.
func (ctl *Controller) handleMessage(st *connState, conn core.SignalConn, data []byte) {
	if ctl.limiter != nil && !ctl.limiter.Allow(st.connID) {
		ctl.sendError(conn, "rate limit exceeded")
		return
	}

	msg, err := Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", st.connID).Msg("bad message")
		if errors.Is(err, ErrUnknownType) {
			ctl.sendError(conn, "unsupported message type")
		} else {
			ctl.sendError(conn, "invalid message")
		}
		return
	}

	switch m := msg.(type) {
	case *RegisterMsg:
		ctl.handleRegister(st, conn, m)
	case *JoinSessionMsg:
		ctl.handleJoin(m)
	case *LeaveSessionMsg:
		ctl.handleLeave(m)
	case *ScreenShareStartMsg:
		ctl.handleScreenShareStart(m)
	case *ScreenShareStopMsg:
		ctl.handleScreenShareStop(m)
	case *HeartbeatMsg:
		ctl.hub.Touch(domain.DeviceID(m.DeviceID))
	default:
		// Decode only returns the types above; keep the wire-level behavior
		// for anything added later.
		ctl.sendError(conn, "unsupported message type")
	}
}

func (ctl *Controller) handleRegister(st *connState, conn core.SignalConn, m *RegisterMsg) {
	deviceID := ctl.hub.Register(domain.Device{
		ID:     domain.DeviceID(m.DeviceID),
		UserID: domain.UserID(m.UserID),
		Info:   m.DeviceInfo,
	}, conn)
	st.deviceID = deviceID

	ctl.sendJSON(conn, struct {
		Type     string          `json:"type"`
		DeviceID domain.DeviceID `json:"deviceId"`
		Message  string          `json:"message"`
	}{"registered", deviceID, "device registered successfully"})
}

func (ctl *Controller) handleJoin(m *JoinSessionMsg) {
	sessionID := domain.SessionID(m.SessionID)
	dev, prev, ok := ctl.hub.JoinSession(domain.DeviceID(m.DeviceID), sessionID)
	if !ok {
		// Unknown device: benign race with disconnect cleanup.
		return
	}
	if prev != "" {
		ctl.broadcast(prev, struct {
			Type     string          `json:"type"`
			DeviceID domain.DeviceID `json:"deviceId"`
			UserID   domain.UserID   `json:"userId"`
		}{"device_left", dev.ID, dev.UserID}, dev.ID)
	}
	ctl.broadcast(sessionID, struct {
		Type     string          `json:"type"`
		DeviceID domain.DeviceID `json:"deviceId"`
		UserID   domain.UserID   `json:"userId"`
	}{"device_joined", dev.ID, dev.UserID}, dev.ID)
}

func (ctl *Controller) handleLeave(m *LeaveSessionMsg) {
	dev, left, ok := ctl.hub.LeaveSession(domain.DeviceID(m.DeviceID))
	if !ok {
		return
	}
	ctl.broadcast(left, struct {
		Type     string          `json:"type"`
		DeviceID domain.DeviceID `json:"deviceId"`
		UserID   domain.UserID   `json:"userId"`
	}{"device_left", dev.ID, dev.UserID}, dev.ID)
}

// Screen-share messages are pure relays: no share state is kept, a late
// joiner learns nothing until the next event.
func (ctl *Controller) handleScreenShareStart(m *ScreenShareStartMsg) {
	deviceID := domain.DeviceID(m.DeviceID)
	if _, ok := ctl.hub.Device(deviceID); !ok {
		return
	}
	ctl.broadcast(domain.SessionID(m.SessionID), struct {
		Type      string          `json:"type"`
		DeviceID  domain.DeviceID `json:"deviceId"`
		ShareData any             `json:"shareData,omitempty"`
	}{"screen_share_started", deviceID, rawOrNil(m.ShareData)}, deviceID)
}

func (ctl *Controller) handleScreenShareStop(m *ScreenShareStopMsg) {
	deviceID := domain.DeviceID(m.DeviceID)
	if _, ok := ctl.hub.Device(deviceID); !ok {
		return
	}
	ctl.broadcast(domain.SessionID(m.SessionID), struct {
		Type     string          `json:"type"`
		DeviceID domain.DeviceID `json:"deviceId"`
	}{"screen_share_stopped", deviceID}, deviceID)
}

func rawOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(raw)
}
