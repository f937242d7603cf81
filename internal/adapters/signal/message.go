package signal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound wire messages. Raw frames are decoded once here into a typed
// message; the dispatch switch in handlers.go is exhaustive over these types.

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

type Message interface{ inbound() }

type RegisterMsg struct {
	DeviceID   string          `json:"deviceId"`
	UserID     string          `json:"userId"`
	DeviceInfo json.RawMessage `json:"deviceInfo"`
}

type JoinSessionMsg struct {
	DeviceID  string `json:"deviceId"`
	SessionID string `json:"sessionId"`
}

type LeaveSessionMsg struct {
	DeviceID  string `json:"deviceId"`
	SessionID string `json:"sessionId"`
}

type ScreenShareStartMsg struct {
	DeviceID  string          `json:"deviceId"`
	SessionID string          `json:"sessionId"`
	ShareData json.RawMessage `json:"shareData"`
}

type ScreenShareStopMsg struct {
	DeviceID  string `json:"deviceId"`
	SessionID string `json:"sessionId"`
}

type HeartbeatMsg struct {
	DeviceID string `json:"deviceId"`
}

func (*RegisterMsg) inbound()         {}
func (*JoinSessionMsg) inbound()      {}
func (*LeaveSessionMsg) inbound()     {}
func (*ScreenShareStartMsg) inbound() {}
func (*ScreenShareStopMsg) inbound()  {}
func (*HeartbeatMsg) inbound()        {}

// Decode parses a raw frame into a typed message, validating the fields each
// type requires. Unknown types decode to ErrUnknownType so the caller can
// reply with an error while keeping the connection open.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case "register":
		var m RegisterMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.UserID == "" {
			return nil, fmt.Errorf("%w: register requires userId", ErrMalformed)
		}
		return &m, nil
	case "join_session":
		var m JoinSessionMsg
		if err := decodeSessionOp(data, &m, m.check); err != nil {
			return nil, err
		}
		return &m, nil
	case "leave_session":
		var m LeaveSessionMsg
		if err := decodeSessionOp(data, &m, m.check); err != nil {
			return nil, err
		}
		return &m, nil
	case "screen_share_start":
		var m ScreenShareStartMsg
		if err := decodeSessionOp(data, &m, m.check); err != nil {
			return nil, err
		}
		return &m, nil
	case "screen_share_stop":
		var m ScreenShareStopMsg
		if err := decodeSessionOp(data, &m, m.check); err != nil {
			return nil, err
		}
		return &m, nil
	case "heartbeat":
		var m HeartbeatMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.DeviceID == "" {
			return nil, fmt.Errorf("%w: heartbeat requires deviceId", ErrMalformed)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeSessionOp(data []byte, dst any, check func() error) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return check()
}

func (m *JoinSessionMsg) check() error      { return requireIDs(m.DeviceID, m.SessionID) }
func (m *LeaveSessionMsg) check() error     { return requireIDs(m.DeviceID, m.SessionID) }
func (m *ScreenShareStartMsg) check() error { return requireIDs(m.DeviceID, m.SessionID) }
func (m *ScreenShareStopMsg) check() error  { return requireIDs(m.DeviceID, m.SessionID) }

func requireIDs(deviceID, sessionID string) error {
	if deviceID == "" || sessionID == "" {
		return fmt.Errorf("%w: deviceId and sessionId are required", ErrMalformed)
	}
	return nil
}
