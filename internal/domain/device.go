// Package domain contains entities without logic beyond their own invariants.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type (
	DeviceID  string
	UserID    string
	SessionID string
)

// Device is one realtime transport connection instance, not necessarily one
// physical machine. It lives only in memory, inside the hub registry.
type Device struct {
	ID        DeviceID
	UserID    UserID
	SessionID SessionID // empty until the device joins a session

	// Info is an opaque metadata blob supplied at registration (client
	// platform, app version, ...). Passed through, never interpreted.
	Info json.RawMessage

	LastHeartbeat time.Time
}

// NewDeviceID generates an identifier for devices that register without one.
func NewDeviceID() DeviceID {
	return DeviceID(uuid.NewString())
}
