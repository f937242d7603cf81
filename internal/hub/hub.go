// Package hub owns the connection registry and the session membership index.
// It is the only shared mutable state in the realtime layer.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/edlive/livehub/internal/core"
	"github.com/edlive/livehub/internal/domain"
	"github.com/edlive/livehub/internal/metrics"
)

type deviceEntry struct {
	dev  domain.Device
	conn core.SignalConn
}

// GoneFunc is invoked after a device has been removed from the registry while
// it was still attached to a session (transport close or staleness eviction).
// It runs outside the hub lock.
type GoneFunc func(dev domain.Device, sessionID domain.SessionID)

// Hub pairs the device registry with the sessionID -> deviceID-set membership
// index. A single mutex guards both maps so that paired mutations stay atomic:
// no deviceID may appear in a membership set without a matching registry entry.
type Hub struct {
	mu       sync.RWMutex
	devices  map[domain.DeviceID]*deviceEntry
	sessions map[domain.SessionID]map[domain.DeviceID]struct{}

	stale   *ttlcache.Cache[domain.DeviceID, struct{}]
	gone    GoneFunc
	collect *metrics.Collector
}

type Option func(*Hub)

// WithHeartbeatTTL enables the staleness reaper: a device that sends no
// heartbeat for ttl is evicted through the same path as a transport close.
func WithHeartbeatTTL(ttl time.Duration) Option {
	return func(h *Hub) {
		if ttl > 0 {
			h.startReaper(ttl)
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(h *Hub) { h.collect = c }
}

func New(opts ...Option) *Hub {
	h := &Hub{
		devices:  make(map[domain.DeviceID]*deviceEntry),
		sessions: make(map[domain.SessionID]map[domain.DeviceID]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NotifyGone installs the callback fired when a device vanishes ungracefully.
// The signal adapter uses it to broadcast device_left for dropped connections.
func (h *Hub) NotifyGone(fn GoneFunc) {
	h.gone = fn
}

// Register stores a device keyed by its id, generating one if the caller did
// not supply it. Re-registering an existing id replaces the entry; if the old
// entry was attached to a session, that membership is dropped first so the
// index never points at a stale registry entry.
func (h *Hub) Register(dev domain.Device, conn core.SignalConn) domain.DeviceID {
	if dev.ID == "" {
		dev.ID = domain.NewDeviceID()
	}
	dev.SessionID = ""
	dev.LastHeartbeat = time.Now()

	h.mu.Lock()
	if old, ok := h.devices[dev.ID]; ok && old.dev.SessionID != "" {
		h.removeMembershipLocked(dev.ID, old.dev.SessionID)
	}
	h.devices[dev.ID] = &deviceEntry{dev: dev, conn: conn}
	h.mu.Unlock()

	if h.stale != nil {
		h.stale.Set(dev.ID, struct{}{}, ttlcache.DefaultTTL)
	}
	h.updateGauges()
	log.Info().Str("module", "hub").Str("device", string(dev.ID)).Str("user", string(dev.UserID)).Msg("device registered")
	return dev.ID
}

// Unregister removes a device and cascades the membership cleanup. The gone
// callback fires when the device was still attached to a session.
func (h *Hub) Unregister(deviceID domain.DeviceID) bool {
	_, _, ok := h.unregister(deviceID, true)
	return ok
}

func (h *Hub) unregister(deviceID domain.DeviceID, dropStale bool) (domain.Device, domain.SessionID, bool) {
	h.mu.Lock()
	e, ok := h.devices[deviceID]
	if !ok {
		h.mu.Unlock()
		return domain.Device{}, "", false
	}
	sessionID := e.dev.SessionID
	if sessionID != "" {
		h.removeMembershipLocked(deviceID, sessionID)
	}
	delete(h.devices, deviceID)
	dev := e.dev
	h.mu.Unlock()

	// The reaper's eviction callback must not touch the cache it runs inside.
	if dropStale && h.stale != nil {
		h.stale.Delete(deviceID)
	}
	h.updateGauges()
	log.Info().Str("module", "hub").Str("device", string(deviceID)).Str("session", string(sessionID)).Msg("device unregistered")
	if sessionID != "" && h.gone != nil {
		h.gone(dev, sessionID)
	}
	return dev, sessionID, true
}

// Touch refreshes a device's heartbeat. A no-op for unknown devices: a trailing
// heartbeat racing the disconnect cleanup is benign.
func (h *Hub) Touch(deviceID domain.DeviceID) bool {
	h.mu.Lock()
	e, ok := h.devices[deviceID]
	if ok {
		e.dev.LastHeartbeat = time.Now()
	}
	h.mu.Unlock()
	if ok && h.stale != nil {
		h.stale.Touch(deviceID)
	}
	return ok
}

// JoinSession attaches a device to a session. Unknown devices are silently
// ignored. A device already attached to a different session leaves it first;
// the previous session id is returned so the caller can announce the implicit
// leave there.
func (h *Hub) JoinSession(deviceID domain.DeviceID, sessionID domain.SessionID) (dev domain.Device, prev domain.SessionID, ok bool) {
	h.mu.Lock()
	e, found := h.devices[deviceID]
	if !found {
		h.mu.Unlock()
		return domain.Device{}, "", false
	}
	if e.dev.SessionID == sessionID {
		dev = e.dev
		h.mu.Unlock()
		return dev, "", true
	}
	if e.dev.SessionID != "" {
		prev = e.dev.SessionID
		h.removeMembershipLocked(deviceID, prev)
	}
	e.dev.SessionID = sessionID
	set, found := h.sessions[sessionID]
	if !found {
		set = make(map[domain.DeviceID]struct{})
		h.sessions[sessionID] = set
	}
	set[deviceID] = struct{}{}
	dev = e.dev
	h.mu.Unlock()

	h.updateGauges()
	log.Info().Str("module", "hub").Str("device", string(deviceID)).Str("session", string(sessionID)).Msg("device joined session")
	return dev, prev, true
}

// LeaveSession detaches a device from its current session. Returns the session
// that was left. Unknown or unattached devices report ok=false.
func (h *Hub) LeaveSession(deviceID domain.DeviceID) (dev domain.Device, left domain.SessionID, ok bool) {
	h.mu.Lock()
	e, found := h.devices[deviceID]
	if !found || e.dev.SessionID == "" {
		h.mu.Unlock()
		return domain.Device{}, "", false
	}
	left = e.dev.SessionID
	h.removeMembershipLocked(deviceID, left)
	e.dev.SessionID = ""
	dev = e.dev
	h.mu.Unlock()

	h.updateGauges()
	log.Info().Str("module", "hub").Str("device", string(deviceID)).Str("session", string(left)).Msg("device left session")
	return dev, left, true
}

// removeMembershipLocked deletes a device from a session's set and drops the
// set entirely once empty. Caller holds h.mu.
func (h *Hub) removeMembershipLocked(deviceID domain.DeviceID, sessionID domain.SessionID) {
	set, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(set, deviceID)
	if len(set) == 0 {
		delete(h.sessions, sessionID)
	}
}

// Device returns a snapshot of a registered device.
func (h *Hub) Device(deviceID domain.DeviceID) (domain.Device, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if e, ok := h.devices[deviceID]; ok {
		return e.dev, true
	}
	return domain.Device{}, false
}

// BroadcastToSession delivers a frame to every open connection attached to the
// session, excluding excludeDeviceID. Recipients are snapshotted under the
// read lock, then sent to outside it; a closed or backpressured connection is
// skipped, never aborting the fan-out. O(session size).
func (h *Hub) BroadcastToSession(sessionID domain.SessionID, frame core.Frame, excludeDeviceID domain.DeviceID) core.PublishResult {
	h.mu.RLock()
	conns := make([]core.SignalConn, 0, len(h.sessions[sessionID]))
	for id := range h.sessions[sessionID] {
		if id == excludeDeviceID {
			continue
		}
		if e, ok := h.devices[id]; ok {
			conns = append(conns, e.conn)
		}
	}
	h.mu.RUnlock()

	var res core.PublishResult
	for _, c := range conns {
		if c == nil || !c.Open() {
			res.Dropped++
			continue
		}
		if err := c.TrySend(frame); err != nil {
			res.Dropped++
			continue
		}
		res.Sent++
	}
	h.collect.ObserveBroadcast(res)
	log.Debug().Str("module", "hub").Str("session", string(sessionID)).Int("sent", res.Sent).Int("dropped", res.Dropped).Msg("broadcast")
	return res
}

// ConnectedCount reports the live device count for a session.
func (h *Hub) ConnectedCount(sessionID domain.SessionID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// DeviceSummary is the read-only registry view returned to operators.
type DeviceSummary struct {
	DeviceID      domain.DeviceID  `json:"deviceId"`
	UserID        domain.UserID    `json:"userId"`
	SessionID     domain.SessionID `json:"sessionId,omitempty"`
	LastHeartbeat time.Time        `json:"lastHeartbeat"`
	DeviceInfo    json.RawMessage  `json:"deviceInfo,omitempty"`
}

// Devices dumps the full registry, unscoped.
func (h *Hub) Devices() []DeviceSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]DeviceSummary, 0, len(h.devices))
	for _, e := range h.devices {
		out = append(out, DeviceSummary{
			DeviceID:      e.dev.ID,
			UserID:        e.dev.UserID,
			SessionID:     e.dev.SessionID,
			LastHeartbeat: e.dev.LastHeartbeat,
			DeviceInfo:    e.dev.Info,
		})
	}
	return out
}

func (h *Hub) updateGauges() {
	if h.collect == nil {
		return
	}
	h.mu.RLock()
	devices, sessions := len(h.devices), len(h.sessions)
	h.mu.RUnlock()
	h.collect.SetConnectedDevices(devices)
	h.collect.SetLiveSessions(sessions)
}
