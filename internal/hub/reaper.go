package hub

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/edlive/livehub/internal/domain"
)

// startReaper wires a TTL cache as the heartbeat staleness sweep. Register
// seeds an entry, Touch extends it, Unregister deletes it; expiry runs the
// same cleanup path as a transport close.
func (h *Hub) startReaper(ttl time.Duration) {
	c := ttlcache.New[domain.DeviceID, struct{}](
		ttlcache.WithTTL[domain.DeviceID, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[domain.DeviceID, struct{}](),
	)
	c.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[domain.DeviceID, struct{}]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		h.expire(item.Key())
	})
	h.stale = c
	go c.Start()
}

// expire evicts a device that missed its heartbeats: registry delete with
// membership cascade, then transport close. The readPump cleanup that follows
// the close finds the device already gone and no-ops.
func (h *Hub) expire(deviceID domain.DeviceID) {
	h.mu.RLock()
	e, ok := h.devices[deviceID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	log.Warn().Str("module", "hub").Str("device", string(deviceID)).Msg("evicting stale device")
	h.unregister(deviceID, false)
	if e.conn != nil {
		e.conn.Close()
	}
}

// Stop halts the staleness sweep. Safe to call when the reaper was never
// enabled.
func (h *Hub) Stop() {
	if h.stale != nil {
		h.stale.Stop()
	}
}
