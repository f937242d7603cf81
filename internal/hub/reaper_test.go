package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edlive/livehub/internal/domain"
)

func TestReaperEvictsSilentDevice(t *testing.T) {
	h := New(WithHeartbeatTTL(50 * time.Millisecond))
	defer h.Stop()

	var goneSession domain.SessionID
	done := make(chan struct{})
	h.NotifyGone(func(_ domain.Device, sid domain.SessionID) {
		goneSession = sid
		close(done)
	})

	conn := newFakeConn()
	id := h.Register(domain.Device{UserID: "u1"}, conn)
	h.JoinSession(id, "s1")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stale device was never evicted")
	}

	assert.Equal(t, domain.SessionID("s1"), goneSession)
	assert.False(t, conn.Open(), "eviction must close the transport")
	_, ok := h.Device(id)
	assert.False(t, ok)
	assert.Zero(t, h.ConnectedCount("s1"))
	checkConsistency(t, h)
}

func TestHeartbeatKeepsDeviceAlive(t *testing.T) {
	h := New(WithHeartbeatTTL(200 * time.Millisecond))
	defer h.Stop()

	id := h.Register(domain.Device{UserID: "u1"}, newFakeConn())

	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.True(t, h.Touch(id))
		time.Sleep(50 * time.Millisecond)
	}

	_, ok := h.Device(id)
	assert.True(t, ok, "heartbeating device must not be evicted")
}

func TestUnregisterBeforeExpiryCancelsEviction(t *testing.T) {
	h := New(WithHeartbeatTTL(50 * time.Millisecond))
	defer h.Stop()

	evicted := false
	h.NotifyGone(func(domain.Device, domain.SessionID) { evicted = true })

	id := h.Register(domain.Device{UserID: "u1"}, newFakeConn())
	require.True(t, h.Unregister(id))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, evicted)
}
