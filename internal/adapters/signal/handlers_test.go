package signal

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edlive/livehub/internal/config"
	"github.com/edlive/livehub/internal/core"
	"github.com/edlive/livehub/internal/domain"
	"github.com/edlive/livehub/internal/hub"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	open   bool
}

func newFakeConn() *fakeConn { return &fakeConn{open: true} }

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return errors.New("connection closed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

// events decodes every frame the connection received.
func (c *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) lastEvent(t *testing.T) map[string]any {
	t.Helper()
	evts := c.events(t)
	require.NotEmpty(t, evts)
	return evts[len(evts)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		SendBuffer:   8,
		WriteTimeout: time.Second,
	}
}

func newTestController(cfg *config.Config) (*Controller, *hub.Hub) {
	h := hub.New()
	return NewController(h, cfg), h
}

// registerDevice drives a register message through the dispatcher and returns
// the assigned device id.
func registerDevice(t *testing.T, ctl *Controller, userID string) (*connState, *fakeConn, domain.DeviceID) {
	t.Helper()
	st := &connState{connID: "conn-" + userID}
	conn := newFakeConn()
	ctl.handleMessage(st, conn, []byte(`{"type":"register","userId":"`+userID+`"}`))

	reply := conn.lastEvent(t)
	require.Equal(t, "registered", reply["type"])
	deviceID, _ := reply["deviceId"].(string)
	require.NotEmpty(t, deviceID)
	require.Equal(t, domain.DeviceID(deviceID), st.deviceID)
	return st, conn, domain.DeviceID(deviceID)
}

func joinSession(t *testing.T, ctl *Controller, deviceID domain.DeviceID, sessionID string) {
	t.Helper()
	ctl.handleMessage(&connState{connID: "x"}, newFakeConn(),
		[]byte(`{"type":"join_session","deviceId":"`+string(deviceID)+`","sessionId":"`+sessionID+`"}`))
}

func TestRegisterReply(t *testing.T) {
	ctl, h := newTestController(testConfig())
	_, _, deviceID := registerDevice(t, ctl, "u1")

	dev, ok := h.Device(deviceID)
	require.True(t, ok)
	assert.Equal(t, domain.UserID("u1"), dev.UserID)
}

func TestMalformedMessageGetsErrorReply(t *testing.T) {
	ctl, _ := newTestController(testConfig())
	st := &connState{connID: "c1"}
	conn := newFakeConn()

	ctl.handleMessage(st, conn, []byte(`{broken`))

	reply := conn.lastEvent(t)
	assert.Equal(t, "error", reply["type"])
	assert.True(t, conn.Open(), "connection must stay open on bad input")
}

func TestUnknownTypeGetsErrorReply(t *testing.T) {
	ctl, _ := newTestController(testConfig())
	conn := newFakeConn()

	ctl.handleMessage(&connState{connID: "c1"}, conn, []byte(`{"type":"teleport"}`))

	reply := conn.lastEvent(t)
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "unsupported message type", reply["message"])
}

func TestJoinBroadcastsToExistingMembersOnly(t *testing.T) {
	ctl, _ := newTestController(testConfig())
	_, conn1, d1 := registerDevice(t, ctl, "u1")
	_, conn2, d2 := registerDevice(t, ctl, "u2")

	joinSession(t, ctl, d1, "s1")
	joinSession(t, ctl, d2, "s1")

	joined := conn1.lastEvent(t)
	assert.Equal(t, "device_joined", joined["type"])
	assert.Equal(t, string(d2), joined["deviceId"])
	assert.Equal(t, "u2", joined["userId"])

	// The joiner itself only ever saw its registration ack.
	for _, evt := range conn2.events(t) {
		assert.NotEqual(t, "device_joined", evt["type"])
	}
}

func TestJoinUnknownDeviceIsSilentlyIgnored(t *testing.T) {
	ctl, h := newTestController(testConfig())
	conn := newFakeConn()

	ctl.handleMessage(&connState{connID: "c1"}, conn,
		[]byte(`{"type":"join_session","deviceId":"ghost","sessionId":"s1"}`))

	assert.Empty(t, conn.events(t), "no error reply for unknown device")
	assert.Zero(t, h.ConnectedCount("s1"))
}

func TestExplicitLeaveBroadcastsDeviceLeft(t *testing.T) {
	ctl, h := newTestController(testConfig())
	_, conn1, d1 := registerDevice(t, ctl, "u1")
	_, _, d2 := registerDevice(t, ctl, "u2")
	joinSession(t, ctl, d1, "s1")
	joinSession(t, ctl, d2, "s1")

	ctl.handleMessage(&connState{connID: "x"}, newFakeConn(),
		[]byte(`{"type":"leave_session","deviceId":"`+string(d2)+`","sessionId":"s1"}`))

	left := conn1.lastEvent(t)
	assert.Equal(t, "device_left", left["type"])
	assert.Equal(t, string(d2), left["deviceId"])
	assert.Equal(t, 1, h.ConnectedCount("s1"))
}

func TestRejoinAnnouncesLeaveToOldSession(t *testing.T) {
	ctl, _ := newTestController(testConfig())
	_, conn1, d1 := registerDevice(t, ctl, "u1")
	_, _, d2 := registerDevice(t, ctl, "u2")
	joinSession(t, ctl, d1, "s1")
	joinSession(t, ctl, d2, "s1")

	joinSession(t, ctl, d2, "s2")

	left := conn1.lastEvent(t)
	assert.Equal(t, "device_left", left["type"])
	assert.Equal(t, string(d2), left["deviceId"])
}

func TestDisconnectCleanupBroadcastsDeviceLeft(t *testing.T) {
	ctl, h := newTestController(testConfig())
	_, conn1, d1 := registerDevice(t, ctl, "u1")
	_, _, d2 := registerDevice(t, ctl, "u2")
	joinSession(t, ctl, d1, "s1")
	joinSession(t, ctl, d2, "s1")

	// Transport close path: no leave_session message was ever sent.
	h.Unregister(d2)

	left := conn1.lastEvent(t)
	assert.Equal(t, "device_left", left["type"])
	assert.Equal(t, string(d2), left["deviceId"])
	assert.Equal(t, "u2", left["userId"])
}

func TestScreenShareRelay(t *testing.T) {
	ctl, _ := newTestController(testConfig())
	_, conn1, d1 := registerDevice(t, ctl, "u1")
	_, conn2, d2 := registerDevice(t, ctl, "u2")
	joinSession(t, ctl, d1, "s1")
	joinSession(t, ctl, d2, "s1")

	ctl.handleMessage(&connState{connID: "x"}, newFakeConn(),
		[]byte(`{"type":"screen_share_start","deviceId":"`+string(d1)+`","sessionId":"s1","shareData":{"resolution":"720p"}}`))

	started := conn2.lastEvent(t)
	assert.Equal(t, "screen_share_started", started["type"])
	assert.Equal(t, string(d1), started["deviceId"])
	assert.Equal(t, map[string]any{"resolution": "720p"}, started["shareData"])
	for _, evt := range conn1.events(t) {
		assert.NotEqual(t, "screen_share_started", evt["type"], "sender is excluded")
	}

	ctl.handleMessage(&connState{connID: "x"}, newFakeConn(),
		[]byte(`{"type":"screen_share_stop","deviceId":"`+string(d1)+`","sessionId":"s1"}`))
	stopped := conn2.lastEvent(t)
	assert.Equal(t, "screen_share_stopped", stopped["type"])
}

func TestScreenShareFromUnknownDeviceIgnored(t *testing.T) {
	ctl, _ := newTestController(testConfig())
	_, conn1, d1 := registerDevice(t, ctl, "u1")
	joinSession(t, ctl, d1, "s1")
	before := len(conn1.events(t))

	ctl.handleMessage(&connState{connID: "x"}, newFakeConn(),
		[]byte(`{"type":"screen_share_start","deviceId":"ghost","sessionId":"s1","shareData":{}}`))

	assert.Len(t, conn1.events(t), before)
}

func TestHeartbeatUnknownDeviceDoesNotReply(t *testing.T) {
	ctl, _ := newTestController(testConfig())
	conn := newFakeConn()

	ctl.handleMessage(&connState{connID: "c1"}, conn, []byte(`{"type":"heartbeat","deviceId":"ghost"}`))

	assert.Empty(t, conn.events(t))
}

func TestRateLimitRepliesWithError(t *testing.T) {
	cfg := testConfig()
	cfg.MsgRateLimit = 2
	cfg.MsgRateWindow = time.Minute
	ctl, _ := newTestController(cfg)

	st := &connState{connID: "c1"}
	conn := newFakeConn()
	for i := 0; i < 3; i++ {
		ctl.handleMessage(st, conn, []byte(`{"type":"heartbeat","deviceId":"d1"}`))
	}

	reply := conn.lastEvent(t)
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "rate limit exceeded", reply["message"])
}
