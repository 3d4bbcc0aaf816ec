package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/gateway/internal/protocol"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zerolog.Nop())
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func newConn(h *Hub) *Connection {
	conn := h.NewConnection(nil)
	h.Register(conn)
	return conn
}

func recv(t *testing.T, conn *Connection) protocol.Frame {
	t.Helper()
	select {
	case data, ok := <-conn.Send:
		require.True(t, ok, "send channel closed")
		var f protocol.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return protocol.Frame{}
	}
}

func assertSilent(t *testing.T, conn *Connection) {
	t.Helper()
	select {
	case data := <-conn.Send:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishOnlyReachesTopicSubscribers(t *testing.T) {
	h := newRunningHub(t)
	a := newConn(h)
	b := newConn(h)
	require.NoError(t, h.Subscribe(a, "A"))
	require.NoError(t, h.Subscribe(b, "B"))

	h.Publish("A", protocol.EventQR, protocol.QRPayload{SessionID: "A", URL: "data:image/png;base64,xx"})

	f := recv(t, a)
	assert.Equal(t, protocol.EventQR, f.Event)
	var qr protocol.QRPayload
	require.NoError(t, json.Unmarshal(f.Data, &qr))
	assert.Equal(t, "A", qr.SessionID)
	assertSilent(t, b)
}

func TestConnectionMaySubscribeToSeveralTopics(t *testing.T) {
	h := newRunningHub(t)
	conn := newConn(h)
	require.NoError(t, h.Subscribe(conn, "A"))
	require.NoError(t, h.Subscribe(conn, "B"))
	assert.Equal(t, 2, h.GetTopicCount())

	h.Publish("A", protocol.EventAuthenticated, protocol.SessionPayload{SessionID: "A"})
	h.Publish("B", protocol.EventAuthenticated, protocol.SessionPayload{SessionID: "B"})

	assert.Equal(t, `{"sessionId":"A"}`, string(recv(t, conn).Data))
	assert.Equal(t, `{"sessionId":"B"}`, string(recv(t, conn).Data))
}

func TestSubscribeSendsSnapshot(t *testing.T) {
	h := newRunningHub(t)
	h.SetSnapshotFunc(func(id string) (string, interface{}, bool) {
		if id != "ready-one" {
			return "", nil, false
		}
		return protocol.EventReady, protocol.ReadyPayload{SessionID: id, PhoneNumber: "628111", Pushname: "Ops"}, true
	})
	early := newConn(h)
	require.NoError(t, h.Subscribe(early, "ready-one"))
	recv(t, early)

	late := newConn(h)
	require.NoError(t, h.Subscribe(late, "ready-one"))
	f := recv(t, late)
	assert.Equal(t, protocol.EventReady, f.Event)
	assert.JSONEq(t, `{"sessionId":"ready-one","phoneNumber":"628111","pushname":"Ops"}`, string(f.Data))
	assertSilent(t, early)

	other := newConn(h)
	require.NoError(t, h.Subscribe(other, "pending"))
	assertSilent(t, other)
}

func TestPublishAllReachesEveryConnection(t *testing.T) {
	h := newRunningHub(t)
	a := newConn(h)
	b := newConn(h)
	require.NoError(t, h.Subscribe(a, "A"))

	h.PublishAll(protocol.EventSessionDeleted, "A")

	assert.Equal(t, `"A"`, string(recv(t, a).Data))
	assert.Equal(t, `"A"`, string(recv(t, b).Data))
}

func TestUnregisterLeavesAllTopics(t *testing.T) {
	h := newRunningHub(t)
	conn := newConn(h)
	require.NoError(t, h.Subscribe(conn, "A"))
	require.NoError(t, h.Subscribe(conn, "B"))

	h.Unregister(conn)
	require.Eventually(t, func() bool { return h.GetConnectionCount() == 0 }, time.Second, 10*time.Millisecond)

	assert.False(t, h.HasSubscribers("A"))
	assert.False(t, h.HasSubscribers("B"))
	assert.ErrorIs(t, h.Subscribe(conn, "A"), ErrConnectionClosed)
	assert.ErrorIs(t, h.SendToConnection(conn, protocol.EventMessage, "x"), ErrConnectionClosed)

	_, ok := <-conn.Send
	assert.False(t, ok)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := newRunningHub(t)
	slow := newConn(h)
	require.NoError(t, h.Subscribe(slow, "A"))

	for i := 0; i < cap(slow.Send)+1; i++ {
		h.Publish("A", protocol.EventMessage, i)
	}

	require.Eventually(t, func() bool { return !h.HasSubscribers("A") }, time.Second, 10*time.Millisecond)
}
