package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/gateway/internal/config"
	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/hub"
	"github.com/xiaot623/gogo/gateway/internal/protocol"
)

type recordedCommand struct {
	op        string
	sessionID string
}

type fakeSessions struct {
	mu       sync.Mutex
	commands []recordedCommand
	known    map[string]bool
}

func (f *fakeSessions) record(op, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, recordedCommand{op, sessionID})
	if !f.known[sessionID] {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (f *fakeSessions) Disconnect(_ context.Context, sessionID string) error {
	return f.record("disconnect", sessionID)
}

func (f *fakeSessions) Delete(_ context.Context, sessionID string) error {
	return f.record("delete", sessionID)
}

func (f *fakeSessions) Commands() []recordedCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCommand(nil), f.commands...)
}

type testEnv struct {
	hub      *hub.Hub
	sessions *fakeSessions
	url      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		PingInterval:   time.Second,
		WriteTimeout:   time.Second,
		ReadTimeout:    5 * time.Second,
		MaxMessageSize: 4096,
	}
	h := hub.NewHub(zerolog.Nop())
	go h.Run()
	t.Cleanup(h.Stop)

	sessions := &fakeSessions{known: map[string]bool{"A": true}}
	srv := NewServer(cfg, h, sessions, zerolog.Nop())

	e := echo.New()
	e.GET("/ws", srv.HandleWebSocket)
	httpSrv := httptest.NewServer(e)
	t.Cleanup(httpSrv.Close)

	return &testEnv{
		hub:      h,
		sessions: sessions,
		url:      "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws",
	}
}

func (env *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	frame, err := protocol.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := protocol.Decode(data)
	require.NoError(t, err)
	return frame
}

func TestJoinSessionReceivesOnlyItsEvents(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t)
	b := env.dial(t)

	send(t, a, protocol.EventJoinSession, "A")
	send(t, b, protocol.EventJoinSession, protocol.SessionPayload{SessionID: "B"})
	require.Eventually(t, func() bool {
		return env.hub.HasSubscribers("A") && env.hub.HasSubscribers("B")
	}, time.Second, 10*time.Millisecond)

	env.hub.Publish("A", protocol.EventQR, protocol.QRPayload{SessionID: "A", URL: "data:image/png;base64,x"})
	env.hub.Publish("B", protocol.EventAuthenticated, protocol.SessionPayload{SessionID: "B"})

	frame := readFrame(t, a)
	assert.Equal(t, protocol.EventQR, frame.Event)
	var qr protocol.QRPayload
	require.NoError(t, json.Unmarshal(frame.Data, &qr))
	assert.Equal(t, "A", qr.SessionID)

	frame = readFrame(t, b)
	assert.Equal(t, protocol.EventAuthenticated, frame.Event)
}

func TestSessionDeletedReachesEveryConnection(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t)
	b := env.dial(t)

	send(t, a, protocol.EventJoinSession, "A")
	send(t, b, protocol.EventJoinSession, "B")
	require.Eventually(t, func() bool { return env.hub.GetTopicCount() == 2 }, time.Second, 10*time.Millisecond)

	env.hub.PublishAll(protocol.EventSessionDeleted, "A")

	for _, conn := range []*websocket.Conn{a, b} {
		frame := readFrame(t, conn)
		assert.Equal(t, protocol.EventSessionDeleted, frame.Event)
		assert.Equal(t, "A", frame.SessionID())
	}
}

func TestSessionCommands(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, protocol.EventDisconnectSession, "A")
	send(t, conn, protocol.EventDeleteSession, protocol.SessionPayload{SessionID: "A"})

	require.Eventually(t, func() bool { return len(env.sessions.Commands()) == 2 }, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []recordedCommand{{"disconnect", "A"}, {"delete", "A"}}, env.sessions.Commands())
}

func TestCommandForUnknownSessionReportsError(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, protocol.EventDisconnectSession, "ghost")

	frame := readFrame(t, conn)
	require.Equal(t, protocol.EventError, frame.Event)
	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, protocol.ErrorCodeSessionNotFound, payload.Code)
	assert.Equal(t, "ghost", payload.SessionID)
}

func TestInvalidFrames(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", "{", protocol.ErrorCodeInvalidMessage},
		{"unknown event", `{"event":"sendMessage","data":"A"}`, protocol.ErrorCodeInvalidMessage},
		{"join without id", `{"event":"joinSession"}`, protocol.ErrorCodeSessionRequired},
		{"delete without id", `{"event":"deleteSession","data":{}}`, protocol.ErrorCodeSessionRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)))
			frame := readFrame(t, conn)
			require.Equal(t, protocol.EventError, frame.Event)
			var payload protocol.ErrorPayload
			require.NoError(t, json.Unmarshal(frame.Data, &payload))
			assert.Equal(t, tt.code, payload.Code)
		})
	}
	assert.Empty(t, env.sessions.Commands())
}
