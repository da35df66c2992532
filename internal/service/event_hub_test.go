package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/voice-supervisor/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func serveHub(t *testing.T, hub *EventHub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.Upgrader().Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		p, cleanup := hub.Register(r.URL.Query().Get("session_id"), conn)
		defer cleanup()
		for data := range p.Send {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readTransition(t *testing.T, conn *websocket.Conn) supervisor.Transition {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var tr supervisor.Transition
	require.NoError(t, json.Unmarshal(data, &tr))
	return tr
}

func TestEventHub_BroadcastAndFilter(t *testing.T) {
	hub := NewEventHub(4096, 1024, 1024, zaptest.NewLogger(t))
	url := serveHub(t, hub)

	all := dial(t, url)
	only := dial(t, url+"?session_id=s2")
	require.Eventually(t, func() bool { return hub.PeerCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	hub.SessionTransition(supervisor.Transition{SessionID: "s1", From: supervisor.StateConnecting, To: supervisor.StateActive})
	hub.SessionTransition(supervisor.Transition{SessionID: "s2", From: supervisor.StateActive, To: supervisor.StateReconnecting, Attempt: 1})

	assert.Equal(t, "s1", readTransition(t, all).SessionID)
	assert.Equal(t, "s2", readTransition(t, all).SessionID)

	got := readTransition(t, only)
	assert.Equal(t, "s2", got.SessionID)
	assert.Equal(t, supervisor.StateReconnecting, got.To)
	assert.Equal(t, 1, got.Attempt)
}

func TestEventHub_CloseDisconnectsPeers(t *testing.T) {
	hub := NewEventHub(4096, 1024, 1024, zaptest.NewLogger(t))
	url := serveHub(t, hub)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.PeerCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.PeerCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// late subscribers are closed straight away
	late := dial(t, url)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)

	hub.Close()
}

func TestEventHub_SlowPeerDoesNotBlock(t *testing.T) {
	hub := NewEventHub(4096, 1024, 1024, zaptest.NewLogger(t))
	p, cleanup := hub.Register("", &websocket.Conn{})
	defer cleanup()

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(p.Send)*3; i++ {
			hub.SessionTransition(supervisor.Transition{SessionID: "s1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full peer")
	}
	assert.Len(t, p.Send, cap(p.Send))
}
