package service

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/voice-supervisor/internal/supervisor"
	"go.uber.org/zap"
)

// Peer is a WebSocket subscriber of the transition feed.
type Peer struct {
	SessionID string // empty: every session
	Conn      *websocket.Conn
	Send      chan []byte
}

// EventHubForHandler: то, что нужно WebSocket handler от хаба.
type EventHubForHandler interface {
	Register(sessionID string, conn *websocket.Conn) (*Peer, func())
	Upgrader() *websocket.Upgrader
}

// EventHub fans session transitions out to WebSocket peers. It is a
// supervisor.Observer and never blocks the caller: a peer whose buffer is full
// misses the message.
type EventHub struct {
	mu         sync.RWMutex
	peers      map[*Peer]struct{}
	closed     bool
	upgrader   websocket.Upgrader
	maxMsgSize int64
	log        *zap.Logger
}

// NewEventHub creates a new event hub.
func NewEventHub(maxMessageSize int64, readBuf, writeBuf int, log *zap.Logger) *EventHub {
	return &EventHub{
		peers:      make(map[*Peer]struct{}),
		maxMsgSize: maxMessageSize,
		log:        log.Named("events"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			// Allow all origins for dev; in prod set CheckOrigin.
		},
	}
}

// Register adds a peer and returns a cleanup function. After Close the returned
// peer's Send channel is already closed.
func (h *EventHub) Register(sessionID string, conn *websocket.Conn) (*Peer, func()) {
	if h.maxMsgSize > 0 {
		conn.SetReadLimit(h.maxMsgSize)
	}
	p := &Peer{
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, 64),
	}
	h.mu.Lock()
	if h.closed {
		close(p.Send)
	} else {
		h.peers[p] = struct{}{}
	}
	h.mu.Unlock()

	h.log.Debug("peer registered", zap.String("session_id", sessionID))
	return p, func() { h.unregister(p) }
}

func (h *EventHub) unregister(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; !ok {
		return
	}
	delete(h.peers, p)
	close(p.Send)
	h.log.Debug("peer unregistered", zap.String("session_id", p.SessionID))
}

// SessionTransition broadcasts t to every peer subscribed to its session.
func (h *EventHub) SessionTransition(t supervisor.Transition) {
	raw, err := json.Marshal(t)
	if err != nil {
		h.log.Error("marshal transition", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		if p.SessionID != "" && p.SessionID != t.SessionID {
			continue
		}
		select {
		case p.Send <- raw:
		default:
			h.log.Warn("peer send buffer full", zap.String("session_id", t.SessionID))
		}
	}
}

// Close disconnects every peer; their write pumps send the close frame.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for p := range h.peers {
		close(p.Send)
		delete(h.peers, p)
	}
}

// Upgrader returns the WebSocket upgrader for HTTP handlers.
func (h *EventHub) Upgrader() *websocket.Upgrader {
	return &h.upgrader
}

// PeerCount returns number of connected peers.
func (h *EventHub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}
