package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/psds-microservice/voice-supervisor/internal/service"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// EventsWSHandler streams session transitions over /ws/sessions[?session_id=].
type EventsWSHandler struct {
	hub    service.EventHubForHandler
	logger *zap.Logger
}

// NewEventsWSHandler creates the WebSocket feed handler.
func NewEventsWSHandler(hub service.EventHubForHandler, logger *zap.Logger) *EventsWSHandler {
	return &EventsWSHandler{hub: hub, logger: logger}
}

// ServeWS upgrades the request to WebSocket and runs the feed loop.
func (h *EventsWSHandler) ServeWS(c *gin.Context) {
	conn, err := h.hub.Upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	peer, cleanup := h.hub.Register(c.Query("session_id"), conn)
	defer cleanup()

	// Writer goroutine: send from peer.Send to connection
	go h.writePump(peer)

	// Reader: only control frames are expected
	h.readPump(peer)
}

func (h *EventsWSHandler) readPump(p *service.Peer) {
	defer func() {
		_ = p.Conn.Close()
	}()
	_ = p.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
	p.Conn.SetPongHandler(func(string) error {
		return p.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := p.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *EventsWSHandler) writePump(p *service.Peer) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.Conn.Close()
	}()
	for {
		select {
		case data, ok := <-p.Send:
			_ = p.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = p.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := p.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := p.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
