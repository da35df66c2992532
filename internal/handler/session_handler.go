package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/voice-supervisor/internal/errs"
	"github.com/psds-microservice/voice-supervisor/internal/model"
	"github.com/psds-microservice/voice-supervisor/internal/service"
	"github.com/psds-microservice/voice-supervisor/internal/supervisor"
)

// SessionRegistry is the read/stop surface of the supervisor.
type SessionRegistry interface {
	List() []supervisor.Snapshot
	Get(id string) (supervisor.Snapshot, error)
	StopByID(id string) error
}

// SessionHandler handles REST API for sessions.
type SessionHandler struct {
	reg     SessionRegistry
	history service.HistoryReader // nil when history is disabled
	cfg     *service.WSConfig
}

// NewSessionHandler creates a session handler (D: принимает интерфейсы).
func NewSessionHandler(reg SessionRegistry, history service.HistoryReader, wsBaseURL string) *SessionHandler {
	return &SessionHandler{
		reg:     reg,
		history: history,
		cfg:     &service.WSConfig{BaseURL: wsBaseURL},
	}
}

// ListSessions godoc
// GET /sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	snaps := h.reg.List()
	out := make([]model.Session, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, snapshotToSession(s))
	}
	c.JSON(http.StatusOK, model.SessionListResponse{
		Sessions: out,
		Total:    len(out),
		EventsWS: h.cfg.EventsURL(""),
	})
}

// GetSession godoc
// GET /sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	snap, err := h.reg.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get session"})
		return
	}
	c.JSON(http.StatusOK, snapshotToSession(snap))
}

// DeleteSession godoc
// DELETE /sessions/:id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	if err := h.reg.StopByID(c.Param("id")); err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop session"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSessionEvents godoc
// GET /sessions/:id/events?limit=
func (h *SessionHandler) GetSessionEvents(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session history is disabled"})
		return
	}
	sessionID := c.Param("id")
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.history.ListEvents(c.Request.Context(), sessionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get session events"})
		return
	}
	c.JSON(http.StatusOK, model.SessionEventsResponse{SessionID: sessionID, Events: events})
}

func snapshotToSession(s supervisor.Snapshot) model.Session {
	out := model.Session{
		ID:          s.ID,
		Token:       s.Credential,
		TokenType:   string(s.Kind),
		ChannelID:   s.ChannelID,
		GuildID:     s.GuildID,
		State:       string(s.State),
		UserID:      s.UserID,
		BotUsername: s.Username,
		Attempts:    s.Attempts,
		CreatedAt:   s.CreatedAt,
		Failure:     s.Failure,
	}
	if !s.LastVerifiedAt.IsZero() {
		t := s.LastVerifiedAt
		out.LastVerifiedAt = &t
	}
	return out
}
