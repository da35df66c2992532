package service

import (
	"testing"
	"time"

	"github.com/psds-microservice/voice-supervisor/internal/credential"
	"github.com/psds-microservice/voice-supervisor/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestTransitionToEvent(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := supervisor.Transition{
		SessionID:   "5b0f6f5e-5a43-4d3c-9a56-0d1c0b3e2f10",
		Credential:  "MTIzNDU2Nz...34567",
		Fingerprint: "abc123",
		Kind:        credential.KindBot,
		ChannelID:   "1100",
		GuildID:     "1000",
		From:        supervisor.StateActive,
		To:          supervisor.StateReconnecting,
		Attempt:     2,
		Reason:      "presence not confirmed",
		At:          at,
	}

	ent := transitionToEntity(tr)
	assert.Equal(t, "abc123", ent.Fingerprint)
	assert.Equal(t, "active", ent.FromState)
	assert.Equal(t, "reconnecting", ent.ToState)

	ev := entityToEvent(&ent)
	assert.Equal(t, tr.SessionID, ev.SessionID)
	assert.Equal(t, "MTIzNDU2Nz...34567", ev.Token)
	assert.Equal(t, "bot_token", ev.TokenType)
	assert.Equal(t, "1000", ev.GuildID)
	assert.Equal(t, 2, ev.Attempt)
	assert.Equal(t, "presence not confirmed", ev.Reason)
	assert.Equal(t, at, ev.OccurredAt)
}

func TestHistory_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	h := NewHistoryService(nil, zaptest.NewLogger(t))
	for i := 0; i < historyQueueSize+10; i++ {
		h.SessionTransition(supervisor.Transition{SessionID: "s1", To: supervisor.StateActive})
	}
	assert.Equal(t, int64(10), h.dropped.Load())
	assert.Len(t, h.events, historyQueueSize)
}

func TestWSConfig_EventsURL(t *testing.T) {
	var nilCfg *WSConfig
	assert.Equal(t, "/ws/sessions", nilCfg.EventsURL(""))
	cfg := &WSConfig{BaseURL: "wss://voice.example.com/"}
	assert.Equal(t, "wss://voice.example.com/ws/sessions", cfg.EventsURL(""))
	assert.Equal(t, "wss://voice.example.com/ws/sessions?session_id=a+b", cfg.EventsURL("a b"))
}
