package service

import (
	"net/url"
	"strings"

	"github.com/psds-microservice/voice-supervisor/pkg/constants"
)

// WSConfig holds WebSocket URL base for responses.
type WSConfig struct {
	BaseURL string
}

// EventsURL returns the transition feed URL, optionally filtered to one session
// (e.g. wss://host/ws/sessions?session_id=...).
func (c *WSConfig) EventsURL(sessionID string) string {
	base := ""
	if c != nil {
		base = strings.TrimRight(c.BaseURL, "/")
	}
	u := base + constants.PathEventsWS
	if sessionID != "" {
		u += "?session_id=" + url.QueryEscape(sessionID)
	}
	return u
}
