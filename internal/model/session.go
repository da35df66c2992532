package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/psds-microservice/voice-supervisor/internal/credential"
)

// TokenList accepts either a JSON array or a comma-separated string.
type TokenList []string

func (l *TokenList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var list []string
		if err := json.Unmarshal(b, &list); err != nil {
			return fmt.Errorf("tokens: %w", err)
		}
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("tokens: expected a string or an array of strings")
	}
	*l = TokenList{s}
	return nil
}

// DiscordRequest is the body or query of GET|POST /api/discord.
type DiscordRequest struct {
	Tokens    TokenList `json:"tokens" form:"tokens"`
	Token     string    `json:"token" form:"token"`
	ChannelID string    `json:"channel_id" form:"channel_id"`
}

// Credentials returns the non-empty credentials of the request in order.
func (r DiscordRequest) Credentials() []string {
	var out []string
	for _, t := range r.Tokens {
		out = append(out, credential.Split(t)...)
	}
	if t := strings.TrimSpace(r.Token); t != "" {
		out = append(out, t)
	}
	return out
}

// TokenTypes counts credentials by kind.
type TokenTypes struct {
	SelfTokens int `json:"self_tokens"`
	BotTokens  int `json:"bot_tokens"`
}

// TokenResult is one entry of results[] or errors[].
type TokenResult struct {
	Token       string `json:"token"`
	TokenType   string `json:"token_type"`
	Status      string `json:"status"`
	BotUsername string `json:"bot_username,omitempty"`
	Connected   bool   `json:"connected,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	State       string `json:"state,omitempty"`
	Message     string `json:"message,omitempty"`
}

// DiscordResponse is the batch response of /api/discord.
type DiscordResponse struct {
	Status      string        `json:"status"`
	TotalTokens int           `json:"total_tokens"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	TokenTypes  TokenTypes    `json:"token_types"`
	Results     []TokenResult `json:"results"`
	Errors      []TokenResult `json:"errors"`
}

// ErrorResponse is returned for malformed requests.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Session is the API view of a supervised session.
type Session struct {
	ID             string     `json:"id"`
	Token          string     `json:"token"`
	TokenType      string     `json:"token_type"`
	ChannelID      string     `json:"channel_id"`
	GuildID        string     `json:"guild_id,omitempty"`
	State          string     `json:"state"`
	UserID         string     `json:"user_id,omitempty"`
	BotUsername    string     `json:"bot_username,omitempty"`
	Attempts       int        `json:"attempts"`
	CreatedAt      time.Time  `json:"created_at"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	Failure        string     `json:"failure,omitempty"`
}

// SessionListResponse is the response for GET /sessions.
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	EventsWS string    `json:"events_ws_url"`
}

// Event is the API view of a persisted transition.
type Event struct {
	SessionID  string    `json:"session_id"`
	Token      string    `json:"token"`
	TokenType  string    `json:"token_type"`
	ChannelID  string    `json:"channel_id"`
	GuildID    string    `json:"guild_id,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Attempt    int       `json:"attempt"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"at"`
}

// SessionEventsResponse is the response for GET /sessions/:id/events.
type SessionEventsResponse struct {
	SessionID string  `json:"session_id"`
	Events    []Event `json:"events"`
}
