// Package gateway defines the capabilities the supervisor needs from a real-time
// chat gateway and implements them for Discord.
package gateway

import (
	"context"

	"github.com/psds-microservice/voice-supervisor/internal/credential"
)

// ConnState is a gateway-level connection signal.
type ConnState int

const (
	StateConnected ConnState = iota + 1
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Identity is the account a credential authenticates as.
type Identity struct {
	UserID   string
	Username string
}

// Channel is the resolved target channel.
type Channel struct {
	ID      string
	GuildID string
	Name    string
	Voice   bool
}

// Roster maps user IDs to the voice channel they currently occupy in one guild.
type Roster map[string]string

// In reports whether userID is present in channelID.
func (r Roster) In(userID, channelID string) bool {
	ch, ok := r[userID]
	return ok && ch == channelID
}

// Link is the live voice connection handle. It is owned by exactly one session.
type Link interface {
	ChannelID() string
	GuildID() string
	Usable() bool
	Close() error
}

// Conn is one authenticated gateway connection.
type Conn interface {
	Identity() Identity
	FetchChannel(ctx context.Context, channelID string) (Channel, error)
	// CanConnect reports whether the identity may join ch. An error means the
	// permission could not be determined.
	CanConnect(ctx context.Context, ch Channel) (bool, error)
	JoinVoice(ctx context.Context, ch Channel) (Link, error)
	VoiceRoster(ctx context.Context, guildID string) (Roster, error)
	Notify(fn func(ConnState)) (remove func())
	Close() error
}

// Dialer authenticates credentials against the gateway.
type Dialer interface {
	Authenticate(ctx context.Context, token string, kind credential.Kind) (Conn, error)
}
