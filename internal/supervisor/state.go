package supervisor

import (
	"errors"
	"time"

	"github.com/psds-microservice/voice-supervisor/internal/credential"
)

// ErrInvalidTransition is logged when the state table forbids a move; it never
// reaches callers.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is the lifecycle state of a supervised voice presence.
type State string

const (
	StateNone         State = ""
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateDegraded     State = "degraded"
	StateReconnecting State = "reconnecting"
	StateExpired      State = "expired"
	StateTerminated   State = "terminated"
)

func canTransition(from, to State) bool {
	switch from {
	case StateNone:
		return to == StateConnecting
	case StateConnecting:
		return to == StateActive || to == StateExpired || to == StateTerminated
	case StateActive:
		return to == StateDegraded || to == StateReconnecting || to == StateExpired || to == StateTerminated
	case StateDegraded:
		return to == StateActive || to == StateReconnecting || to == StateExpired || to == StateTerminated
	case StateReconnecting:
		return to == StateActive || to == StateExpired || to == StateTerminated
	case StateExpired:
		return to == StateTerminated
	default:
		return false
	}
}

// Transition is emitted to observers for every state change.
type Transition struct {
	SessionID   string          `json:"session_id"`
	Credential  string          `json:"token"`
	Fingerprint string          `json:"-"`
	Kind        credential.Kind `json:"token_type"`
	ChannelID   string          `json:"channel_id"`
	GuildID     string          `json:"guild_id,omitempty"`
	From        State           `json:"from"`
	To          State           `json:"to"`
	Attempt     int             `json:"attempt"`
	Reason      string          `json:"reason,omitempty"`
	At          time.Time       `json:"at"`
}

// Observer receives transitions. It is called with the session lock held, in
// transition order, and must not block.
type Observer interface {
	SessionTransition(t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(t Transition)

func (f ObserverFunc) SessionTransition(t Transition) { f(t) }
