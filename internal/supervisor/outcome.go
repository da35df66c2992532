package supervisor

import (
	"errors"
	"time"

	"github.com/psds-microservice/voice-supervisor/internal/credential"
	"github.com/psds-microservice/voice-supervisor/internal/errs"
)

// OutcomeStatus is the per-credential result of a start.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "error"
)

// Outcome reports one credential's start result. Credential is always masked.
type Outcome struct {
	Credential string
	Kind       credential.Kind
	ChannelID  string
	Status     OutcomeStatus
	SessionID  string
	State      State
	Username   string
	Connected  bool
	Message    string
	Err        error
}

// NewFailure builds a failure outcome for token without touching the supervisor.
func NewFailure(token, channelID string, err error) Outcome {
	o := Outcome{
		Credential: credential.Mask(token),
		Kind:       credential.Classify(token),
		ChannelID:  channelID,
	}
	return o.fail(err)
}

func (o Outcome) fail(err error) Outcome {
	o.Status = OutcomeFailure
	o.Connected = false
	o.Err = err
	o.Message = err.Error()
	if errors.Is(err, errs.ErrInternal) {
		o.Message = errs.ErrInternal.Error()
	}
	return o
}

func (o Outcome) succeed(snap Snapshot) Outcome {
	o.Status = OutcomeSuccess
	o.SessionID = snap.ID
	o.State = snap.State
	o.Username = snap.Username
	o.Connected = snap.State == StateActive
	o.Message = ""
	o.Err = nil
	return o
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID             string
	Credential     string
	Kind           credential.Kind
	ChannelID      string
	GuildID        string
	State          State
	UserID         string
	Username       string
	Attempts       int
	Epoch          uint64
	CreatedAt      time.Time
	LastVerifiedAt time.Time
	Failure        string
}
