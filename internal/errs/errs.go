package errs

import "errors"

// Доменные сентинель-ошибки для маппинга в HTTP коды и статусы outcome.
var (
	ErrSessionNotFound = errors.New("session not found")

	ErrInvalidCredential     = errors.New("invalid credential")
	ErrUnsupportedCredential = errors.New("user-account credentials are not supported")
	ErrAuthFailed            = errors.New("authentication failed")
	ErrChannelNotFound       = errors.New("channel not found")
	ErrNotVoiceChannel       = errors.New("not a voice channel")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrBatchLimit            = errors.New("batch limit exceeded")

	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrStopped          = errors.New("session stopped")
	ErrExpired          = errors.New("session lifetime elapsed")
	ErrShutdown         = errors.New("supervisor is shutting down")
	ErrLeaseHeld        = errors.New("credential is supervised by another instance")
	ErrLeaseLost        = errors.New("supervision lease lost")
	ErrInternal         = errors.New("internal error")
)

// IsPermanent reports whether err must never be retried.
func IsPermanent(err error) bool {
	for _, p := range []error{
		ErrInvalidCredential,
		ErrUnsupportedCredential,
		ErrAuthFailed,
		ErrChannelNotFound,
		ErrNotVoiceChannel,
		ErrPermissionDenied,
		ErrLeaseHeld,
		ErrLeaseLost,
	} {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}
