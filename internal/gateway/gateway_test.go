package gateway

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/psds-microservice/voice-supervisor/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestRosterIn(t *testing.T) {
	r := Roster{"u1": "c1", "u2": "c2"}
	assert.True(t, r.In("u1", "c1"))
	assert.False(t, r.In("u1", "c2"))
	assert.False(t, r.In("u3", "c1"))
	assert.False(t, Roster(nil).In("u1", "c1"))
}

func TestClassifyREST(t *testing.T) {
	rest := func(code int) error {
		return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
	}
	assert.ErrorIs(t, classifyREST("op", rest(http.StatusUnauthorized)), errs.ErrAuthFailed)
	assert.ErrorIs(t, classifyREST("op", rest(http.StatusForbidden)), errs.ErrPermissionDenied)
	assert.ErrorIs(t, classifyREST("op", rest(http.StatusNotFound)), errs.ErrChannelNotFound)

	err := classifyREST("op", rest(http.StatusBadGateway))
	assert.False(t, errs.IsPermanent(err))

	plain := errors.New("dial tcp: timeout")
	assert.ErrorIs(t, classifyREST("op", plain), plain)
}

func TestClassifyOpen(t *testing.T) {
	assert.ErrorIs(t, classifyOpen(&websocket.CloseError{Code: closeAuthenticationFailed}), errs.ErrAuthFailed)
	assert.False(t, errs.IsPermanent(classifyOpen(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})))
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown", ConnState(0).String())
}
