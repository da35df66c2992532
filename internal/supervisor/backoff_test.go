package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second, MaxAttempts: 5}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 8*time.Second, b.Delay(4))
	assert.Equal(t, 10*time.Second, b.Delay(5))
	assert.Equal(t, 10*time.Second, b.Delay(500))

	assert.Equal(t, time.Duration(0), Backoff{}.Delay(3))
	assert.Equal(t, 4*time.Second, Backoff{Base: time.Second}.Delay(3))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(StateNone, StateConnecting))
	assert.True(t, canTransition(StateConnecting, StateActive))
	assert.True(t, canTransition(StateActive, StateReconnecting))
	assert.True(t, canTransition(StateDegraded, StateActive))
	assert.True(t, canTransition(StateReconnecting, StateActive))
	assert.True(t, canTransition(StateActive, StateExpired))
	assert.True(t, canTransition(StateExpired, StateTerminated))

	assert.False(t, canTransition(StateConnecting, StateReconnecting))
	assert.False(t, canTransition(StateReconnecting, StateDegraded))
	assert.False(t, canTransition(StateTerminated, StateActive))
	assert.False(t, canTransition(StateExpired, StateActive))
}
