package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordRequest_Credentials(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{name: "array", body: `{"tokens":["a.b.c"," d.e.f "],"channel_id":"1"}`, want: []string{"a.b.c", "d.e.f"}},
		{name: "comma string", body: `{"tokens":"a.b.c, ,d.e.f","channel_id":"1"}`, want: []string{"a.b.c", "d.e.f"}},
		{name: "single token", body: `{"token":" x.y.z ","channel_id":"1"}`, want: []string{"x.y.z"}},
		{name: "both", body: `{"tokens":"a.b.c","token":"x.y.z"}`, want: []string{"a.b.c", "x.y.z"}},
		{name: "nothing", body: `{"channel_id":"1"}`, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req DiscordRequest
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))
			assert.Equal(t, tt.want, req.Credentials())
		})
	}
}

func TestTokenList_RejectsNumbers(t *testing.T) {
	var req DiscordRequest
	assert.Error(t, json.Unmarshal([]byte(`{"tokens":42}`), &req))
}
