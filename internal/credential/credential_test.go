package credential

import (
	"strings"
	"testing"

	"github.com/psds-microservice/voice-supervisor/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  Kind
	}{
		{"bot shaped", "validBotToken.ab.cd", KindBot},
		{"bot with padding", "MTIzNDU2Nzg5MA==.GhIjKl.abc_def-123", KindBot},
		{"url alphabet", "MTI-_zQ.x.y", KindBot},
		{"two segments", "abc.def", KindUser},
		{"four segments", "a.b.c.d", KindUser},
		{"empty segment", "abc..def", KindUser},
		{"non base64 first segment", "abc!.def.ghi", KindUser},
		{"too much padding", "abc===.def.ghi", KindUser},
		{"plain string", "short", KindUser},
		{"empty", "", KindUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.token))
		})
	}
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate("", 10), errs.ErrInvalidCredential)
	assert.ErrorIs(t, Validate("short", 10), errs.ErrInvalidCredential)
	assert.ErrorIs(t, Validate("has space inside it", 5), errs.ErrInvalidCredential)
	assert.NoError(t, Validate("validBotToken.ab.cd", 10))

	// zero falls back to the default limit
	assert.Error(t, Validate(strings.Repeat("a", DefaultMinLength-1), 0))
	assert.NoError(t, Validate(strings.Repeat("a", DefaultMinLength), 0))
}

func TestMask(t *testing.T) {
	token := "MTIzNDU2Nzg5MDEyMzQ1Njc4.GhIjKl.abcdefghijklmnopqrstuvwxyz"
	masked := Mask(token)
	assert.Equal(t, "MTIzNDU2Nz...vwxyz", masked)
	assert.NotContains(t, masked, "GhIjKl")

	for _, short := range []string{"short", "abcdefgh", "ab", ""} {
		assert.NotEqual(t, short, Mask(short), "mask must not echo %q", short)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("token-a")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("token-a"))
	assert.NotEqual(t, a, Fingerprint("token-b"))
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Split(" a, b ,,c ,"))
	assert.Empty(t, Split(" , "))
}
