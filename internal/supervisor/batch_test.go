package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psds-microservice/voice-supervisor/internal/credential"
	"github.com/psds-microservice/voice-supervisor/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStarter struct {
	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32
	hold     time.Duration
	fn       func(token string) Outcome
}

func (f *fakeStarter) Start(_ context.Context, token, channelID string) Outcome {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, token)
	f.mu.Unlock()
	if f.hold > 0 {
		time.Sleep(f.hold)
	}
	if f.fn != nil {
		return f.fn(token)
	}
	return Outcome{
		Credential: credential.Mask(token),
		Kind:       credential.Classify(token),
		ChannelID:  channelID,
		Status:     OutcomeSuccess,
		State:      StateActive,
		Connected:  true,
	}
}

func (f *fakeStarter) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func items(tokens ...string) []Item {
	out := make([]Item, len(tokens))
	for i, tok := range tokens {
		out[i] = Item{Credential: tok, ChannelID: voiceID}
	}
	return out
}

func TestBatch_ShortCredentialsFailWithoutStarting(t *testing.T) {
	starter := &fakeStarter{}
	o := NewOrchestrator(starter, BatchPolicy{}, zaptest.NewLogger(t))

	r := o.Run(context.Background(), items("validBotToken.ab.cd", "short"))

	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 0, r.Successful)
	assert.Equal(t, 2, r.Failed)
	assert.Equal(t, 1, r.ByKind[credential.KindBot])
	assert.Equal(t, 1, r.ByKind[credential.KindUser])
	assert.Empty(t, starter.called())
	for _, out := range r.Outcomes {
		assert.ErrorIs(t, out.Err, errs.ErrInvalidCredential)
		assert.NotEqual(t, "validBotToken.ab.cd", out.Credential)
	}
}

func TestBatch_FailureIsolation(t *testing.T) {
	starter := &fakeStarter{fn: func(token string) Outcome {
		if token == secondToken {
			return NewFailure(token, voiceID, errs.ErrAuthFailed)
		}
		if token == userToken {
			panic("boom")
		}
		return Outcome{Kind: credential.Classify(token), Status: OutcomeSuccess}
	}}

	for _, mode := range []Concurrency{Sequential, Parallel} {
		t.Run(string(mode), func(t *testing.T) {
			o := NewOrchestrator(starter, BatchPolicy{Mode: mode}, zaptest.NewLogger(t))
			r := o.Run(context.Background(), items(botToken, secondToken, userToken))

			require.Len(t, r.Outcomes, 3)
			assert.Equal(t, OutcomeSuccess, r.Outcomes[0].Status)
			assert.ErrorIs(t, r.Outcomes[1].Err, errs.ErrAuthFailed)
			assert.ErrorIs(t, r.Outcomes[2].Err, errs.ErrInternal)
			assert.Equal(t, "internal error", r.Outcomes[2].Message)
			assert.Equal(t, 1, r.Successful)
			assert.Equal(t, 2, r.Failed)
			assert.Equal(t, 2, r.ByKind[credential.KindBot])
			assert.Equal(t, 1, r.ByKind[credential.KindUser])
		})
	}
}

func TestBatch_SequentialKeepsOrderAndPacing(t *testing.T) {
	starter := &fakeStarter{}
	o := NewOrchestrator(starter, BatchPolicy{Mode: Sequential, Delay: 20 * time.Millisecond}, zaptest.NewLogger(t))

	begin := time.Now()
	r := o.Run(context.Background(), items(botToken, secondToken, botToken+"x"))

	assert.Equal(t, []string{botToken, secondToken, botToken + "x"}, starter.called())
	assert.GreaterOrEqual(t, time.Since(begin), 40*time.Millisecond)
	assert.Equal(t, int32(1), starter.peak.Load())
	assert.Equal(t, 3, r.Successful)
}

func TestBatch_ParallelRespectsLimit(t *testing.T) {
	starter := &fakeStarter{hold: 20 * time.Millisecond}
	o := NewOrchestrator(starter, BatchPolicy{Mode: Parallel, Parallelism: 2}, zaptest.NewLogger(t))

	toks := []string{botToken, secondToken, botToken + "a", botToken + "b", botToken + "c"}
	r := o.Run(context.Background(), items(toks...))

	assert.Equal(t, 5, r.Successful)
	assert.LessOrEqual(t, starter.peak.Load(), int32(2))
	assert.ElementsMatch(t, toks, starter.called())
}

func TestBatch_MaxItems(t *testing.T) {
	starter := &fakeStarter{}
	o := NewOrchestrator(starter, BatchPolicy{MaxItems: 2}, zaptest.NewLogger(t))

	r := o.Run(context.Background(), items(botToken, secondToken, botToken+"z"))

	require.Len(t, r.Outcomes, 3)
	assert.Equal(t, 2, r.Successful)
	assert.ErrorIs(t, r.Outcomes[2].Err, errs.ErrBatchLimit)
	assert.Len(t, starter.called(), 2)
}

func TestBatch_CancelledContext(t *testing.T) {
	starter := &fakeStarter{}
	o := NewOrchestrator(starter, BatchPolicy{Mode: Sequential, Delay: time.Hour}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := o.Run(ctx, items(botToken, secondToken))

	assert.Equal(t, 2, r.Failed)
	assert.Empty(t, starter.called())
	assert.True(t, errors.Is(r.Outcomes[0].Err, context.Canceled))
}

func TestBatch_AgainstSupervisor(t *testing.T) {
	sv, world, _ := newFixture(t, testPolicy())
	o := NewOrchestrator(sv, BatchPolicy{Mode: Parallel}, zaptest.NewLogger(t))

	r := o.Run(context.Background(), []Item{
		{Credential: botToken, ChannelID: voiceID},
		{Credential: secondToken, ChannelID: textID},
		{Credential: userToken, ChannelID: voiceID},
	})

	assert.Equal(t, 1, r.Successful)
	assert.Equal(t, 2, r.Failed)
	assert.True(t, r.Outcomes[0].Connected)
	assert.ErrorIs(t, r.Outcomes[1].Err, errs.ErrNotVoiceChannel)
	assert.ErrorIs(t, r.Outcomes[2].Err, errs.ErrUnsupportedCredential)
	assert.Equal(t, 1, world.LiveLinks(botUserID))
	assert.Equal(t, 1, sv.Len())
}
