// Package supervisor keeps voice-channel presences alive: one session per credential,
// each connecting, verifying its presence on an interval and rejoining with bounded
// backoff when the presence is lost.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/psds-microservice/voice-supervisor/internal/credential"
	"github.com/psds-microservice/voice-supervisor/internal/errs"
	"github.com/psds-microservice/voice-supervisor/internal/gateway"
	"github.com/psds-microservice/voice-supervisor/internal/lease"
	"go.uber.org/zap"
)

// Supervisor owns the session registry, the only shared mutable state.
type Supervisor struct {
	dialer    gateway.Dialer
	lease     lease.Lease
	policy    Policy
	observers []Observer
	log       *zap.Logger
	now       func() time.Time

	keys keyedMutex

	mu       sync.Mutex
	sessions map[string]*Session // credential -> session
	closed   bool

	wg sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLease guards credentials across instances.
func WithLease(l lease.Lease) Option {
	return func(s *Supervisor) { s.lease = l }
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observers = append(s.observers, o) }
}

// WithClock overrides time.Now for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// New creates a supervisor. Zero policy fields take their defaults.
func New(dialer gateway.Dialer, policy Policy, log *zap.Logger, opts ...Option) *Supervisor {
	ensureMetrics()
	sv := &Supervisor{
		dialer:   dialer,
		lease:    lease.Local{},
		policy:   policy.withDefaults(),
		log:      log.Named("supervisor"),
		now:      time.Now,
		keys:     keyedMutex{locks: make(map[string]*refMutex)},
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(sv)
	}
	return sv
}

// Policy returns the effective policy.
func (sv *Supervisor) Policy() Policy { return sv.policy }

// Start supervises token in channelID. A live session for the same credential and
// channel is reused; any other session for the credential is torn down first.
func (sv *Supervisor) Start(ctx context.Context, token, channelID string) (out Outcome) {
	begin := time.Now()
	kind := credential.Classify(token)
	out = Outcome{Credential: credential.Mask(token), Kind: kind, ChannelID: channelID}
	defer func() {
		if r := recover(); r != nil {
			sv.log.Error("start panicked", zap.String("token", out.Credential), zap.Any("panic", r))
			out = out.fail(fmt.Errorf("%w: %v", errs.ErrInternal, r))
		}
		observeOutcome(out, time.Since(begin))
	}()

	unlock := sv.keys.Lock(token)
	defer unlock()

	if existing := sv.lookup(token); existing != nil {
		if snap, ok := existing.reusable(channelID); ok {
			sv.log.Debug("session already supervised", zap.String("session_id", snap.ID), zap.String("state", string(snap.State)))
			return out.succeed(snap)
		}
		existing.terminate(fmt.Errorf("%w: replaced by a new start", errs.ErrStopped), false)
		// Stop, Sweep or the actor may still be closing it without the key lock
		if err := existing.wait(ctx, sv.policy.ConnectTimeout); err != nil {
			return out.fail(err)
		}
	}

	if kind != credential.KindBot {
		return out.fail(errs.ErrUnsupportedCredential)
	}

	s := newSession(sv, token, channelID, kind)
	if err := sv.insert(token, s); err != nil {
		s.terminate(err, false)
		return out.fail(err)
	}
	snap, err := s.connect(ctx)
	if err != nil {
		out.SessionID = snap.ID
		out.State = snap.State
		return out.fail(err)
	}
	return out.succeed(snap)
}

// Stop terminates the session of token. It never waits for in-flight gateway calls;
// their results are discarded. A concurrent Start for the same credential waits until
// the session has released its resources.
func (sv *Supervisor) Stop(token string) error {
	s := sv.lookup(token)
	if s == nil {
		return errs.ErrSessionNotFound
	}
	s.terminate(errs.ErrStopped, false)
	return nil
}

// StopByID terminates a session by its id.
func (sv *Supervisor) StopByID(id string) error {
	s := sv.byID(id)
	if s == nil {
		return errs.ErrSessionNotFound
	}
	s.terminate(errs.ErrStopped, false)
	return nil
}

// Get returns the session snapshot for id.
func (sv *Supervisor) Get(id string) (Snapshot, error) {
	s := sv.byID(id)
	if s == nil {
		return Snapshot{}, errs.ErrSessionNotFound
	}
	return s.Snapshot(), nil
}

// List returns snapshots of all registered sessions, oldest first.
func (sv *Supervisor) List() []Snapshot {
	sessions := sv.all()
	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len is the number of registered sessions.
func (sv *Supervisor) Len() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.sessions)
}

// Sweep expires every session older than the policy's max lifetime, whatever its
// state, and returns how many were expired.
func (sv *Supervisor) Sweep(now time.Time) int {
	if sv.policy.MaxLifetime <= 0 {
		return 0
	}
	n := 0
	for _, s := range sv.all() {
		if now.Sub(s.createdAt) < sv.policy.MaxLifetime {
			continue
		}
		if s.terminate(errs.ErrExpired, true) {
			n++
		}
	}
	if n > 0 {
		sv.log.Info("expired sessions", zap.Int("count", n))
	}
	return n
}

// RunSweeper calls Sweep every SweepInterval until ctx is done.
func (sv *Supervisor) RunSweeper(ctx context.Context) {
	t := time.NewTicker(sv.policy.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sv.Sweep(sv.now())
		}
	}
}

// Shutdown refuses new sessions, terminates all sessions and waits for their actors.
func (sv *Supervisor) Shutdown(ctx context.Context) error {
	sv.mu.Lock()
	sv.closed = true
	sv.mu.Unlock()

	for _, s := range sv.all() {
		s.terminate(errs.ErrShutdown, false)
	}

	done := make(chan struct{})
	go func() {
		sv.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor shutdown: %w", ctx.Err())
	}
}

// Closed reports whether Shutdown was called.
func (sv *Supervisor) Closed() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.closed
}

func (sv *Supervisor) lookup(token string) *Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.sessions[token]
}

func (sv *Supervisor) byID(id string) *Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	for _, s := range sv.sessions {
		if s.id == id {
			return s
		}
	}
	return nil
}

func (sv *Supervisor) all() []*Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		out = append(out, s)
	}
	return out
}

func (sv *Supervisor) insert(token string, s *Session) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.closed {
		return errs.ErrShutdown
	}
	if old, ok := sv.sessions[token]; ok && old != s {
		// callers hold the credential's key lock and waited for the old session to finish
		return fmt.Errorf("registry already holds session %s for this credential", old.id)
	}
	sv.sessions[token] = s
	return nil
}

// forget removes s only if it is still the registered session for its credential.
func (sv *Supervisor) forget(s *Session) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if cur, ok := sv.sessions[s.token]; ok && cur == s {
		delete(sv.sessions, s.token)
	}
}

// keyedMutex serialises starts per credential while letting different credentials
// proceed concurrently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
