package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/voice-supervisor/internal/credential"
	"github.com/psds-microservice/voice-supervisor/internal/errs"
	"github.com/psds-microservice/voice-supervisor/internal/gateway"
	"go.uber.org/zap"
)

// Session supervises one (credential, channel) voice presence.
//
// Every state change happens under mu. epoch is bumped when the session ends; an
// operation that started under an older epoch discards its result.
type Session struct {
	sv        *Supervisor
	id        string
	token     string
	key       string
	masked    string
	kind      credential.Kind
	channelID string
	createdAt time.Time
	log       *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	signals chan gateway.ConnState
	done    chan struct{} // closed once finish has released everything

	mu             sync.Mutex
	state          State
	epoch          uint64
	guildID        string
	identity       gateway.Identity
	conn           gateway.Conn
	link           gateway.Link
	unnotify       func()
	leased         bool
	lastVerifiedAt time.Time
	attempts       int
	failure        error
}

// resources are detached from a session under its lock and released outside it.
type resources struct {
	link     gateway.Link
	conn     gateway.Conn
	unnotify func()
	leased   bool
}

func newSession(sv *Supervisor, token, channelID string, kind credential.Kind) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		sv:        sv,
		id:        uuid.New().String(),
		token:     token,
		key:       credential.Fingerprint(token),
		masked:    credential.Mask(token),
		kind:      kind,
		channelID: channelID,
		createdAt: sv.now(),
		ctx:       ctx,
		cancel:    cancel,
		signals:   make(chan gateway.ConnState, 1),
		done:      make(chan struct{}),
	}
	s.log = sv.log.With(
		zap.String("session_id", s.id),
		zap.String("token", s.masked),
		zap.String("channel_id", channelID),
	)
	s.mu.Lock()
	s.transitionLocked(StateConnecting, "start requested")
	s.mu.Unlock()
	return s
}

// transitionLocked applies a table-checked move and notifies observers.
func (s *Session) transitionLocked(to State, reason string) bool {
	from := s.state
	if !canTransition(from, to) {
		s.log.Error("refusing state change",
			zap.Error(ErrInvalidTransition),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return false
	}
	s.state = to
	observeTransition(from, to)
	t := Transition{
		SessionID:   s.id,
		Credential:  s.masked,
		Fingerprint: s.key,
		Kind:        s.kind,
		ChannelID:   s.channelID,
		GuildID:     s.guildID,
		From:        from,
		To:          to,
		Attempt:     s.attempts,
		Reason:      reason,
		At:          s.sv.now(),
	}
	for _, o := range s.sv.observers {
		o.SessionTransition(t)
	}
	s.log.Info("session state changed",
		zap.String("from", string(from)),
		zap.String("state", string(to)),
		zap.Int("attempt", s.attempts),
		zap.String("reason", reason))
	return true
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:             s.id,
		Credential:     s.masked,
		Kind:           s.kind,
		ChannelID:      s.channelID,
		GuildID:        s.guildID,
		State:          s.state,
		UserID:         s.identity.UserID,
		Username:       s.identity.Username,
		Attempts:       s.attempts,
		Epoch:          s.epoch,
		CreatedAt:      s.createdAt,
		LastVerifiedAt: s.lastVerifiedAt,
	}
	if s.failure != nil {
		snap.Failure = s.failure.Error()
	}
	return snap
}

// Snapshot returns a copy of the session's current view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// own stores a freshly acquired resource if the session is still on epoch.
func (s *Session) own(epoch uint64, set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.state == StateTerminated {
		return false
	}
	set()
	return true
}

// endLocked moves the session to Terminated (through Expired when expire is set) and
// detaches its resources. It returns false when the session had already ended.
func (s *Session) endLocked(cause error, expire bool) (resources, bool) {
	if s.state == StateTerminated {
		return resources{}, false
	}
	s.epoch++
	s.failure = cause
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if expire {
		s.transitionLocked(StateExpired, reason)
	}
	s.transitionLocked(StateTerminated, reason)
	res := resources{link: s.link, conn: s.conn, unnotify: s.unnotify, leased: s.leased}
	s.link, s.conn, s.unnotify, s.leased = nil, nil, nil, false
	return res, true
}

// finish releases detached resources and removes the session from the registry.
func (s *Session) finish(res resources) {
	s.cancel()
	if res.unnotify != nil {
		res.unnotify()
	}
	if res.link != nil {
		if err := res.link.Close(); err != nil {
			s.log.Warn("close voice link", zap.Error(err))
		}
	}
	if res.conn != nil {
		if err := res.conn.Close(); err != nil {
			s.log.Warn("close gateway connection", zap.Error(err))
		}
	}
	if res.leased {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.sv.lease.Release(ctx, s.key); err != nil {
			s.log.Warn("release lease", zap.Error(err))
		}
		cancel()
	}
	s.sv.forget(s)
	close(s.done)
}

// wait blocks until the session has released its link, connection and lease.
func (s *Session) wait(ctx context.Context, limit time.Duration) error {
	t := time.NewTimer(limit)
	defer t.Stop()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for session %s: %w", s.id, ctx.Err())
	case <-t.C:
		return fmt.Errorf("session %s still releasing after %s: %w", s.id, limit, context.DeadlineExceeded)
	}
}

// terminate ends the session from any state. Safe to call more than once.
func (s *Session) terminate(cause error, expire bool) bool {
	s.mu.Lock()
	res, ok := s.endLocked(cause, expire)
	s.mu.Unlock()
	if ok {
		s.finish(res)
	}
	return ok
}

// failIfCurrent terminates the session unless it already moved past epoch.
func (s *Session) failIfCurrent(epoch uint64, cause error) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	res, ok := s.endLocked(cause, false)
	s.mu.Unlock()
	if ok {
		s.finish(res)
	}
}

// opContext bounds one gateway call by the connect timeout and the session lifetime.
func (s *Session) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, s.sv.policy.ConnectTimeout)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// connect runs the Connecting phase. On success the session is Active and its actor
// goroutine is running.
func (s *Session) connect(parent context.Context) (Snapshot, error) {
	ctx, cancel := s.opContext(parent)
	defer cancel()

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	fail := func(err error) (Snapshot, error) {
		s.failIfCurrent(epoch, err)
		return s.Snapshot(), err
	}

	ok, err := s.sv.lease.Acquire(ctx, s.key)
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(errs.ErrLeaseHeld)
	}
	if !s.own(epoch, func() { s.leased = true }) {
		_ = s.sv.lease.Release(context.Background(), s.key)
		return s.Snapshot(), errs.ErrStopped
	}

	conn, err := s.sv.dialer.Authenticate(ctx, s.token, s.kind)
	if err != nil {
		return fail(err)
	}
	if !s.own(epoch, func() { s.conn = conn; s.identity = conn.Identity() }) {
		_ = conn.Close()
		return s.Snapshot(), errs.ErrStopped
	}

	ch, err := s.resolve(ctx, conn)
	if err != nil {
		return fail(err)
	}
	link, err := conn.JoinVoice(ctx, ch)
	if err != nil {
		return fail(err)
	}

	s.mu.Lock()
	if s.epoch != epoch || s.state != StateConnecting {
		s.mu.Unlock()
		_ = link.Close()
		return s.Snapshot(), errs.ErrStopped
	}
	s.guildID = ch.GuildID
	s.link = link
	s.attempts = 0
	s.lastVerifiedAt = s.sv.now()
	s.transitionLocked(StateActive, "joined "+ch.Name)
	snap := s.snapshotLocked()
	s.unnotify = conn.Notify(s.signal)
	s.sv.wg.Add(1)
	s.mu.Unlock()

	go s.run()
	return snap, nil
}

// resolve fetches the target and checks it is a joinable voice channel.
func (s *Session) resolve(ctx context.Context, conn gateway.Conn) (gateway.Channel, error) {
	ch, err := conn.FetchChannel(ctx, s.channelID)
	if err != nil {
		return gateway.Channel{}, err
	}
	if !ch.Voice {
		return gateway.Channel{}, fmt.Errorf("channel %s: %w", s.channelID, errs.ErrNotVoiceChannel)
	}
	allowed, err := conn.CanConnect(ctx, ch)
	switch {
	case err != nil:
		s.log.Debug("connect permission not obtainable", zap.Error(err))
	case !allowed:
		return gateway.Channel{}, fmt.Errorf("connect to %s: %w", s.channelID, errs.ErrPermissionDenied)
	}
	return ch, nil
}

// signal is the gateway notification hook; the latest signal wins.
func (s *Session) signal(st gateway.ConnState) {
	select {
	case s.signals <- st:
	default:
		select {
		case <-s.signals:
		default:
		}
		select {
		case s.signals <- st:
		default:
		}
	}
}

// run is the session actor: it alone drives liveness checks and reconnects.
func (s *Session) run() {
	defer s.sv.wg.Done()

	var tick <-chan time.Time
	if s.sv.policy.Mode != ModeEvent {
		t := time.NewTicker(s.sv.policy.LivenessInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		var reconnect bool
		select {
		case <-s.ctx.Done():
			return
		case <-tick:
			reconnect = s.check()
		case st := <-s.signals:
			reconnect = s.onSignal(st)
		}
		if reconnect {
			s.reconnect()
		}
	}
}

func (s *Session) onSignal(st gateway.ConnState) bool {
	if s.sv.policy.Mode == ModePoll {
		return false
	}
	switch st {
	case gateway.StateDisconnected:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateActive && s.state != StateDegraded {
			return false
		}
		return s.beginReconnectLocked("gateway reported disconnect")
	case gateway.StateConnected:
		return s.check()
	}
	return false
}

// check verifies presence against the guild voice roster, which is authoritative
// regardless of what the gateway connection reports.
func (s *Session) check() bool {
	s.mu.Lock()
	if s.state != StateActive && s.state != StateDegraded {
		s.mu.Unlock()
		return false
	}
	epoch, conn, guildID, userID := s.epoch, s.conn, s.guildID, s.identity.UserID
	s.mu.Unlock()

	ctx, cancel := s.opContext(s.ctx)
	roster, err := conn.VoiceRoster(ctx, guildID)
	cancel()

	s.mu.Lock()
	if s.epoch != epoch || (s.state != StateActive && s.state != StateDegraded) {
		s.mu.Unlock()
		return false
	}
	switch {
	case err != nil && s.state == StateActive:
		s.transitionLocked(StateDegraded, "liveness check failed: "+err.Error())
		s.mu.Unlock()
		return false
	case err != nil:
		reconnect := s.beginReconnectLocked("liveness check failed again: " + err.Error())
		s.mu.Unlock()
		return reconnect
	case !roster.In(userID, s.channelID):
		reconnect := s.beginReconnectLocked("presence not confirmed")
		s.mu.Unlock()
		return reconnect
	}
	s.lastVerifiedAt = s.sv.now()
	if s.state == StateDegraded {
		s.transitionLocked(StateActive, "presence confirmed")
	}
	s.mu.Unlock()

	s.keepLease(epoch)
	return false
}

// keepLease refreshes the lease if the session holds one. A lost lease ends the
// session and false is returned.
func (s *Session) keepLease(epoch uint64) bool {
	s.mu.Lock()
	leased := s.leased && s.epoch == epoch
	s.mu.Unlock()
	if !leased {
		return true
	}
	ctx, cancel := s.opContext(s.ctx)
	err := s.sv.lease.Refresh(ctx, s.key)
	cancel()
	switch {
	case errors.Is(err, errs.ErrLeaseLost):
		s.failIfCurrent(epoch, err)
		return false
	case err != nil:
		s.log.Warn("refresh lease", zap.Error(err))
	}
	return true
}

func (s *Session) beginReconnectLocked(reason string) bool {
	s.attempts++
	return s.transitionLocked(StateReconnecting, reason)
}

// reconnect retries the voice join with bounded exponential backoff.
func (s *Session) reconnect() {
	b := s.sv.policy.Backoff
	for {
		s.mu.Lock()
		if s.state != StateReconnecting {
			s.mu.Unlock()
			return
		}
		epoch, attempt, conn := s.epoch, s.attempts, s.conn
		old := s.link
		s.link = nil
		s.mu.Unlock()

		// the previous handle never survives a move out of Active/Degraded
		if old != nil {
			_ = old.Close()
		}

		// nobody else may take the credential while we rejoin
		if !s.keepLease(epoch) {
			return
		}
		link, err := s.rejoin(conn)
		if err == nil && !s.keepLease(epoch) {
			_ = link.Close()
			return
		}

		s.mu.Lock()
		if s.epoch != epoch || s.state != StateReconnecting {
			s.mu.Unlock()
			if link != nil {
				_ = link.Close()
			}
			s.log.Debug("discarding stale rejoin result", zap.Uint64("epoch", epoch))
			return
		}
		if err == nil {
			reconnectAttempts.WithLabelValues("success").Inc()
			s.link = link
			s.attempts = 0
			s.lastVerifiedAt = s.sv.now()
			s.transitionLocked(StateActive, "rejoined")
			s.mu.Unlock()
			return
		}
		reconnectAttempts.WithLabelValues("failure").Inc()
		var cause error
		switch {
		case errs.IsPermanent(err):
			cause = err
		case attempt >= b.MaxAttempts:
			cause = fmt.Errorf("%w after %d attempts: %v", errs.ErrRetriesExhausted, attempt, err)
		}
		if cause != nil {
			res, ok := s.endLocked(cause, false)
			s.mu.Unlock()
			if ok {
				s.finish(res)
			}
			return
		}
		s.attempts++
		s.mu.Unlock()

		delay := b.Delay(attempt)
		s.log.Warn("rejoin failed", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("retry_in", delay))
		if !s.sleep(delay, epoch) {
			return
		}
	}
}

func (s *Session) rejoin(conn gateway.Conn) (gateway.Link, error) {
	ctx, cancel := s.opContext(s.ctx)
	defer cancel()
	ch, err := s.resolve(ctx, conn)
	if err != nil {
		return nil, err
	}
	return conn.JoinVoice(ctx, ch)
}

// sleep waits out a backoff delay, refreshing the lease every liveness interval.
func (s *Session) sleep(d time.Duration, epoch uint64) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	refresh := time.NewTicker(s.sv.policy.LivenessInterval)
	defer refresh.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return false
		case <-t.C:
			return true
		case <-refresh.C:
			if !s.keepLease(epoch) {
				return false
			}
		}
	}
}

// reusable reports whether a start for channelID can be answered by this session
// without touching the gateway.
func (s *Session) reusable(channelID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channelID != channelID {
		return Snapshot{}, false
	}
	switch s.state {
	case StateActive:
		if s.link == nil || !s.link.Usable() || s.link.ChannelID() != channelID {
			return Snapshot{}, false
		}
	case StateDegraded, StateReconnecting:
	default:
		return Snapshot{}, false
	}
	return s.snapshotLocked(), true
}
