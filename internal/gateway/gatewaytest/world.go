// Package gatewaytest provides an in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/psds-microservice/voice-supervisor/internal/credential"
	"github.com/psds-microservice/voice-supervisor/internal/errs"
	"github.com/psds-microservice/voice-supervisor/internal/gateway"
)

// JoinFunc runs before a join is applied. A non-nil error fails the join.
type JoinFunc func(ctx context.Context, userID string, ch gateway.Channel) error

// World is a fake gateway shared by every connection it hands out. It implements
// gateway.Dialer.
type World struct {
	mu        sync.Mutex
	accounts  map[string]gateway.Identity
	channels  map[string]gateway.Channel
	rosters   map[string]gateway.Roster
	denied    map[string]bool
	joins     map[string]int
	live      map[string]int
	maxLive   map[string]int
	auths     map[string]int
	conns     []*Conn
	joinFn    JoinFunc
	closeFn   func()
	rosterErr error
}

func NewWorld() *World {
	return &World{
		accounts: make(map[string]gateway.Identity),
		channels: make(map[string]gateway.Channel),
		rosters:  make(map[string]gateway.Roster),
		denied:   make(map[string]bool),
		joins:    make(map[string]int),
		live:     make(map[string]int),
		maxLive:  make(map[string]int),
		auths:    make(map[string]int),
	}
}

// AddBot registers a credential that authenticates as userID.
func (w *World) AddBot(token, userID, username string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts[token] = gateway.Identity{UserID: userID, Username: username}
}

func (w *World) AddChannel(ch gateway.Channel) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.channels[ch.ID] = ch
}

// Deny removes the connect permission for userID on channelID.
func (w *World) Deny(userID, channelID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.denied[userID+":"+channelID] = true
}

func (w *World) SetJoinFunc(fn JoinFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.joinFn = fn
}

// SetCloseFunc runs fn at the start of every connection Close.
func (w *World) SetCloseFunc(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeFn = fn
}

func (w *World) SetRosterErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rosterErr = err
}

// Kick drops userID from the guild roster while its link stays open, the silent
// presence loss the supervisor has to detect.
func (w *World) Kick(guildID, userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.rosters[guildID], userID)
}

// Emit delivers a connection signal to every open connection of userID.
func (w *World) Emit(userID string, st gateway.ConnState) {
	w.mu.Lock()
	var handlers []func(gateway.ConnState)
	for _, c := range w.conns {
		if c.id.UserID == userID && !c.closed {
			for _, h := range c.handlers {
				handlers = append(handlers, h)
			}
		}
	}
	w.mu.Unlock()
	for _, h := range handlers {
		h(st)
	}
}

func (w *World) Joins(userID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.joins[userID]
}

// LiveLinks is the number of currently open links for userID.
func (w *World) LiveLinks(userID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.live[userID]
}

// MaxLiveLinks is the highest number of simultaneously open links seen for userID.
func (w *World) MaxLiveLinks(userID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxLive[userID]
}

func (w *World) Auths(token string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.auths[token]
}

// InRoster reports whether userID is present in channelID.
func (w *World) InRoster(guildID, userID, channelID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rosters[guildID].In(userID, channelID)
}

func (w *World) Authenticate(ctx context.Context, token string, kind credential.Kind) (gateway.Conn, error) {
	if kind != credential.KindBot {
		return nil, errs.ErrUnsupportedCredential
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.auths[token]++
	id, ok := w.accounts[token]
	if !ok {
		return nil, fmt.Errorf("validate credential: %w", errs.ErrAuthFailed)
	}
	c := &Conn{w: w, id: id, handlers: make(map[int]func(gateway.ConnState))}
	w.conns = append(w.conns, c)
	return c, nil
}

// Conn is a fake gateway connection.
type Conn struct {
	w        *World
	id       gateway.Identity
	handlers map[int]func(gateway.ConnState)
	nextID   int
	links    []*Link
	closed   bool
}

func (c *Conn) Identity() gateway.Identity { return c.id }

func (c *Conn) FetchChannel(_ context.Context, channelID string) (gateway.Channel, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	ch, ok := c.w.channels[channelID]
	if !ok {
		return gateway.Channel{}, fmt.Errorf("fetch channel %s: %w", channelID, errs.ErrChannelNotFound)
	}
	return ch, nil
}

func (c *Conn) CanConnect(_ context.Context, ch gateway.Channel) (bool, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	return !c.w.denied[c.id.UserID+":"+ch.ID], nil
}

func (c *Conn) JoinVoice(ctx context.Context, ch gateway.Channel) (gateway.Link, error) {
	c.w.mu.Lock()
	fn := c.w.joinFn
	c.w.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, c.id.UserID, ch); err != nil {
			return nil, fmt.Errorf("join voice: %w", err)
		}
	}

	w := c.w
	w.mu.Lock()
	defer w.mu.Unlock()
	w.joins[c.id.UserID]++
	w.live[c.id.UserID]++
	if w.live[c.id.UserID] > w.maxLive[c.id.UserID] {
		w.maxLive[c.id.UserID] = w.live[c.id.UserID]
	}
	if w.rosters[ch.GuildID] == nil {
		w.rosters[ch.GuildID] = make(gateway.Roster)
	}
	w.rosters[ch.GuildID][c.id.UserID] = ch.ID
	l := &Link{conn: c, channelID: ch.ID, guildID: ch.GuildID, usable: true}
	c.links = append(c.links, l)
	return l, nil
}

func (c *Conn) VoiceRoster(_ context.Context, guildID string) (gateway.Roster, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	if c.w.rosterErr != nil {
		return nil, c.w.rosterErr
	}
	out := make(gateway.Roster, len(c.w.rosters[guildID]))
	for u, ch := range c.w.rosters[guildID] {
		out[u] = ch
	}
	return out, nil
}

func (c *Conn) Notify(fn func(gateway.ConnState)) func() {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = fn
	return func() {
		c.w.mu.Lock()
		defer c.w.mu.Unlock()
		delete(c.handlers, id)
	}
}

func (c *Conn) Close() error {
	c.w.mu.Lock()
	fn := c.w.closeFn
	c.w.mu.Unlock()
	if fn != nil {
		fn()
	}

	c.w.mu.Lock()
	c.closed = true
	links := append([]*Link(nil), c.links...)
	c.w.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
	return nil
}

// Link is a fake voice connection handle.
type Link struct {
	conn      *Conn
	channelID string
	guildID   string
	usable    bool
	closed    bool
}

func (l *Link) ChannelID() string { return l.channelID }
func (l *Link) GuildID() string   { return l.guildID }

func (l *Link) Usable() bool {
	l.conn.w.mu.Lock()
	defer l.conn.w.mu.Unlock()
	return l.usable && !l.closed
}

func (l *Link) Close() error {
	w := l.conn.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	w.live[l.conn.id.UserID]--
	if w.rosters[l.guildID].In(l.conn.id.UserID, l.channelID) {
		delete(w.rosters[l.guildID], l.conn.id.UserID)
	}
	return nil
}
