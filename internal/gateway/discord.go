package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/psds-microservice/voice-supervisor/internal/credential"
	"github.com/psds-microservice/voice-supervisor/internal/errs"
	"go.uber.org/zap"
)

// closeAuthenticationFailed is the gateway close code for a rejected token.
const closeAuthenticationFailed = 4004

// DiscordOptions tunes the voice presence requested on join.
type DiscordOptions struct {
	SelfMute bool
	SelfDeaf bool
}

// DiscordDialer authenticates bot credentials with discordgo.
type DiscordDialer struct {
	opts DiscordOptions
	log  *zap.Logger
}

var routeLoggerOnce sync.Once

// NewDiscordDialer creates a dialer; discordgo's package logger is routed to log.
func NewDiscordDialer(opts DiscordOptions, log *zap.Logger) *DiscordDialer {
	routeLoggerOnce.Do(func() {
		l := log.Named("discordgo").WithOptions(zap.AddCallerSkip(1))
		discordgo.Logger = func(msgL, _ int, format string, a ...interface{}) {
			msg := fmt.Sprintf(format, a...)
			switch msgL {
			case discordgo.LogError:
				l.Error(msg)
			case discordgo.LogWarning:
				l.Warn(msg)
			case discordgo.LogInformational:
				l.Info(msg)
			default:
				l.Debug(msg)
			}
		}
	})
	return &DiscordDialer{opts: opts, log: log}
}

// Authenticate validates the credential over REST, then opens the gateway.
func (d *DiscordDialer) Authenticate(ctx context.Context, token string, kind credential.Kind) (Conn, error) {
	if kind != credential.KindBot {
		return nil, errs.ErrUnsupportedCredential
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	s.ShouldReconnectOnError = true
	s.LogLevel = discordgo.LogWarning

	me, err := s.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyREST("validate credential", err)
	}

	opened := make(chan error, 1)
	go func() { opened <- s.Open() }()
	select {
	case err := <-opened:
		if err != nil {
			_ = s.Close()
			return nil, classifyOpen(err)
		}
	case <-ctx.Done():
		go func() {
			<-opened
			_ = s.Close()
		}()
		return nil, fmt.Errorf("open gateway: %w", ctx.Err())
	}

	d.log.Debug("gateway opened", zap.String("user_id", me.ID), zap.String("username", me.String()))
	return &discordConn{
		s:    s,
		id:   Identity{UserID: me.ID, Username: me.String()},
		opts: d.opts,
	}, nil
}

func classifyREST(op string, err error) error {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", op, errs.ErrAuthFailed)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w", op, errs.ErrPermissionDenied)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, errs.ErrChannelNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func classifyOpen(err error) error {
	var cerr *websocket.CloseError
	if errors.As(err, &cerr) && cerr.Code == closeAuthenticationFailed {
		return fmt.Errorf("open gateway: %w", errs.ErrAuthFailed)
	}
	return fmt.Errorf("open gateway: %w", err)
}

type discordConn struct {
	s    *discordgo.Session
	id   Identity
	opts DiscordOptions
}

func (c *discordConn) Identity() Identity { return c.id }

func (c *discordConn) FetchChannel(ctx context.Context, channelID string) (Channel, error) {
	ch, err := c.s.State.Channel(channelID)
	if err != nil {
		ch, err = c.s.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			return Channel{}, classifyREST("fetch channel", err)
		}
	}
	voice := ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice
	return Channel{
		ID:      ch.ID,
		GuildID: ch.GuildID,
		Name:    ch.Name,
		Voice:   voice && ch.GuildID != "",
	}, nil
}

func (c *discordConn) CanConnect(_ context.Context, ch Channel) (bool, error) {
	perms, err := c.s.State.UserChannelPermissions(c.id.UserID, ch.ID)
	if err != nil {
		return false, err
	}
	return perms&discordgo.PermissionVoiceConnect != 0, nil
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// JoinVoice returns once the voice connection is ready or ctx ends. A join that
// finishes after ctx ended is disconnected right away.
func (c *discordConn) JoinVoice(ctx context.Context, ch Channel) (Link, error) {
	done := make(chan joinResult, 1)
	go func() {
		vc, err := c.s.ChannelVoiceJoin(ch.GuildID, ch.ID, c.opts.SelfMute, c.opts.SelfDeaf)
		done <- joinResult{vc: vc, err: err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			if r.vc != nil {
				_ = r.vc.Disconnect()
			}
			return nil, fmt.Errorf("join voice: %w", r.err)
		}
		return &discordLink{vc: r.vc}, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("join voice: %w", ctx.Err())
	}
}

// VoiceRoster reads the guild's voice states from the gateway cache, which is kept
// current by VOICE_STATE_UPDATE dispatches.
func (c *discordConn) VoiceRoster(_ context.Context, guildID string) (Roster, error) {
	g, err := c.s.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("voice roster: %w", err)
	}
	c.s.State.RLock()
	defer c.s.State.RUnlock()
	r := make(Roster, len(g.VoiceStates))
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != "" {
			r[vs.UserID] = vs.ChannelID
		}
	}
	return r, nil
}

func (c *discordConn) Notify(fn func(ConnState)) func() {
	removers := []func(){
		c.s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) { fn(StateDisconnected) }),
		c.s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Connect) { fn(StateConnected) }),
		c.s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) { fn(StateConnected) }),
	}
	return func() {
		for _, rm := range removers {
			rm()
		}
	}
}

func (c *discordConn) Close() error {
	return c.s.Close()
}

type discordLink struct {
	vc   *discordgo.VoiceConnection
	once sync.Once
	err  error
}

func (l *discordLink) ChannelID() string {
	l.vc.RLock()
	defer l.vc.RUnlock()
	return l.vc.ChannelID
}

func (l *discordLink) GuildID() string {
	l.vc.RLock()
	defer l.vc.RUnlock()
	return l.vc.GuildID
}

func (l *discordLink) Usable() bool {
	l.vc.RLock()
	defer l.vc.RUnlock()
	return l.vc.Ready
}

func (l *discordLink) Close() error {
	l.once.Do(func() { l.err = l.vc.Disconnect() })
	return l.err
}
