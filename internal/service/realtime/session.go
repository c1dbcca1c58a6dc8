// Package realtime owns the live WebSocket connection to the chat server.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
)

// Status lines shown in the feed.
const (
	MsgConnected    = "Connected to chat server"
	MsgDisconnected = "Disconnected from chat server"
	MsgConnError    = "Connection error"
)

// State of the connection.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Feed receives chat lines.
type Feed interface {
	Render(msg chat.Message)
	RenderHistory(msgs []chat.Message)
	System(text string)
}

// Roster receives presence snapshots.
type Roster interface {
	Render(users []chat.OnlineUser)
}

// API is the REST surface fetched when a connection opens.
type API interface {
	FetchHistory(ctx context.Context, limit int) ([]chat.Message, error)
	FetchOnlineUsers(ctx context.Context) ([]chat.OnlineUser, error)
}

// Reconnect bounds automatic reconnection. MaxAttempts 0 disables it.
type Reconnect struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Options configures a Session.
type Options struct {
	BaseURL      string
	Dialer       Dialer
	API          API
	Feed         Feed
	Roster       Roster
	Indicator    Indicator
	Logger       zerolog.Logger
	HistoryLimit int
	Reconnect    Reconnect
	TypingDelay  time.Duration
	RequireToken bool
	Clock        Clock
}

// Session is the state machine around one WebSocket connection. All callbacks
// carry the generation they were started under and do nothing once it is stale.
type Session struct {
	opts   Options
	wsBase *url.URL
	log    zerolog.Logger
	typing *Typing

	mu         sync.Mutex
	state      State
	gen        uint64
	user       chat.Session
	conn       Conn
	lastErr    error
	userClosed bool
	attempt    int
	retry      Timer
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewSession validates opts and returns a closed session.
func NewSession(opts Options) (*Session, error) {
	base, err := websocketBase(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if opts.API == nil {
		return nil, errors.New("realtime: API is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWSDialer(nil)
	}
	if opts.Feed == nil {
		opts.Feed = nopFeed{}
	}
	if opts.Roster == nil {
		opts.Roster = nopRoster{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Reconnect.MaxAttempts > 0 && opts.Reconnect.Backoff <= 0 {
		opts.Reconnect.Backoff = time.Second
	}

	return &Session{
		opts:   opts,
		wsBase: base,
		log:    opts.Logger,
		typing: NewTyping(opts.Indicator, opts.TypingDelay, opts.Clock, opts.Logger),
	}, nil
}

// websocketBase maps http to ws and https to wss and appends /api/ws.
func websocketBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("realtime: invalid server url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("realtime: invalid server url %q: unsupported scheme", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("realtime: invalid server url %q: missing host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// Target returns the WebSocket URL used for sess.
func (s *Session) Target(sess chat.Session) string {
	u := *s.wsBase
	if sess.HasToken() {
		u.RawQuery = url.Values{"token": []string{sess.Token}}.Encode()
	}
	return u.String()
}

// Typing exposes the typing coordinator bound to this session.
func (s *Session) Typing() *Typing {
	return s.typing
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the transport error that ended the last connection, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// User returns the session the connection was opened for.
func (s *Session) User() chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Connect starts dialing for sess. It is only valid from StateClosed; the dial
// completes asynchronously. ctx bounds the connection's lifetime.
func (s *Session) Connect(ctx context.Context, sess chat.Session) error {
	if !sess.Valid() {
		return ErrNoSession
	}
	if s.opts.RequireToken && !sess.HasToken() {
		return ErrNoToken
	}

	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.user = sess
	s.userClosed = false
	s.attempt = 0
	s.lastErr = nil
	gen := s.beginDialLocked()
	connCtx, target := s.ctx, s.Target(sess)
	s.mu.Unlock()

	s.log.Info().Str("user", sess.Username).Str("target", s.wsBase.String()).Msg("[websocket] connecting")
	go s.dial(connCtx, gen, target)
	return nil
}

func (s *Session) beginDialLocked() uint64 {
	s.gen++
	s.state = StateConnecting
	return s.gen
}

func (s *Session) dial(ctx context.Context, gen uint64, target string) {
	conn, err := s.opts.Dialer.Dial(ctx, target)

	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("[websocket] dial failed")
		s.failLocked(&ConnectionError{Op: "dial", Err: err})
		s.mu.Unlock()
		return
	}

	s.conn = conn
	s.state = StateOpen
	s.attempt = 0
	s.typing.Bind(s.user.Username, s.sendTyping)
	s.opts.Feed.System(MsgConnected)
	s.log.Info().Str("user", s.user.Username).Msg("[websocket] connected")
	s.mu.Unlock()

	go s.loadHistory(ctx, gen)
	go s.loadOnlineUsers(ctx, gen)
	go s.readLoop(gen, conn)
}

func (s *Session) current(gen uint64) bool {
	return gen == s.gen && s.state == StateOpen
}

func (s *Session) loadHistory(ctx context.Context, gen uint64) {
	msgs, err := s.opts.API.FetchHistory(ctx, s.opts.HistoryLimit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(gen) {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("[websocket] error loading message history")
		return
	}
	s.opts.Feed.RenderHistory(msgs)
	s.log.Debug().Int("count", len(msgs)).Msg("[websocket] loaded message history")
}

func (s *Session) loadOnlineUsers(ctx context.Context, gen uint64) {
	users, err := s.opts.API.FetchOnlineUsers(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(gen) {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("[websocket] error loading online users")
		return
	}
	s.opts.Roster.Render(users)
}

func (s *Session) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}
		s.handleFrame(gen, data)
	}
}

func (s *Session) handleFrame(gen uint64, data []byte) {
	frame, err := chat.DecodeFrame(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(gen) {
		return
	}

	if err != nil {
		if !errors.Is(err, chat.ErrUnknownFrameType) {
			s.log.Warn().Err(&ProtocolError{Raw: data, Err: err}).Msg("[websocket] dropping frame")
			return
		}
		s.log.Warn().Err(err).Msg("[websocket] rendering unknown frame as chat")
	}

	switch frame.Kind {
	case chat.KindTypingStart, chat.KindTypingStop:
		s.typing.OnRemoteEvent(*frame.Typing)
	case chat.KindChat:
		s.opts.Feed.Render(*frame.Chat)
	}
}

func (s *Session) handleClose(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateOpen {
		return
	}

	if errors.Is(err, io.EOF) {
		s.log.Info().Msg("[websocket] closed by server")
		s.closeLocked()
	} else {
		s.log.Warn().Err(err).Msg("[websocket] read failed")
		s.failLocked(&ConnectionError{Op: "read", Err: err})
	}
}

// failLocked reports a transport error, then closes.
func (s *Session) failLocked(err error) {
	s.lastErr = err
	s.opts.Feed.System(MsgConnError)
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state = StateClosed
	s.typing.Unbind()
	s.opts.Feed.System(MsgDisconnected)
	s.scheduleReconnectLocked()
}

func (s *Session) scheduleReconnectLocked() {
	rc := s.opts.Reconnect
	if rc.MaxAttempts <= 0 || s.userClosed || !s.user.Valid() {
		return
	}
	if s.attempt >= rc.MaxAttempts {
		s.log.Warn().Int("attempts", s.attempt).Msg("[websocket] giving up reconnecting")
		s.opts.Feed.System(fmt.Sprintf("Reconnect failed after %d attempts", s.attempt))
		return
	}

	s.attempt++
	s.state = StateReconnecting
	delay := time.Duration(s.attempt) * rc.Backoff
	gen := s.gen
	s.opts.Feed.System(fmt.Sprintf("Reconnecting in %s (attempt %d/%d)", delay, s.attempt, rc.MaxAttempts))
	s.log.Info().Int("attempt", s.attempt).Dur("delay", delay).Msg("[websocket] scheduling reconnect")
	s.retry = s.opts.Clock.AfterFunc(delay, func() { s.reconnect(gen) })
}

func (s *Session) reconnect(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	next := s.beginDialLocked()
	ctx, target := s.ctx, s.Target(s.user)
	s.mu.Unlock()

	go s.dial(ctx, next, target)
}

// Attempt returns the number of reconnect attempts since the last successful open.
func (s *Session) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Disconnect closes the connection and cancels typing and any pending reconnect.
// Callbacks from the closed connection become no-ops.
func (s *Session) Disconnect() {
	s.mu.Lock()
	prev := s.state
	if prev == StateClosed && s.retry == nil && s.conn == nil {
		s.mu.Unlock()
		return
	}

	s.userClosed = true
	s.gen++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateClosed
	s.typing.Unbind()
	if prev == StateConnecting || prev == StateOpen {
		s.opts.Feed.System(MsgDisconnected)
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.log.Info().Str("from", prev.String()).Msg("[websocket] disconnected")
}

// Send transmits a chat line. Blank content is ignored; when the connection is not
// open nothing is sent and ErrNotOpen is returned. There is no local echo.
func (s *Session) Send(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	s.mu.Lock()
	if s.state != StateOpen || s.conn == nil {
		s.mu.Unlock()
		return ErrNotOpen
	}
	conn, user := s.conn, s.user.Username
	now := s.opts.Clock.Now()
	s.mu.Unlock()

	return s.write(conn, "send", chat.NewChatFrame(user, content, now))
}

// Input records a local keystroke for typing presence.
func (s *Session) Input() {
	s.typing.OnLocalInput()
}

func (s *Session) sendTyping(ev chat.TypingEvent) error {
	s.mu.Lock()
	if s.state != StateOpen || s.conn == nil || ev.Username != s.user.Username {
		s.mu.Unlock()
		return ErrNotOpen
	}
	conn := s.conn
	s.mu.Unlock()

	return s.write(conn, "typing", ev)
}

func (s *Session) write(conn Conn, op string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", op, err)
	}
	if err := conn.WriteMessage(payload); err != nil {
		return &ConnectionError{Op: op, Err: err}
	}
	return nil
}

type nopFeed struct{}

func (nopFeed) Render(chat.Message)          {}
func (nopFeed) RenderHistory([]chat.Message) {}
func (nopFeed) System(string)                {}

type nopRoster struct{}

func (nopRoster) Render([]chat.OnlineUser) {}
