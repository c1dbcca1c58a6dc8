// Package app ties the session store, REST gateway and realtime session into the
// client's user-facing flows.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
	"github.com/zhouzirui/realtime-chat/client/internal/model/profile"
	"github.com/zhouzirui/realtime-chat/client/internal/service/realtime"
	"github.com/zhouzirui/realtime-chat/client/internal/session"
)

// ErrNotLoggedIn is returned by operations that need a stored session.
var ErrNotLoggedIn = errors.New("not logged in")

// Gateway is the REST surface the app drives.
type Gateway interface {
	Login(ctx context.Context, username, password string) (chat.Session, error)
	Register(ctx context.Context, username, password string) error
	FetchOnlineUsers(ctx context.Context) ([]chat.OnlineUser, error)
	GetProfile(ctx context.Context, token string) (profile.Profile, error)
	UpdateProfile(ctx context.Context, token string, req profile.UpdateRequest) (profile.Profile, error)
	ChangePassword(ctx context.Context, token, current, next string) error
	UploadAvatar(ctx context.Context, token, filename string, r io.Reader) (string, error)
	FetchUserProfile(ctx context.Context, username string) (profile.Profile, error)
}

// Realtime is the live connection the app opens and closes.
type Realtime interface {
	Connect(ctx context.Context, sess chat.Session) error
	Disconnect()
	Send(content string) error
	Input()
	State() realtime.State
	Typing() *realtime.Typing
}

// Clearer is a view that can be emptied.
type Clearer interface {
	Clear()
}

// Hider is a view that can be hidden.
type Hider interface {
	Hide()
}

// Options wires an App.
type Options struct {
	Store     session.Store
	Gateway   Gateway
	Realtime  Realtime
	Feed      Clearer
	Roster    Clearer
	Indicator Hider
	Logger    zerolog.Logger
}

// App is the client controller. Its methods are safe to call from one input loop.
type App struct {
	store     session.Store
	gateway   Gateway
	rt        Realtime
	feed      Clearer
	roster    Clearer
	indicator Hider
	log       zerolog.Logger
}

// New validates opts.
func New(opts Options) (*App, error) {
	if opts.Store == nil || opts.Gateway == nil || opts.Realtime == nil {
		return nil, errors.New("app: store, gateway and realtime are required")
	}
	return &App{
		store:     opts.Store,
		gateway:   opts.Gateway,
		rt:        opts.Realtime,
		feed:      opts.Feed,
		roster:    opts.Roster,
		indicator: opts.Indicator,
		log:       opts.Logger,
	}, nil
}

// Session returns the stored session, if any.
func (a *App) Session() (chat.Session, bool, error) {
	return a.store.Load()
}

// Resume connects with a stored session. It reports whether one was found.
func (a *App) Resume(ctx context.Context) (chat.Session, bool, error) {
	sess, ok, err := a.store.Load()
	if err != nil {
		return chat.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return chat.Session{}, false, nil
	}
	if err := a.rt.Connect(ctx, sess); err != nil {
		return sess, true, err
	}
	a.log.Info().Str("user", sess.Username).Msg("[app] resumed stored session")
	return sess, true, nil
}

// Login authenticates, persists the session, then opens exactly one connection.
func (a *App) Login(ctx context.Context, username, password string) (chat.Session, error) {
	sess, err := a.gateway.Login(ctx, strings.TrimSpace(username), password)
	if err != nil {
		return chat.Session{}, err
	}
	if err := a.store.Save(sess); err != nil {
		return chat.Session{}, fmt.Errorf("save session: %w", err)
	}

	if a.rt.State() != realtime.StateClosed {
		a.rt.Disconnect()
	}
	if err := a.rt.Connect(ctx, sess); err != nil {
		return sess, err
	}
	a.log.Info().Str("user", sess.Username).Msg("[app] logged in")
	return sess, nil
}

// Register creates an account. The caller logs in separately.
func (a *App) Register(ctx context.Context, username, password string) error {
	return a.gateway.Register(ctx, strings.TrimSpace(username), password)
}

// Logout closes the connection, resets typing, empties the views and forgets the session.
func (a *App) Logout() error {
	a.rt.Disconnect()
	a.rt.Typing().Reset()
	if a.feed != nil {
		a.feed.Clear()
	}
	if a.roster != nil {
		a.roster.Clear()
	}
	if a.indicator != nil {
		a.indicator.Hide()
	}
	if err := a.store.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	a.log.Info().Msg("[app] logged out")
	return nil
}

// Send transmits a chat line.
func (a *App) Send(content string) error {
	return a.rt.Send(content)
}

// Input records a keystroke for typing presence.
func (a *App) Input() {
	a.rt.Input()
}

// Users fetches the current presence snapshot.
func (a *App) Users(ctx context.Context) ([]chat.OnlineUser, error) {
	return a.gateway.FetchOnlineUsers(ctx)
}

func (a *App) token() (string, error) {
	sess, ok, err := a.store.Load()
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if !ok || !sess.HasToken() {
		return "", ErrNotLoggedIn
	}
	return sess.Token, nil
}

// Profile returns the logged-in user's profile.
func (a *App) Profile(ctx context.Context) (profile.Profile, error) {
	token, err := a.token()
	if err != nil {
		return profile.Profile{}, err
	}
	return a.gateway.GetProfile(ctx, token)
}

// UpdateProfile changes nickname and bio. Empty fields are left unchanged.
func (a *App) UpdateProfile(ctx context.Context, req profile.UpdateRequest) (profile.Profile, error) {
	token, err := a.token()
	if err != nil {
		return profile.Profile{}, err
	}
	return a.gateway.UpdateProfile(ctx, token, req)
}

// ChangePassword replaces the logged-in user's password.
func (a *App) ChangePassword(ctx context.Context, current, next string) error {
	token, err := a.token()
	if err != nil {
		return err
	}
	return a.gateway.ChangePassword(ctx, token, current, next)
}

// UploadAvatar sends the image at path and returns its new URL.
func (a *App) UploadAvatar(ctx context.Context, path string) (string, error) {
	token, err := a.token()
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open avatar: %w", err)
	}
	defer f.Close()
	return a.gateway.UploadAvatar(ctx, token, filepath.Base(path), f)
}

// UserProfile returns another user's public profile.
func (a *App) UserProfile(ctx context.Context, username string) (profile.Profile, error) {
	return a.gateway.FetchUserProfile(ctx, strings.TrimSpace(username))
}
