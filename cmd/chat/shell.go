package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/realtime-chat/client/internal/app"
	"github.com/zhouzirui/realtime-chat/client/internal/model/profile"
	"github.com/zhouzirui/realtime-chat/client/internal/service/realtime"
	"github.com/zhouzirui/realtime-chat/client/internal/view"
)

const helpText = `Commands:
  /login <user> <password>     log in and join the chat
  /register <user> <password>  create an account
  /logout                      leave and forget the stored session
  /profile                     show your profile
  /nick <name>                 change your nickname
  /bio <text>                  change your bio
  /password [current new]      change your password (prompts when omitted)
  /avatar <path>               upload an avatar image
  /whois <user>                show another user's profile
  /users                       list online users
  /help                        show this help
  /quit                        exit
Anything else is sent as a chat message.`

// shell turns input lines into app calls and prints the results.
type shell struct {
	app      *app.App
	term     *view.Terminal
	presence *view.PresenceRenderer
	password func(prompt string) (string, error)
}

type command struct {
	usage string
	args  int
	run   func(ctx context.Context, args []string) error
}

// parseCommand splits "/name a b" into name and fields. ok is false for chat lines.
func parseCommand(line string) (string, []string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", nil, false
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func (s *shell) commands() map[string]command {
	return map[string]command{
		"login":    {usage: "/login <user> <password>", args: 2, run: s.login},
		"register": {usage: "/register <user> <password>", args: 2, run: s.register},
		"logout":   {usage: "/logout", run: s.logout},
		"profile":  {usage: "/profile", run: s.profile},
		"nick":     {usage: "/nick <name>", args: 1, run: s.nick},
		"bio":      {usage: "/bio <text>", args: 1, run: s.bio},
		"password": {usage: "/password [current new]", run: s.changePassword},
		"avatar":   {usage: "/avatar <path>", args: 1, run: s.avatar},
		"whois":    {usage: "/whois <user>", args: 1, run: s.whois},
		"users":    {usage: "/users", run: s.users},
		"help":     {usage: "/help", run: s.help},
	}
}

// handle runs one line. It returns false when the user quits.
func (s *shell) handle(ctx context.Context, line string) bool {
	name, args, ok := parseCommand(line)
	if !ok {
		s.send(line)
		return true
	}
	if name == "quit" || name == "exit" {
		return false
	}

	cmd, found := s.commands()[name]
	if !found {
		s.term.Error(fmt.Errorf("unknown command /%s, try /help", name))
		return true
	}
	if len(args) < cmd.args {
		s.term.Error(fmt.Errorf("usage: %s", cmd.usage))
		return true
	}
	if err := cmd.run(ctx, args); err != nil {
		s.term.Error(err)
	}
	return true
}

func (s *shell) send(line string) {
	err := s.app.Send(line)
	if errors.Is(err, realtime.ErrNotOpen) {
		s.term.Error(errors.New("not connected, use /login first"))
		return
	}
	if err != nil {
		s.term.Error(err)
	}
}

func (s *shell) login(ctx context.Context, args []string) error {
	sess, err := s.app.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	s.term.SetSelf(sess.Username)
	s.term.Info("Logged in as " + sess.Username)
	return nil
}

func (s *shell) register(ctx context.Context, args []string) error {
	if err := s.app.Register(ctx, args[0], args[1]); err != nil {
		return err
	}
	s.term.Info("Registration successful! Please login.")
	return nil
}

func (s *shell) logout(context.Context, []string) error {
	if err := s.app.Logout(); err != nil {
		return err
	}
	s.term.SetSelf("")
	s.term.Info("Logged out")
	return nil
}

func (s *shell) profile(ctx context.Context, _ []string) error {
	p, err := s.app.Profile(ctx)
	if err != nil {
		return err
	}
	s.term.Profile(p)
	return nil
}

func (s *shell) nick(ctx context.Context, args []string) error {
	p, err := s.app.UpdateProfile(ctx, profile.UpdateRequest{Nickname: strings.Join(args, " ")})
	if err != nil {
		return err
	}
	s.term.Info("Nickname set to " + p.DisplayName())
	return nil
}

func (s *shell) bio(ctx context.Context, args []string) error {
	if _, err := s.app.UpdateProfile(ctx, profile.UpdateRequest{Bio: strings.Join(args, " ")}); err != nil {
		return err
	}
	s.term.Info("Profile updated successfully")
	return nil
}

func (s *shell) changePassword(ctx context.Context, args []string) error {
	var current, next string
	switch {
	case len(args) >= 2:
		current, next = args[0], args[1]
	case s.password != nil:
		var err error
		if current, err = s.password("Current password: "); err != nil {
			return err
		}
		if next, err = s.password("New password: "); err != nil {
			return err
		}
	default:
		return errors.New("usage: /password <current> <new>")
	}

	if err := s.app.ChangePassword(ctx, current, next); err != nil {
		return err
	}
	s.term.Info("Password updated successfully")
	return nil
}

func (s *shell) avatar(ctx context.Context, args []string) error {
	url, err := s.app.UploadAvatar(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	s.term.Info("Avatar updated: " + url)
	return nil
}

func (s *shell) whois(ctx context.Context, args []string) error {
	p, err := s.app.UserProfile(ctx, args[0])
	if err != nil {
		return err
	}
	s.term.Profile(p)
	return nil
}

func (s *shell) users(ctx context.Context, _ []string) error {
	users, err := s.app.Users(ctx)
	if err != nil {
		return err
	}
	s.presence.Render(users)
	return nil
}

func (s *shell) help(context.Context, []string) error {
	s.term.Info(helpText)
	return nil
}
