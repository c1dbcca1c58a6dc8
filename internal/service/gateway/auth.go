package gateway

import (
	"context"
	"net/http"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
)

// Credentials is the login and registration body.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Login exchanges credentials for a session. A rejected login returns *AuthError
// carrying the server's message.
func (c *Client) Login(ctx context.Context, username, password string) (chat.Session, error) {
	creds := Credentials{Username: username, Password: password}
	if err := validateStruct(creds); err != nil {
		return chat.Session{}, err
	}

	resp, err := c.doJSON(ctx, "login", http.MethodPost, "/api/login", "", creds)
	if err != nil {
		return chat.Session{}, err
	}
	if !resp.ok() {
		return chat.Session{}, &AuthError{Status: resp.status, Message: serverMessage(resp.body, "Login failed")}
	}

	var out loginResponse
	if err := resp.decode("login", &out); err != nil {
		return chat.Session{}, err
	}

	sess := chat.Session{Username: out.Username, Token: out.Token}
	if sess.Username == "" {
		sess.Username = username
	}
	c.log.Info().Str("username", sess.Username).Bool("token", sess.HasToken()).Msg("[gateway] login succeeded")
	return sess, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, username, password string) error {
	creds := Credentials{Username: username, Password: password}
	if err := validateStruct(creds); err != nil {
		return err
	}

	resp, err := c.doJSON(ctx, "register", http.MethodPost, "/api/register", "", creds)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return &AuthError{Status: resp.status, Message: serverMessage(resp.body, "Registration failed")}
	}
	c.log.Info().Str("username", username).Msg("[gateway] registration succeeded")
	return nil
}
