package devserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
	"github.com/zhouzirui/realtime-chat/client/pkg/utils"
)

const (
	pongWait       = 60 * time.Second
	maxFrameLength = 64 << 10
)

// peerName resolves the token from ?token= or the Authorization header. Missing or
// invalid tokens connect as AnonymousUser.
func (s *Server) peerName(r *http.Request) string {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = utils.BearerToken(r)
	}
	if raw == "" {
		return AnonymousUser
	}
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("[websocket] rejected token, connecting anonymously")
		return AnonymousUser
	}
	return claims.Username
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	username := s.peerName(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("[websocket] upgrade failed")
		return
	}

	c := &client{id: uuid.NewString(), username: username, conn: conn}
	s.hub.add(c)
	defer func() {
		s.hub.remove(c)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxFrameLength)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn().Err(err).Str("user", username).Msg("[websocket] read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleFrame(c, data)
	}
}

func (s *Server) handleFrame(c *client, data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		s.log.Warn().Err(err).Str("user", c.username).Msg("[websocket] invalid frame")
		return
	}

	// Anonymous peers name themselves.
	author := c.username
	if author == AnonymousUser && in.Username != "" {
		author = in.Username
	}

	if isTypingType(in.Type) {
		typing := in.Type == string(chat.FrameTypeTypingStart)
		s.hub.SetTyping(author, typing)
		s.hub.Broadcast(chat.NewTypingEvent(author, typing))
		return
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return
	}

	display, avatar := s.store.Identity(author)
	now := s.now()

	s.store.AddMessage(author, content, now)
	s.hub.SetTyping(author, false)
	s.hub.Broadcast(chat.NewTypingEvent(display, false))
	s.hub.Broadcast(outboundMessage{
		Username:  display,
		Content:   content,
		Timestamp: now.Format(chat.ServerTimeLayout),
		Avatar:    avatar,
	})
}
