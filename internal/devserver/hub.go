package devserver

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
)

// AnonymousUser names websocket peers without a valid token.
const AnonymousUser = "Anonymous"

const writeWait = 10 * time.Second

type client struct {
	id       string
	username string
	conn     *websocket.Conn
	mu       sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected peers and fans frames out to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	typing  map[string]bool
	wg      sync.WaitGroup
	log     zerolog.Logger
}

// NewHub returns an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		typing:  make(map[string]bool),
		log:     logger,
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.wg.Add(1)
	h.log.Info().Str("user", c.username).Int("clients", count).Msg("[hub] client joined")
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	delete(h.typing, c.username)
	count := len(h.clients)
	h.mu.Unlock()
	h.wg.Done()
	h.log.Info().Str("user", c.username).Int("clients", count).Msg("[hub] client left")
}

// Broadcast writes a JSON frame to every connected peer.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("[hub] failed to encode frame")
		return
	}

	h.mu.RLock()
	targets := lo.Keys(h.clients)
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			h.log.Warn().Err(err).Str("user", c.username).Msg("[hub] write failed, dropping client")
			_ = c.conn.Close()
		}
	}
}

// SetTyping records a peer's typing state.
func (h *Hub) SetTyping(username string, typing bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if typing {
		h.typing[username] = true
		return
	}
	delete(h.typing, username)
}

// Typing lists peers currently typing, sorted.
func (h *Hub) Typing() []string {
	h.mu.RLock()
	names := lo.Keys(h.typing)
	h.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Online returns the distinct usernames of connected peers, sorted.
func (h *Hub) Online() []string {
	h.mu.RLock()
	names := lo.Uniq(lo.Map(lo.Keys(h.clients), func(c *client, _ int) string { return c.username }))
	h.mu.RUnlock()
	sort.Strings(names)
	return names
}

// CloseAll sends a going-away close frame to every peer and waits for their handlers to return.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := lo.Keys(h.clients)
	h.mu.RUnlock()

	for _, c := range targets {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
		c.mu.Unlock()
		_ = c.conn.Close()
	}
	h.wg.Wait()
}

// inboundFrame is anything a peer may send: a chat line or a typing event.
type inboundFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

// outboundMessage is the chat broadcast shape.
type outboundMessage struct {
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Avatar    string `json:"avatar,omitempty"`
}

func isTypingType(t string) bool {
	return t == string(chat.FrameTypeTypingStart) || t == string(chat.FrameTypeTypingStop)
}
