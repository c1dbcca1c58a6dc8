package chat

import (
	"encoding/json"
	"strings"
	"time"
)

// ServerTimeLayout is the timestamp layout the chat server stamps on broadcasts and history rows.
const ServerTimeLayout = "2006-01-02 15:04:05"

// SystemAuthor names locally generated status lines.
const SystemAuthor = "System"

// Message is a single chat line, immutable once received.
type Message struct {
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Avatar    string    `json:"avatar,omitempty"`
}

// wireMessage accepts both live frames (timestamp) and history rows (created_at).
type wireMessage struct {
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	CreatedAt string `json:"created_at"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
}

// UnmarshalJSON decodes a message tolerating the server's two timestamp fields and layouts.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw wireMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	stamp := raw.Timestamp
	if stamp == "" {
		stamp = raw.CreatedAt
	}

	*m = Message{
		Username:  raw.Username,
		Content:   raw.Content,
		Timestamp: ParseTimestamp(stamp, time.Now()),
		Avatar:    raw.Avatar,
	}
	return nil
}

// ParseTimestamp parses RFC 3339 or the server layout (local time). Empty or
// unparseable input yields fallback.
func ParseTimestamp(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	if ts, err := time.ParseInLocation(ServerTimeLayout, raw, time.Local); err == nil {
		return ts
	}
	return fallback
}

// NewSystemMessage builds a local status line stamped now.
func NewSystemMessage(content string) Message {
	return Message{Username: SystemAuthor, Content: content, Timestamp: time.Now()}
}

// OnlineUser is one entry of the presence snapshot.
type OnlineUser struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// UnmarshalJSON also accepts a bare username string, the roster shape older servers return.
func (u *OnlineUser) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*u = OnlineUser{Username: name}
		return nil
	}

	type plain OnlineUser
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*u = OnlineUser(obj)
	return nil
}
