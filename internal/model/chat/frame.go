package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FrameType is the value of the "type" field on WebSocket frames.
type FrameType string

const (
	FrameTypeTypingStart FrameType = "typing_start"
	FrameTypeTypingStop  FrameType = "typing_stop"
)

// Kind tags the decoded variant of a Frame.
type Kind int

const (
	KindChat Kind = iota
	KindTypingStart
	KindTypingStop
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindTypingStart:
		return string(FrameTypeTypingStart)
	case KindTypingStop:
		return string(FrameTypeTypingStop)
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrUnknownFrameType is returned alongside a chat fallback when a frame carries
// a type tag this client does not define.
var ErrUnknownFrameType = errors.New("unknown frame type")

// TypingEvent is the typing presence frame.
type TypingEvent struct {
	Username string    `json:"username"`
	IsTyping bool      `json:"is_typing"`
	Type     FrameType `json:"type"`
}

// Frame is the tagged union of inbound frames. Exactly one of Chat or Typing is set.
type Frame struct {
	Kind   Kind
	Chat   *Message
	Typing *TypingEvent
}

// ChatFrame is the outbound chat payload.
type ChatFrame struct {
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewChatFrame stamps content with at in ISO-8601.
func NewChatFrame(username, content string, at time.Time) ChatFrame {
	return ChatFrame{
		Username:  username,
		Content:   content,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// NewTypingEvent builds the start or stop frame for username.
func NewTypingEvent(username string, typing bool) TypingEvent {
	kind := FrameTypeTypingStop
	if typing {
		kind = FrameTypeTypingStart
	}
	return TypingEvent{Username: username, IsTyping: typing, Type: kind}
}

// DecodeFrame parses an inbound frame. Malformed JSON returns an error and a zero
// Frame. A frame with an unrecognised non-empty type decodes as chat and returns
// ErrUnknownFrameType so the caller can log the fallback.
func DecodeFrame(data []byte) (Frame, error) {
	var probe struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Frame{}, err
	}

	switch probe.Type {
	case FrameTypeTypingStart, FrameTypeTypingStop:
		var ev TypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return Frame{}, err
		}
		kind := KindTypingStart
		if ev.Type == FrameTypeTypingStop {
			kind = KindTypingStop
		}
		return Frame{Kind: kind, Typing: &ev}, nil
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Frame{}, err
	}
	frame := Frame{Kind: KindChat, Chat: &msg}
	if probe.Type != "" {
		return frame, fmt.Errorf("%w: %q", ErrUnknownFrameType, probe.Type)
	}
	return frame, nil
}
