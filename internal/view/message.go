// Package view turns chat data into display records and draws them.
package view

import (
	"html"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
)

// DefaultAvatar is shown for authors without an avatar.
const DefaultAvatar = "/static/images/default-avatar.svg"

// TimeLayout is the wall-clock layout used for message times.
const TimeLayout = "15:04:05"

// DisplayMessage is a message ready to draw. Every field is plain text.
type DisplayMessage struct {
	Author  string
	Content string
	Time    string
	Avatar  string
	System  bool
}

var textPolicy = bluemonday.StrictPolicy()

// PlainText strips all markup so server-supplied strings cannot inject formatting.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	return html.UnescapeString(textPolicy.Sanitize(s))
}

// ToDisplay converts msg for a viewer in loc. A nil loc means local time.
func ToDisplay(msg chat.Message, loc *time.Location) DisplayMessage {
	if loc == nil {
		loc = time.Local
	}

	d := DisplayMessage{
		Author:  PlainText(msg.Username),
		Content: PlainText(msg.Content),
		Avatar:  msg.Avatar,
		System:  msg.Username == chat.SystemAuthor,
	}
	if !msg.Timestamp.IsZero() {
		d.Time = msg.Timestamp.In(loc).Format(TimeLayout)
	}
	if d.Avatar == "" {
		d.Avatar = DefaultAvatar
	}
	return d
}

// Feed is the surface a MessageRenderer draws on.
type Feed interface {
	Append(msg DisplayMessage)
	Clear()
	ScrollToEnd()
}

// MessageRenderer renders chat messages onto a Feed.
type MessageRenderer struct {
	feed Feed
	loc  *time.Location
}

func NewMessageRenderer(feed Feed, loc *time.Location) *MessageRenderer {
	return &MessageRenderer{feed: feed, loc: loc}
}

// Render appends one message and scrolls to it.
func (r *MessageRenderer) Render(msg chat.Message) {
	r.feed.Append(ToDisplay(msg, r.loc))
	r.feed.ScrollToEnd()
}

// RenderHistory replaces the feed with msgs in the order given.
func (r *MessageRenderer) RenderHistory(msgs []chat.Message) {
	r.feed.Clear()
	for _, msg := range msgs {
		r.feed.Append(ToDisplay(msg, r.loc))
	}
	r.feed.ScrollToEnd()
}

// System renders a local status line.
func (r *MessageRenderer) System(text string) {
	r.Render(chat.NewSystemMessage(text))
}

// Clear empties the feed.
func (r *MessageRenderer) Clear() {
	r.feed.Clear()
}
