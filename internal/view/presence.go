package view

import (
	"github.com/samber/lo"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
)

// NoUsersPlaceholder is shown when nobody is online.
const NoUsersPlaceholder = "No users online"

type RosterEntry struct {
	Username string
	Avatar   string
}

// Roster is the display form of a presence snapshot.
type Roster struct {
	Count       int
	Entries     []RosterEntry
	Placeholder string
}

// ToRoster converts a snapshot. An empty snapshot yields the placeholder.
func ToRoster(users []chat.OnlineUser) Roster {
	if len(users) == 0 {
		return Roster{Count: 0, Entries: []RosterEntry{}, Placeholder: NoUsersPlaceholder}
	}
	entries := lo.Map(users, func(u chat.OnlineUser, _ int) RosterEntry {
		avatar := u.Avatar
		if avatar == "" {
			avatar = DefaultAvatar
		}
		return RosterEntry{Username: PlainText(u.Username), Avatar: avatar}
	})
	return Roster{Count: len(users), Entries: entries}
}

// Names returns the usernames in roster order.
func (r Roster) Names() []string {
	return lo.Map(r.Entries, func(e RosterEntry, _ int) string { return e.Username })
}

// RosterView is the surface a PresenceRenderer draws on.
type RosterView interface {
	SetRoster(r Roster)
}

// PresenceRenderer replaces the roster wholesale on every snapshot.
type PresenceRenderer struct {
	view RosterView
}

func NewPresenceRenderer(v RosterView) *PresenceRenderer {
	return &PresenceRenderer{view: v}
}

func (p *PresenceRenderer) Render(users []chat.OnlineUser) {
	p.view.SetRoster(ToRoster(users))
}

// Clear empties the roster and resets the count.
func (p *PresenceRenderer) Clear() {
	p.view.SetRoster(Roster{Entries: []RosterEntry{}})
}
