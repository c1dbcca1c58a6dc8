package view

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/zhouzirui/realtime-chat/client/internal/model/profile"
)

var (
	styleTime   = color.New(color.FgDarkGray)
	styleAuthor = color.New(color.FgCyan, color.OpBold)
	styleSelf   = color.New(color.FgGreen, color.OpBold)
	styleSystem = color.New(color.FgYellow)
	styleTyping = color.New(color.FgDarkGray, color.OpItalic)
	styleError  = color.New(color.FgRed)
	styleHeader = color.New(color.FgMagenta, color.OpBold)
)

const clearScreen = "\033[H\033[2J"

// Terminal draws the feed, roster, typing line and profile cards as text on out.
// It implements Feed and RosterView.
type Terminal struct {
	mu     sync.Mutex
	out    io.Writer
	colors bool
	self   string
}

func NewTerminal(out io.Writer, colors bool) *Terminal {
	return &Terminal{out: out, colors: colors}
}

// SetSelf names the local user so their lines are highlighted.
func (t *Terminal) SetSelf(username string) {
	t.mu.Lock()
	t.self = username
	t.mu.Unlock()
}

func (t *Terminal) paint(s color.Style, text string) string {
	if !t.colors {
		return text
	}
	return s.Render(text)
}

func (t *Terminal) println(line string) {
	fmt.Fprintln(t.out, line)
}

// Append writes one message line.
func (t *Terminal) Append(msg DisplayMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stamp := ""
	if msg.Time != "" {
		stamp = t.paint(styleTime, "["+msg.Time+"]") + " "
	}

	if msg.System {
		t.println(stamp + t.paint(styleSystem, "* "+msg.Content))
		return
	}

	author := styleAuthor
	if t.self != "" && msg.Author == t.self {
		author = styleSelf
	}
	t.println(stamp + t.paint(author, msg.Author) + ": " + msg.Content)
}

// Clear wipes the screen when colours are on; plain output gets a separator instead.
func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.colors {
		fmt.Fprint(t.out, clearScreen)
		return
	}
	t.println(strings.Repeat("-", 40))
}

// ScrollToEnd is a no-op; terminal output already follows the newest line.
func (t *Terminal) ScrollToEnd() {}

// SetRoster prints the online users.
func (t *Terminal) SetRoster(r Roster) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.println(t.paint(styleHeader, fmt.Sprintf("Online (%d)", r.Count)))
	if len(r.Entries) == 0 {
		if r.Placeholder != "" {
			t.println("  " + r.Placeholder)
		}
		return
	}

	table := t.table([]string{"User", "Avatar"})
	for _, e := range r.Entries {
		table.Append([]string{e.Username, e.Avatar})
	}
	table.Render()
}

// SetTyping shows the typing line; an empty text prints nothing.
func (t *Terminal) SetTyping(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println("  " + t.paint(styleTyping, text))
}

// Info prints a command result.
func (t *Terminal) Info(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(t.paint(styleSystem, text))
}

// Error prints a failure.
func (t *Terminal) Error(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(t.paint(styleError, "error: "+err.Error()))
}

// Profile prints a profile card.
func (t *Terminal) Profile(p profile.Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()

	avatar := p.Avatar
	if avatar == "" {
		avatar = DefaultAvatar
	}

	t.println(t.paint(styleHeader, PlainText(p.DisplayName())))
	table := t.table(nil)
	table.Append([]string{"Username", PlainText(p.Username)})
	table.Append([]string{"Nickname", PlainText(p.Nickname)})
	table.Append([]string{"Bio", PlainText(p.Bio)})
	table.Append([]string{"Avatar", avatar})
	table.Append([]string{"Last active", relative(p.LastActive)})
	table.Append([]string{"Member since", relative(p.CreatedAt)})
	table.Render()
}

func relative(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return humanize.Time(ts)
}

func (t *Terminal) table(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(t.out)
	if len(header) > 0 {
		table.SetHeader(header)
		table.SetAutoFormatHeaders(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderLine(false)
	}
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}
