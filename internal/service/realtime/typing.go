package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
)

// DefaultTypingDelay is the quiet period after the last keystroke before typing_stop is sent.
const DefaultTypingDelay = 1000 * time.Millisecond

// Indicator displays which remote user is typing. Current returns "" when hidden.
type Indicator interface {
	Show(username string)
	Hide()
	Current() string
}

// SendFunc transmits a typing frame on the live connection.
type SendFunc func(chat.TypingEvent) error

// Typing debounces local typing presence and applies remote typing events to an
// Indicator. It holds at most one pending timer.
type Typing struct {
	delay     time.Duration
	clock     Clock
	indicator Indicator
	log       zerolog.Logger

	mu       sync.Mutex
	user     string
	send     SendFunc
	bound    bool
	isTyping bool
	timer    Timer
	seq      uint64
}

// NewTyping builds a coordinator. delay <= 0 uses DefaultTypingDelay; a nil clock
// uses SystemClock.
func NewTyping(indicator Indicator, delay time.Duration, clock Clock, logger zerolog.Logger) *Typing {
	if delay <= 0 {
		delay = DefaultTypingDelay
	}
	if clock == nil {
		clock = SystemClock
	}
	if indicator == nil {
		indicator = &nopIndicator{}
	}
	return &Typing{delay: delay, clock: clock, indicator: indicator, log: logger}
}

// Bind attaches the coordinator to an open connection owned by user.
func (t *Typing) Bind(user string, send SendFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	t.user = user
	t.send = send
	t.bound = true
}

// Unbind detaches from the connection, cancels any pending stop and hides the indicator.
func (t *Typing) Unbind() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	t.bound = false
	t.send = nil
	t.indicator.Hide()
}

// Reset cancels the pending timer and clears local typing state without sending anything.
func (t *Typing) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Typing) resetLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.seq++
	t.isTyping = false
}

// IsTyping reports whether a typing_start is outstanding.
func (t *Typing) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isTyping
}

// OnLocalInput records a keystroke. The first one sends typing_start; each one
// re-arms the stop timer.
func (t *Typing) OnLocalInput() {
	t.mu.Lock()
	if !t.bound || t.user == "" || t.send == nil {
		t.mu.Unlock()
		return
	}

	start := !t.isTyping
	t.isTyping = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.seq++
	seq := t.seq
	t.timer = t.clock.AfterFunc(t.delay, func() { t.expire(seq) })
	user, send := t.user, t.send
	t.mu.Unlock()

	if start {
		if err := send(chat.NewTypingEvent(user, true)); err != nil {
			t.log.Debug().Err(err).Msg("[typing] typing_start not sent")
		}
	}
}

func (t *Typing) expire(seq uint64) {
	t.mu.Lock()
	if seq != t.seq || !t.isTyping || t.send == nil {
		t.mu.Unlock()
		return
	}
	t.isTyping = false
	t.timer = nil
	user, send := t.user, t.send
	t.mu.Unlock()

	if err := send(chat.NewTypingEvent(user, false)); err != nil {
		t.log.Debug().Err(err).Msg("[typing] typing_stop not sent")
	}
}

// OnRemoteEvent applies a typing frame from another user. Events about the local
// user are ignored; a stop hides the indicator only when it names that user.
func (t *Typing) OnRemoteEvent(ev chat.TypingEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Username == "" || ev.Username == t.user {
		return
	}

	switch ev.Type {
	case chat.FrameTypeTypingStart:
		t.indicator.Show(ev.Username)
	case chat.FrameTypeTypingStop:
		if t.indicator.Current() == ev.Username {
			t.indicator.Hide()
		}
	}
}

type nopIndicator struct {
	current string
}

func (n *nopIndicator) Show(username string) { n.current = username }

func (n *nopIndicator) Hide() { n.current = "" }

func (n *nopIndicator) Current() string { return n.current }
