package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
	"github.com/zhouzirui/realtime-chat/client/internal/service/realtime"
)

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) realtime.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs due callbacks in order, on the caller's goroutine.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeConn struct {
	inbox     chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sent    [][]byte
	readErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return errors.New("write on closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// push delivers a frame from the server.
func (c *fakeConn) push(v any) {
	switch data := v.(type) {
	case string:
		c.inbox <- []byte(data)
	default:
		raw, _ := json.Marshal(data)
		c.inbox <- raw
	}
}

// drop ends the connection from the server side; a nil err is a clean close.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	_ = c.Close()
}

func (c *fakeConn) frames() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) framesOfType(kind string) int {
	n := 0
	for _, f := range c.frames() {
		if f["type"] == kind {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu      sync.Mutex
	script  []error
	targets []string
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, target string) (realtime.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	attempt := len(d.targets)
	d.targets = append(d.targets, target)
	if attempt < len(d.script) && d.script[attempt] != nil {
		return nil, d.script[attempt]
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeAPI struct {
	mu           sync.Mutex
	history      []chat.Message
	users        []chat.OnlineUser
	historyErr   error
	historyCalls int
	onlineCalls  int
	limits       []int
}

func (a *fakeAPI) FetchHistory(_ context.Context, limit int) ([]chat.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.historyCalls++
	a.limits = append(a.limits, limit)
	return append([]chat.Message(nil), a.history...), a.historyErr
}

func (a *fakeAPI) FetchOnlineUsers(context.Context) ([]chat.OnlineUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onlineCalls++
	return append([]chat.OnlineUser(nil), a.users...), nil
}

func (a *fakeAPI) calls() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.historyCalls, a.onlineCalls
}

// recordingFeed models a view: RenderHistory replaces everything shown.
type recordingFeed struct {
	mu        sync.Mutex
	lines     []string
	histories int
}

func (f *recordingFeed) Render(msg chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, fmt.Sprintf("%s: %s", msg.Username, msg.Content))
}

func (f *recordingFeed) RenderHistory(msgs []chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories++
	f.lines = f.lines[:0]
	for _, msg := range msgs {
		f.lines = append(f.lines, fmt.Sprintf("%s: %s", msg.Username, msg.Content))
	}
}

func (f *recordingFeed) System(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, chat.SystemAuthor+": "+text)
}

func (f *recordingFeed) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *recordingFeed) count(line string) int {
	n := 0
	for _, l := range f.snapshot() {
		if l == line {
			n++
		}
	}
	return n
}

func (f *recordingFeed) historyRenders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.histories
}

type recordingRoster struct {
	mu      sync.Mutex
	renders int
	users   []chat.OnlineUser
}

func (r *recordingRoster) Render(users []chat.OnlineUser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders++
	r.users = users
}

func (r *recordingRoster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders
}

type recordingIndicator struct {
	mu      sync.Mutex
	current string
}

func (i *recordingIndicator) Show(username string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.current = username
}

func (i *recordingIndicator) Hide() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.current = ""
}

func (i *recordingIndicator) Current() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}
