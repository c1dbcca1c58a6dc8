package realtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
	"github.com/zhouzirui/realtime-chat/client/internal/service/realtime"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type harness struct {
	session   *realtime.Session
	dialer    *fakeDialer
	api       *fakeAPI
	feed      *recordingFeed
	roster    *recordingRoster
	indicator *recordingIndicator
	clock     *manualClock
}

func newHarness(t *testing.T, mutate func(*realtime.Options)) *harness {
	t.Helper()
	h := &harness{
		dialer:    &fakeDialer{},
		api:       &fakeAPI{},
		feed:      &recordingFeed{},
		roster:    &recordingRoster{},
		indicator: &recordingIndicator{},
		clock:     newManualClock(),
	}
	opts := realtime.Options{
		BaseURL:   "http://chat.local:8080",
		Dialer:    h.dialer,
		API:       h.api,
		Feed:      h.feed,
		Roster:    h.roster,
		Indicator: h.indicator,
		Logger:    zerolog.Nop(),
		Clock:     h.clock,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := realtime.NewSession(opts)
	require.NoError(t, err)
	h.session = s
	t.Cleanup(s.Disconnect)
	return h
}

func (h *harness) open(t *testing.T, user chat.Session) *fakeConn {
	t.Helper()
	historyBefore, onlineBefore := h.api.calls()
	rendersBefore := h.roster.count()

	require.NoError(t, h.session.Connect(context.Background(), user))
	require.Eventually(t, func() bool { return h.session.State() == realtime.StateOpen }, waitFor, tick)
	require.Eventually(t, func() bool {
		history, online := h.api.calls()
		return history == historyBefore+1 && online == onlineBefore+1 && h.roster.count() == rendersBefore+1
	}, waitFor, tick)
	return h.dialer.last()
}

var alice = chat.Session{Username: "alice", Token: "abc"}

func TestConnectRequiresSession(t *testing.T) {
	h := newHarness(t, func(o *realtime.Options) { o.RequireToken = true })

	require.ErrorIs(t, h.session.Connect(context.Background(), chat.Session{}), realtime.ErrNoSession)
	require.ErrorIs(t, h.session.Connect(context.Background(), chat.Session{Username: "alice"}), realtime.ErrNoToken)
	require.Zero(t, h.dialer.dials())
	require.Equal(t, realtime.StateClosed, h.session.State())
}

func TestTargetURL(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, "ws://chat.local:8080/api/ws?token=abc", h.session.Target(alice))
	require.Equal(t, "ws://chat.local:8080/api/ws", h.session.Target(chat.Session{Username: "bob"}))

	secure := newHarness(t, func(o *realtime.Options) { o.BaseURL = "https://chat.example.com/" })
	require.Equal(t, "wss://chat.example.com/api/ws?token=a+b", secure.session.Target(chat.Session{Username: "x", Token: "a b"}))

	_, err := realtime.NewSession(realtime.Options{BaseURL: "ftp://x", API: &fakeAPI{}})
	require.Error(t, err)
}

func TestConnectOpensAndLoadsOnce(t *testing.T) {
	h := newHarness(t, func(o *realtime.Options) { o.HistoryLimit = 20 })
	h.api.users = []chat.OnlineUser{{Username: "alice"}, {Username: "bob"}}

	h.open(t, alice)

	require.Equal(t, []string{"ws://chat.local:8080/api/ws?token=abc"}, h.dialer.targets)
	require.Equal(t, []int{20}, h.api.limits)
	require.Eventually(t, func() bool { return h.feed.historyRenders() == 1 }, waitFor, tick)
	require.Len(t, h.roster.users, 2)
	require.ErrorIs(t, h.session.Connect(context.Background(), alice), realtime.ErrAlreadyConnected)
}

func TestConnectedMessageBeforeHistoryFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.api.historyErr = errors.New("boom")

	h.open(t, alice)

	require.Equal(t, realtime.StateOpen, h.session.State())
	require.Equal(t, []string{"System: " + realtime.MsgConnected}, h.feed.snapshot())
}

func TestSendWhenNotOpenIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	require.ErrorIs(t, h.session.Send("hello"), realtime.ErrNotOpen)

	conn := h.open(t, alice)
	require.NoError(t, h.session.Send("   "))
	require.Empty(t, conn.frames())

	h.session.Disconnect()
	require.ErrorIs(t, h.session.Send("hello"), realtime.ErrNotOpen)
	require.Empty(t, conn.frames())
}

func TestSendTrimsAndStamps(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, alice)

	require.NoError(t, h.session.Send("  hi there \n"))

	frames := conn.frames()
	require.Len(t, frames, 1)
	require.Equal(t, "alice", frames[0]["username"])
	require.Equal(t, "hi there", frames[0]["content"])
	require.Equal(t, "2024-01-01T12:00:00Z", frames[0]["timestamp"])
	require.NotContains(t, frames[0], "type")
	require.NotContains(t, h.feed.snapshot(), "alice: hi there")
}

func TestHistoryThenLiveOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.api.history = []chat.Message{{Username: "alice", Content: "hi", Timestamp: time.Unix(100, 0)}}

	conn := h.open(t, alice)
	require.Eventually(t, func() bool { return h.feed.historyRenders() == 1 }, waitFor, tick)

	conn.push(map[string]string{"username": "bob", "content": "yo", "timestamp": "2024-01-01 12:00:05"})
	require.Eventually(t, func() bool { return len(h.feed.snapshot()) == 2 }, waitFor, tick)
	require.Equal(t, []string{"alice: hi", "bob: yo"}, h.feed.snapshot())
}

func TestInboundFrames(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, alice)
	require.Eventually(t, func() bool { return h.feed.historyRenders() == 1 }, waitFor, tick)

	conn.push(`{not json`)
	conn.push(map[string]string{"type": "reaction", "username": "bob", "content": "+1"})
	conn.push(map[string]string{"username": "carol", "content": "hey"})

	require.Eventually(t, func() bool { return len(h.feed.snapshot()) == 2 }, waitFor, tick)
	require.Equal(t, []string{"bob: +1", "carol: hey"}, h.feed.snapshot())
	require.Equal(t, realtime.StateOpen, h.session.State())
}

func TestRemoteTypingIndicator(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, alice)

	conn.push(chat.NewTypingEvent("bob", true))
	require.Eventually(t, func() bool { return h.indicator.Current() == "bob" }, waitFor, tick)

	// a stop for someone else leaves bob shown
	conn.push(chat.NewTypingEvent("carol", false))
	// self events never touch the indicator
	conn.push(chat.NewTypingEvent("alice", true))
	conn.push(chat.NewTypingEvent("alice", false))
	conn.push(map[string]string{"username": "marker", "content": "sync"})
	require.Eventually(t, func() bool { return h.feed.count("marker: sync") == 1 }, waitFor, tick)
	require.Equal(t, "bob", h.indicator.Current())

	conn.push(chat.NewTypingEvent("bob", false))
	require.Eventually(t, func() bool { return h.indicator.Current() == "" }, waitFor, tick)
}

func TestServerCloseWithoutReconnect(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, alice)

	conn.drop(nil)

	require.Eventually(t, func() bool { return h.session.State() == realtime.StateClosed }, waitFor, tick)
	require.Equal(t, 1, h.feed.count("System: "+realtime.MsgDisconnected))
	require.Zero(t, h.feed.count("System: "+realtime.MsgConnError))
	require.NoError(t, h.session.LastError())
	require.Zero(t, h.clock.Pending())
	require.Equal(t, 1, h.dialer.dials())

	// a manual connect is allowed again
	h.open(t, alice)
	require.Equal(t, 2, h.dialer.dials())
}

func TestTransportErrorReportsConnectionError(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, alice)

	conn.drop(errors.New("connection reset by peer"))

	require.Eventually(t, func() bool { return h.session.State() == realtime.StateClosed }, waitFor, tick)
	lines := h.feed.snapshot()
	require.Equal(t, "System: "+realtime.MsgConnError, lines[len(lines)-2])
	require.Equal(t, "System: "+realtime.MsgDisconnected, lines[len(lines)-1])

	var connErr *realtime.ConnectionError
	require.ErrorAs(t, h.session.LastError(), &connErr)
	require.Equal(t, "read", connErr.Op)
}

func TestDialFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.script = []error{errors.New("refused")}

	require.NoError(t, h.session.Connect(context.Background(), alice))
	require.Eventually(t, func() bool { return h.feed.count("System: "+realtime.MsgDisconnected) == 1 }, waitFor, tick)
	require.Equal(t, realtime.StateClosed, h.session.State())
	require.Equal(t, 1, h.feed.count("System: "+realtime.MsgConnError))
	history, online := h.api.calls()
	require.Zero(t, history)
	require.Zero(t, online)
}

func TestDisconnectMakesLateFramesNoops(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, alice)
	require.Eventually(t, func() bool { return h.feed.historyRenders() == 1 }, waitFor, tick)

	h.session.Disconnect()
	require.Equal(t, realtime.StateClosed, h.session.State())

	conn.push(map[string]string{"username": "bob", "content": "late"})
	time.Sleep(50 * time.Millisecond)

	require.Zero(t, h.feed.count("bob: late"))
	require.Equal(t, 1, h.feed.count("System: "+realtime.MsgDisconnected))

	h.session.Disconnect()
	require.Equal(t, 1, h.feed.count("System: "+realtime.MsgDisconnected))
}

func TestBoundedReconnect(t *testing.T) {
	h := newHarness(t, func(o *realtime.Options) {
		o.Reconnect = realtime.Reconnect{MaxAttempts: 2, Backoff: time.Second}
	})
	h.dialer.script = []error{nil, errors.New("refused"), errors.New("refused")}
	conn := h.open(t, alice)

	conn.drop(nil)
	require.Eventually(t, func() bool { return h.session.State() == realtime.StateReconnecting }, waitFor, tick)
	require.Equal(t, 1, h.session.Attempt())

	h.clock.Advance(999 * time.Millisecond)
	require.Equal(t, 1, h.dialer.dials())
	h.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool {
		return h.dialer.dials() == 2 && h.session.State() == realtime.StateReconnecting && h.session.Attempt() == 2
	}, waitFor, tick)

	// linear backoff: second wait is twice the first
	h.clock.Advance(time.Second)
	require.Equal(t, 2, h.dialer.dials())
	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return h.dialer.dials() == 3 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.feed.count("System: Reconnect failed after 2 attempts") == 1 }, waitFor, tick)
	require.Equal(t, realtime.StateClosed, h.session.State())
	require.Zero(t, h.clock.Pending())
}

func TestReconnectSucceedsAndResetsAttempts(t *testing.T) {
	h := newHarness(t, func(o *realtime.Options) {
		o.Reconnect = realtime.Reconnect{MaxAttempts: 3, Backoff: time.Second}
	})
	conn := h.open(t, alice)

	conn.drop(errors.New("reset"))
	require.Eventually(t, func() bool { return h.session.State() == realtime.StateReconnecting }, waitFor, tick)
	h.clock.Advance(time.Second)

	require.Eventually(t, func() bool { return h.session.State() == realtime.StateOpen }, waitFor, tick)
	require.Zero(t, h.session.Attempt())
	require.Equal(t, []string{"ws://chat.local:8080/api/ws?token=abc", "ws://chat.local:8080/api/ws?token=abc"}, h.dialer.targets)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, func(o *realtime.Options) {
		o.Reconnect = realtime.Reconnect{MaxAttempts: 3, Backoff: time.Second}
	})
	conn := h.open(t, alice)

	conn.drop(nil)
	require.Eventually(t, func() bool { return h.session.State() == realtime.StateReconnecting }, waitFor, tick)

	h.session.Disconnect()
	require.Equal(t, realtime.StateClosed, h.session.State())
	require.Zero(t, h.clock.Pending())

	h.clock.Advance(10 * time.Second)
	require.Equal(t, 1, h.dialer.dials())
}

func TestUserDisconnectDoesNotReconnect(t *testing.T) {
	h := newHarness(t, func(o *realtime.Options) {
		o.Reconnect = realtime.Reconnect{MaxAttempts: 3, Backoff: time.Second}
	})
	h.open(t, alice)

	h.session.Disconnect()
	h.clock.Advance(10 * time.Second)
	require.Equal(t, realtime.StateClosed, h.session.State())
	require.Equal(t, 1, h.dialer.dials())
}
