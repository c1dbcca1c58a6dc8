package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live WebSocket. ReadMessage returns io.EOF after a clean close.
// WriteMessage may be called from several goroutines.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens WebSocket connections.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// DialOptions tunes the gorilla transport.
type DialOptions struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	Header           http.Header
}

// DefaultDialOptions returns the transport defaults.
func DefaultDialOptions() *DialOptions {
	return &DialOptions{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// WSDialer dials with gorilla/websocket and keeps the connection alive with pings.
type WSDialer struct {
	opts *DialOptions
}

// NewWSDialer returns a dialer. nil options use DefaultDialOptions.
func NewWSDialer(opts *DialOptions) *WSDialer {
	if opts == nil {
		opts = DefaultDialOptions()
	}
	return &WSDialer{opts: opts}
}

// Dial opens target and starts the ping loop.
func (d *WSDialer) Dial(ctx context.Context, target string) (Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.opts.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, target, d.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &wsConn{conn: conn, opts: d.opts, done: make(chan struct{})}
	if d.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(d.opts.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(d.opts.ReadTimeout))
		})
	}
	if d.opts.PingInterval > 0 {
		go c.pingLoop()
	}
	return c, nil
}

type wsConn struct {
	conn *websocket.Conn
	opts *DialOptions

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if c.opts.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

func (c *wsConn) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	return c.conn.WriteMessage(kind, data)
}

// Close sends a close frame and releases the socket. Safe to call more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.write(websocket.CloseMessage, msg)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
