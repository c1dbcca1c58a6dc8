package realtime

import (
	"errors"
	"fmt"
)

var (
	ErrNoSession        = errors.New("realtime: a logged-in session is required to connect")
	ErrNoToken          = errors.New("realtime: session has no auth token")
	ErrAlreadyConnected = errors.New("realtime: connection already active")
	ErrNotOpen          = errors.New("realtime: connection is not open")
)

// ProtocolError wraps an inbound frame that could not be decoded. The frame is dropped.
type ProtocolError struct {
	Raw []byte
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed frame (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConnectionError wraps a transport failure. It is handled like a close.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("websocket %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
