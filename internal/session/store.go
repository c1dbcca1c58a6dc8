// Package session persists the authenticated identity between client runs.
package session

import (
	"errors"
	"sync"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
)

// Keys under which the session fields are stored.
const (
	TokenKey    = "authToken"
	UsernameKey = "username"
)

// ErrInvalidSession is returned when saving a session without a username.
var ErrInvalidSession = errors.New("session username is required")

// Store keeps at most one session. Save writes both fields atomically.
type Store interface {
	Save(s chat.Session) error
	Load() (chat.Session, bool, error)
	Clear() error
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	current chat.Session
	ok      bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces the stored session.
func (s *MemoryStore) Save(sess chat.Session) error {
	if !sess.Valid() {
		return ErrInvalidSession
	}

	s.mu.Lock()
	s.current = sess
	s.ok = true
	s.mu.Unlock()
	return nil
}

// Load returns the stored session, if any.
func (s *MemoryStore) Load() (chat.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.ok, nil
}

// Clear removes the stored session.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.current = chat.Session{}
	s.ok = false
	s.mu.Unlock()
	return nil
}
