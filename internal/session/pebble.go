package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
)

// PebbleStore implements Store on a local pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (or creates) the store under dir. opts may be nil.
func OpenPebbleStore(dir string, opts *pebble.Options) (*PebbleStore, error) {
	if opts == nil {
		opts = &pebble.Options{}
		if err := os.MkdirAll(filepath.Dir(filepath.Clean(dir)), 0o700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}

	db, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Close releases the database.
func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes username and token in one synced batch. An empty token deletes
// any previously stored one.
func (s *PebbleStore) Save(sess chat.Session) error {
	if !sess.Valid() {
		return ErrInvalidSession
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set([]byte(UsernameKey), []byte(sess.Username), nil); err != nil {
		return fmt.Errorf("stage username: %w", err)
	}
	if sess.HasToken() {
		if err := batch.Set([]byte(TokenKey), []byte(sess.Token), nil); err != nil {
			return fmt.Errorf("stage token: %w", err)
		}
	} else if err := batch.Delete([]byte(TokenKey), nil); err != nil {
		return fmt.Errorf("stage token delete: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the stored session. A missing username means no session.
func (s *PebbleStore) Load() (chat.Session, bool, error) {
	username, err := s.get(UsernameKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return chat.Session{}, false, nil
		}
		return chat.Session{}, false, fmt.Errorf("load username: %w", err)
	}

	token, err := s.get(TokenKey)
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return chat.Session{}, false, fmt.Errorf("load token: %w", err)
	}

	sess := chat.Session{Username: username, Token: token}
	return sess, sess.Valid(), nil
}

// Clear deletes both keys in one synced batch.
func (s *PebbleStore) Clear() error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete([]byte(UsernameKey), nil); err != nil {
		return fmt.Errorf("stage username delete: %w", err)
	}
	if err := batch.Delete([]byte(TokenKey), nil); err != nil {
		return fmt.Errorf("stage token delete: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *PebbleStore) get(key string) (string, error) {
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}
