package devserver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/realtime-chat/client/internal/model/profile"
)

var (
	ErrUserExists         = errors.New("username already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWrongPassword      = errors.New("current password is incorrect")
)

type user struct {
	ID           string
	Username     string
	Nickname     string
	Avatar       string
	Bio          string
	PasswordHash []byte
	LastActive   time.Time
	CreatedAt    time.Time
}

func (u *user) displayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}

func (u *user) profile() profile.Profile {
	return profile.Profile{
		Username:   u.Username,
		Nickname:   u.Nickname,
		Avatar:     u.Avatar,
		Bio:        u.Bio,
		LastActive: u.LastActive,
		CreatedAt:  u.CreatedAt,
	}
}

type storedMessage struct {
	ID        string
	Username  string
	Content   string
	CreatedAt time.Time
}

// Store keeps users, messages and avatar images in memory.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*user
	messages []storedMessage
	avatars  map[string]AvatarFile
	cost     int
}

// AvatarFile is an uploaded avatar image.
type AvatarFile struct {
	ContentType string
	Data        []byte
}

// NewStore returns an empty store. bcryptCost <= 0 uses bcrypt.DefaultCost.
func NewStore(bcryptCost int) *Store {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Store{
		users:    make(map[string]*user),
		messages: make([]storedMessage, 0, 64),
		avatars:  make(map[string]AvatarFile),
		cost:     bcryptCost,
	}
}

// Register creates an account.
func (s *Store) Register(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return ErrUserExists
	}
	now := time.Now()
	s.users[username] = &user{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		LastActive:   now,
		CreatedAt:    now,
	}
	return nil
}

// Authenticate checks credentials and returns the user's id.
func (s *Store) Authenticate(username, password string) (string, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	s.mu.Lock()
	u.LastActive = time.Now()
	s.mu.Unlock()
	return u.ID, nil
}

// Profile returns a user's profile.
func (s *Store) Profile(username string) (profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return profile.Profile{}, ErrUserNotFound
	}
	return u.profile(), nil
}

// Identity returns the display name and avatar for username. Unknown users keep their name.
func (s *Store) Identity(username string) (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return username, ""
	}
	return u.displayName(), u.Avatar
}

// UpdateProfile applies non-empty fields.
func (s *Store) UpdateProfile(username string, req profile.UpdateRequest) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return profile.Profile{}, ErrUserNotFound
	}
	if req.Nickname != "" {
		u.Nickname = req.Nickname
	}
	if req.Bio != "" {
		u.Bio = req.Bio
	}
	if req.Avatar != "" {
		u.Avatar = req.Avatar
	}
	return u.profile(), nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Store) ChangePassword(username, current, next string) error {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(current)); err != nil {
		return ErrWrongPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	u.PasswordHash = hash
	s.mu.Unlock()
	return nil
}

// SaveAvatar stores an image under name and points the user's avatar at url.
func (s *Store) SaveAvatar(username, name, url, contentType string, data []byte) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return profile.Profile{}, ErrUserNotFound
	}
	s.avatars[name] = AvatarFile{ContentType: contentType, Data: append([]byte(nil), data...)}
	u.Avatar = url
	return u.profile(), nil
}

// Avatar returns a stored image.
func (s *Store) Avatar(name string) (AvatarFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.avatars[name]
	return f, ok
}

// AddMessage appends a chat line and marks the author active.
func (s *Store) AddMessage(username, content string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, storedMessage{
		ID:        uuid.NewString(),
		Username:  username,
		Content:   content,
		CreatedAt: at,
	})
	if u, ok := s.users[username]; ok {
		u.LastActive = at
	}
}

// Recent returns the newest limit messages, oldest first.
func (s *Store) Recent(limit int) []storedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storedMessage, len(s.messages))
	copy(out, s.messages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
