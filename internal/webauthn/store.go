package webauthn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gowebauthn "github.com/go-webauthn/webauthn/webauthn"
	"github.com/rs/zerolog"

	"github.com/iged-project/iged/internal/fsutil"
)

var (
	ErrUserNotFound  = errors.New("webauthn: user not found")
	ErrNoCredentials = errors.New("webauthn: no credentials registered for user")
	ErrUserExists    = errors.New("webauthn: user already exists")
)

// StoredCredential is a verified public-key credential plus bookkeeping.
type StoredCredential struct {
	Credential gowebauthn.Credential `json:"credential"`
	Registered time.Time             `json:"registered"`
	LastUsed   *time.Time            `json:"last_used,omitempty"`
}

// User is a registered account. It satisfies the library's User interface.
type User struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	DisplayName string             `json:"display_name"`
	Created     time.Time          `json:"created"`
	Credentials []StoredCredential `json:"credentials"`
}

func (u *User) WebAuthnID() []byte          { return []byte(u.ID) }
func (u *User) WebAuthnName() string        { return u.Name }
func (u *User) WebAuthnDisplayName() string { return u.DisplayName }

func (u *User) WebAuthnCredentials() []gowebauthn.Credential {
	out := make([]gowebauthn.Credential, len(u.Credentials))
	for i, c := range u.Credentials {
		out[i] = c.Credential
	}
	return out
}

// UserSummary is the public view of a user, without key material.
type UserSummary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DisplayName     string    `json:"display_name"`
	Created         time.Time `json:"created"`
	CredentialCount int       `json:"credential_count"`
}

type storeFile struct {
	Users map[string]*User `json:"users"`
}

// Store keeps users and credentials in one JSON file, rewritten atomically
// on every mutation.
type Store struct {
	path string
	log  zerolog.Logger

	mu    sync.RWMutex
	users map[string]*User
}

// OpenStore loads path. A missing file is an empty store; a corrupt one is
// moved to a quarantine directory beside it and replaced by an empty store.
func OpenStore(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{path: path, log: log, users: map[string]*User{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential store: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		dst, qerr := fsutil.Quarantine(filepath.Join(filepath.Dir(path), "quarantine"), path)
		if qerr != nil {
			return nil, fmt.Errorf("credential store corrupt (%v) and quarantine failed: %w", err, qerr)
		}
		log.Warn().Err(err).Str("moved_to", dst).Msg("credential store corrupt, starting empty")
		return s, nil
	}
	if f.Users != nil {
		s.users = f.Users
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// User returns a copy of the user with id.
func (s *Store) User(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return cloneUser(u), nil
}

// AddCredential appends cred to the user, creating the user when needed.
func (s *Store) AddCredential(u User, cred gowebauthn.Credential, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(u, cred, now)
}

// CreateUser stores a new user with its first credential. It fails with
// ErrUserExists when the id is already taken.
func (s *Store) CreateUser(u User, cred gowebauthn.Credential, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, u.ID)
	}
	return s.addLocked(u, cred, now)
}

func (s *Store) addLocked(u User, cred gowebauthn.Credential, now time.Time) error {
	next := &User{ID: u.ID, Name: u.Name, DisplayName: u.DisplayName, Created: now}
	if existing, ok := s.users[u.ID]; ok {
		next = cloneUser(existing)
	}
	next.Credentials = append(next.Credentials, StoredCredential{Credential: cred, Registered: now})
	users := s.copyLocked()
	users[u.ID] = next
	return s.commitLocked(users)
}

// TouchCredential records a successful assertion: the new signature counter
// and the time of use.
func (s *Store) TouchCredential(userID string, cred gowebauthn.Credential, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	u := cloneUser(existing)
	for i := range u.Credentials {
		if bytes.Equal(u.Credentials[i].Credential.ID, cred.ID) {
			u.Credentials[i].Credential.Authenticator.SignCount = cred.Authenticator.SignCount
			t := now
			u.Credentials[i].LastUsed = &t
			users := s.copyLocked()
			users[userID] = u
			return s.commitLocked(users)
		}
	}
	return fmt.Errorf("credential not registered for user %s", userID)
}

// Delete removes a user and every credential it owns.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	users := s.copyLocked()
	delete(users, id)
	return s.commitLocked(users)
}

// Users lists every user sorted by name.
func (s *Store) Users() []UserSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UserSummary, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, UserSummary{
			ID:              u.ID,
			Name:            u.Name,
			DisplayName:     u.DisplayName,
			Created:         u.Created,
			CredentialCount: len(u.Credentials),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Counts returns the number of users and credentials.
func (s *Store) Counts() (users, credentials int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		credentials += len(u.Credentials)
	}
	return len(s.users), credentials
}

// copyLocked returns a shallow copy of the user map. Users are replaced,
// never modified in place.
func (s *Store) copyLocked() map[string]*User {
	users := make(map[string]*User, len(s.users)+1)
	for id, u := range s.users {
		users[id] = u
	}
	return users
}

// commitLocked writes users and adopts them only once the file is replaced.
func (s *Store) commitLocked(users map[string]*User) error {
	if err := fsutil.WriteJSON(s.path, storeFile{Users: users}, 0o600); err != nil {
		return fmt.Errorf("save credential store: %w", err)
	}
	s.users = users
	return nil
}

func cloneUser(u *User) *User {
	c := *u
	c.Credentials = append([]StoredCredential(nil), u.Credentials...)
	return &c
}
