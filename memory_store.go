package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/authforge/identity/user"
)

// MemoryIdentityStore is an in-memory [IdentityStore] with the same
// semantics as the durable implementations: unique email and username,
// optimistic version checks, and detached copies on every load. It backs
// tests and single-process deployments.
type MemoryIdentityStore struct {
	mu          sync.RWMutex
	byID        map[string]*user.User
	emailIdx    map[string]string
	usernameIdx map[string]string
}

// NewMemoryIdentityStore creates an empty store.
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{
		byID:        make(map[string]*user.User),
		emailIdx:    make(map[string]string),
		usernameIdx: make(map[string]string),
	}
}

// Load returns a detached copy of the identity by id.
func (s *MemoryIdentityStore) Load(_ context.Context, id string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return u.Clone(), nil
}

// LoadByEmail returns a detached copy of the identity owning the email.
func (s *MemoryIdentityStore) LoadByEmail(_ context.Context, email string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emailIdx[normalizeKey(email)]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return s.byID[id].Clone(), nil
}

// LoadByUsername returns a detached copy of the identity owning the
// username.
func (s *MemoryIdentityStore) LoadByUsername(_ context.Context, username string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernameIdx[normalizeKey(username)]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return s.byID[id].Clone(), nil
}

// Add persists a new identity; duplicate id, email, or username is
// [ErrConflict].
func (s *MemoryIdentityStore) Add(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[u.ID]; exists {
		return ErrConflict
	}
	if err := s.checkIndexes(u); err != nil {
		return err
	}

	s.byID[u.ID] = u.Clone()
	s.index(u)
	return nil
}

// Update persists an existing identity. The stored version must equal the
// aggregate's pre-mutation version (current version minus buffered
// events); otherwise [ErrVersionConflict].
func (s *MemoryIdentityStore) Update(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[u.ID]
	if !ok {
		return ErrIdentityNotFound
	}
	expected := u.Version() - len(u.PendingEvents())
	if stored.Version() != expected {
		return ErrVersionConflict
	}
	if err := s.checkIndexes(u); err != nil {
		return err
	}

	s.unindex(stored)
	s.byID[u.ID] = u.Clone()
	s.index(u)
	return nil
}

// checkIndexes rejects an email or username owned by a different
// identity.
func (s *MemoryIdentityStore) checkIndexes(u *user.User) error {
	if u.Email != "" {
		if owner, taken := s.emailIdx[normalizeKey(u.Email)]; taken && owner != u.ID {
			return ErrConflict
		}
	}
	if u.Username != "" {
		if owner, taken := s.usernameIdx[normalizeKey(u.Username)]; taken && owner != u.ID {
			return ErrConflict
		}
	}
	return nil
}

func (s *MemoryIdentityStore) index(u *user.User) {
	if u.Email != "" {
		s.emailIdx[normalizeKey(u.Email)] = u.ID
	}
	if u.Username != "" {
		s.usernameIdx[normalizeKey(u.Username)] = u.ID
	}
}

func (s *MemoryIdentityStore) unindex(u *user.User) {
	if u.Email != "" {
		delete(s.emailIdx, normalizeKey(u.Email))
	}
	if u.Username != "" {
		delete(s.usernameIdx, normalizeKey(u.Username))
	}
}

func normalizeKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
