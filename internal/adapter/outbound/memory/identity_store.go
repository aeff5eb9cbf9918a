package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/identity"
)

// IdentityStore implements identity.Store with in-memory maps.
// Thread-safe for concurrent access. For development/testing only.
// Ordering mirrors the SQLite store: list operations return newest first.
type IdentityStore struct {
	mu         sync.RWMutex
	users      map[string]*identity.User
	groups     map[string]*identity.Group
	userOrder  []string // insertion order, oldest first
	groupOrder []string
}

// NewIdentityStore creates an empty in-memory identity store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		users:  make(map[string]*identity.User),
		groups: make(map[string]*identity.Group),
	}
}

// ListUsers returns all users, newest first.
func (s *IdentityStore) ListUsers(_ context.Context) ([]identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]identity.User, 0, len(s.userOrder))
	for i := len(s.userOrder) - 1; i >= 0; i-- {
		users = append(users, *copyUser(s.users[s.userOrder[i]]))
	}
	return users, nil
}

// GetUser retrieves a user by ID.
func (s *IdentityStore) GetUser(_ context.Context, id string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return copyUser(user), nil
}

// GetUserByUserName retrieves a user by its unique userName.
func (s *IdentityStore) GetUserByUserName(_ context.Context, userName string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.UserName == userName {
			return copyUser(user), nil
		}
	}
	return nil, identity.ErrUserNotFound
}

// CreateUser inserts a new user, filling Created and LastModified when zero.
func (s *IdentityStore) CreateUser(_ context.Context, user *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.UserName == user.UserName {
			return identity.ErrUserExists
		}
	}

	now := time.Now().UTC()
	if user.Created.IsZero() {
		user.Created = now
	}
	if user.LastModified.IsZero() {
		user.LastModified = now
	}

	s.users[user.ID] = copyUser(user)
	s.userOrder = append(s.userOrder, user.ID)
	return nil
}

// UpdateUser replaces an existing user wholesale and refreshes LastModified.
func (s *IdentityStore) UpdateUser(_ context.Context, user *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[user.ID]
	if !ok {
		return identity.ErrUserNotFound
	}
	for id, existing := range s.users {
		if id != user.ID && existing.UserName == user.UserName {
			return identity.ErrUserExists
		}
	}

	user.Created = current.Created
	user.LastModified = time.Now().UTC()
	s.users[user.ID] = copyUser(user)
	return nil
}

// DeleteUser removes a user by ID.
func (s *IdentityStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return identity.ErrUserNotFound
	}
	delete(s.users, id)
	s.userOrder = withoutID(s.userOrder, id)
	return nil
}

// CountUsers reports the number of stored users.
func (s *IdentityStore) CountUsers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// ListGroups returns all groups, newest first.
func (s *IdentityStore) ListGroups(_ context.Context) ([]identity.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]identity.Group, 0, len(s.groupOrder))
	for i := len(s.groupOrder) - 1; i >= 0; i-- {
		groups = append(groups, *copyGroup(s.groups[s.groupOrder[i]]))
	}
	return groups, nil
}

// GetGroup retrieves a group by ID.
func (s *IdentityStore) GetGroup(_ context.Context, id string) (*identity.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[id]
	if !ok {
		return nil, identity.ErrGroupNotFound
	}
	return copyGroup(group), nil
}

// GetGroupByDisplayName retrieves a group by its unique displayName.
func (s *IdentityStore) GetGroupByDisplayName(_ context.Context, displayName string) (*identity.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, group := range s.groups {
		if group.DisplayName == displayName {
			return copyGroup(group), nil
		}
	}
	return nil, identity.ErrGroupNotFound
}

// CreateGroup inserts a new group, filling Created and LastModified when zero.
func (s *IdentityStore) CreateGroup(_ context.Context, group *identity.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.groups {
		if existing.DisplayName == group.DisplayName {
			return identity.ErrGroupExists
		}
	}

	now := time.Now().UTC()
	if group.Created.IsZero() {
		group.Created = now
	}
	if group.LastModified.IsZero() {
		group.LastModified = now
	}

	s.groups[group.ID] = copyGroup(group)
	s.groupOrder = append(s.groupOrder, group.ID)
	return nil
}

// UpdateGroup replaces an existing group wholesale and refreshes LastModified.
func (s *IdentityStore) UpdateGroup(_ context.Context, group *identity.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.groups[group.ID]
	if !ok {
		return identity.ErrGroupNotFound
	}
	for id, existing := range s.groups {
		if id != group.ID && existing.DisplayName == group.DisplayName {
			return identity.ErrGroupExists
		}
	}

	group.Created = current.Created
	group.LastModified = time.Now().UTC()
	s.groups[group.ID] = copyGroup(group)
	return nil
}

// DeleteGroup removes a group by ID.
func (s *IdentityStore) DeleteGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return identity.ErrGroupNotFound
	}
	delete(s.groups, id)
	s.groupOrder = withoutID(s.groupOrder, id)
	return nil
}

// GroupsForUser returns the groups whose member list contains the user ID,
// newest first.
func (s *IdentityStore) GroupsForUser(_ context.Context, userID string) ([]identity.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var groups []identity.Group
	for i := len(s.groupOrder) - 1; i >= 0; i-- {
		group := s.groups[s.groupOrder[i]]
		if group.HasMember(userID) {
			groups = append(groups, *copyGroup(group))
		}
	}
	return groups, nil
}

// Ping always succeeds for the in-memory store.
func (s *IdentityStore) Ping(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *IdentityStore) Close() error { return nil }

func copyUser(user *identity.User) *identity.User {
	userCopy := *user
	userCopy.Emails = make([]identity.Email, len(user.Emails))
	copy(userCopy.Emails, user.Emails)
	userCopy.Groups = make([]string, len(user.Groups))
	copy(userCopy.Groups, user.Groups)
	return &userCopy
}

func copyGroup(group *identity.Group) *identity.Group {
	groupCopy := *group
	groupCopy.Members = make([]string, len(group.Members))
	copy(groupCopy.Members, group.Members)
	return &groupCopy
}

func withoutID(order []string, id string) []string {
	out := make([]string, 0, len(order))
	for _, existing := range order {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// Compile-time interface verification.
var _ identity.Store = (*IdentityStore)(nil)
