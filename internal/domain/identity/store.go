package identity

import (
	"context"
	"errors"
)

// Sentinel errors for store operations.
var (
	// ErrUserNotFound is returned when a user id or userName matches nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrGroupNotFound is returned when a group id matches nothing.
	ErrGroupNotFound = errors.New("group not found")
	// ErrUserExists is returned on a userName uniqueness conflict.
	ErrUserExists = errors.New("user already exists")
	// ErrGroupExists is returned on a displayName uniqueness conflict.
	ErrGroupExists = errors.New("group already exists")
)

// Store persists SCIM users and groups. Group membership is canonical on
// the group side: a user's groups are always derived from the member lists,
// never from the user row.
// Implementations: SQLite (default), in-memory (tests).
type Store interface {
	// ListUsers retrieves all users, newest first.
	ListUsers(ctx context.Context) ([]User, error)
	// GetUser retrieves a user by ID.
	// Returns ErrUserNotFound if the user doesn't exist.
	GetUser(ctx context.Context, id string) (*User, error)
	// GetUserByUserName retrieves a user by its unique userName.
	// Returns ErrUserNotFound if the user doesn't exist.
	GetUserByUserName(ctx context.Context, userName string) (*User, error)
	// CreateUser inserts a new user. The caller assigns the ID.
	// Returns ErrUserExists on a userName conflict.
	CreateUser(ctx context.Context, user *User) error
	// UpdateUser replaces an existing user wholesale.
	// Returns ErrUserNotFound if the user doesn't exist.
	UpdateUser(ctx context.Context, user *User) error
	// DeleteUser removes a user by ID.
	// Returns ErrUserNotFound if the user doesn't exist.
	DeleteUser(ctx context.Context, id string) error
	// CountUsers reports the number of provisioned users.
	CountUsers(ctx context.Context) (int, error)

	// ListGroups retrieves all groups, newest first.
	ListGroups(ctx context.Context) ([]Group, error)
	// GetGroup retrieves a group by ID.
	// Returns ErrGroupNotFound if the group doesn't exist.
	GetGroup(ctx context.Context, id string) (*Group, error)
	// GetGroupByDisplayName retrieves a group by its unique displayName.
	// Returns ErrGroupNotFound if the group doesn't exist.
	GetGroupByDisplayName(ctx context.Context, displayName string) (*Group, error)
	// CreateGroup inserts a new group. The caller assigns the ID.
	// Returns ErrGroupExists on a displayName conflict.
	CreateGroup(ctx context.Context, group *Group) error
	// UpdateGroup replaces an existing group wholesale.
	// Returns ErrGroupNotFound if the group doesn't exist.
	UpdateGroup(ctx context.Context, group *Group) error
	// DeleteGroup removes a group by ID.
	// Returns ErrGroupNotFound if the group doesn't exist.
	DeleteGroup(ctx context.Context, id string) error
	// GroupsForUser retrieves the groups whose member list contains the
	// user ID, newest first.
	GroupsForUser(ctx context.Context, userID string) ([]Group, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
