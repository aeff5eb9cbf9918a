// Package sqlite persists SCIM users and groups in a single-file SQLite
// database through the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/identity"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	userName TEXT UNIQUE NOT NULL,
	givenName TEXT,
	familyName TEXT,
	active BOOLEAN DEFAULT 1,
	emails TEXT,
	groups_list TEXT,
	dept TEXT,
	riskScore INTEGER DEFAULT 0,
	created TEXT NOT NULL,
	lastModified TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
	id TEXT PRIMARY KEY,
	displayName TEXT UNIQUE NOT NULL,
	members TEXT,
	created TEXT NOT NULL,
	lastModified TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_userName ON users(userName);
CREATE INDEX IF NOT EXISTS idx_users_active ON users(active);
CREATE INDEX IF NOT EXISTS idx_groups_displayName ON groups(displayName);
`

const (
	selectUser  = `SELECT id, userName, givenName, familyName, active, emails, groups_list, dept, riskScore, created, lastModified FROM users`
	selectGroup = `SELECT id, displayName, members, created, lastModified FROM groups`
)

// Store implements identity.Store on SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewStore opens (creating if needed) the database at path and ensures the
// schema exists. The parent directory is created when missing.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports a single writer; one connection avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path, logger: logger}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logger.Info("identity store opened", "path", path)
	return s, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts the user, filling Created and LastModified when zero.
func (s *Store) CreateUser(ctx context.Context, user *identity.User) error {
	now := time.Now().UTC()
	if user.Created.IsZero() {
		user.Created = now
	}
	if user.LastModified.IsZero() {
		user.LastModified = now
	}

	emails, err := encodeJSON(user.Emails)
	if err != nil {
		return fmt.Errorf("encode emails: %w", err)
	}
	groups, err := encodeJSON(user.Groups)
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO users
		(id, userName, givenName, familyName, active, emails, groups_list, dept, riskScore, created, lastModified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.UserName, user.Name.GivenName, user.Name.FamilyName,
		user.Active, emails, groups, user.Dept, user.RiskScore,
		formatTime(user.Created), formatTime(user.LastModified))
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}

	s.logger.Info("user created", "id", user.ID, "userName", user.UserName)
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*identity.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserByUserName(ctx context.Context, userName string) (*identity.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE userName = ?`, userName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user by userName: %w", err)
	}
	return user, nil
}

// UpdateUser replaces every mutable column and refreshes LastModified.
func (s *Store) UpdateUser(ctx context.Context, user *identity.User) error {
	emails, err := encodeJSON(user.Emails)
	if err != nil {
		return fmt.Errorf("encode emails: %w", err)
	}
	groups, err := encodeJSON(user.Groups)
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}
	user.LastModified = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET
		userName = ?, givenName = ?, familyName = ?, active = ?, emails = ?,
		groups_list = ?, dept = ?, riskScore = ?, lastModified = ?
		WHERE id = ?`,
		user.UserName, user.Name.GivenName, user.Name.FamilyName, user.Active,
		emails, groups, user.Dept, user.RiskScore,
		formatTime(user.LastModified), user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrUserExists
		}
		return fmt.Errorf("update user: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update user: %w", err)
	} else if affected == 0 {
		return identity.ErrUserNotFound
	}

	s.logger.Info("user updated", "id", user.ID, "userName", user.UserName)
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete user: %w", err)
	} else if affected == 0 {
		return identity.ErrUserNotFound
	}

	s.logger.Info("user deleted", "id", id)
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]identity.User, error) {
	rows, err := s.db.QueryContext(ctx, selectUser+` ORDER BY created DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []identity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Groups
// ---------------------------------------------------------------------------

// CreateGroup inserts the group, filling Created and LastModified when zero.
func (s *Store) CreateGroup(ctx context.Context, group *identity.Group) error {
	now := time.Now().UTC()
	if group.Created.IsZero() {
		group.Created = now
	}
	if group.LastModified.IsZero() {
		group.LastModified = now
	}

	members, err := encodeJSON(group.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO groups
		(id, displayName, members, created, lastModified)
		VALUES (?, ?, ?, ?, ?)`,
		group.ID, group.DisplayName, members,
		formatTime(group.Created), formatTime(group.LastModified))
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrGroupExists
		}
		return fmt.Errorf("insert group: %w", err)
	}

	s.logger.Info("group created", "id", group.ID, "displayName", group.DisplayName)
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*identity.Group, error) {
	group, err := scanGroup(s.db.QueryRowContext(ctx, selectGroup+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query group: %w", err)
	}
	return group, nil
}

func (s *Store) GetGroupByDisplayName(ctx context.Context, displayName string) (*identity.Group, error) {
	group, err := scanGroup(s.db.QueryRowContext(ctx, selectGroup+` WHERE displayName = ?`, displayName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query group by displayName: %w", err)
	}
	return group, nil
}

// UpdateGroup replaces displayName and members and refreshes LastModified.
func (s *Store) UpdateGroup(ctx context.Context, group *identity.Group) error {
	members, err := encodeJSON(group.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	group.LastModified = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `UPDATE groups SET
		displayName = ?, members = ?, lastModified = ?
		WHERE id = ?`,
		group.DisplayName, members, formatTime(group.LastModified), group.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrGroupExists
		}
		return fmt.Errorf("update group: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update group: %w", err)
	} else if affected == 0 {
		return identity.ErrGroupNotFound
	}

	s.logger.Info("group updated", "id", group.ID, "displayName", group.DisplayName, "members", len(group.Members))
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete group: %w", err)
	} else if affected == 0 {
		return identity.ErrGroupNotFound
	}

	s.logger.Info("group deleted", "id", id)
	return nil
}

func (s *Store) ListGroups(ctx context.Context) ([]identity.Group, error) {
	rows, err := s.db.QueryContext(ctx, selectGroup+` ORDER BY created DESC`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []identity.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// GroupsForUser filters on the member lists in Go; they are stored as JSON
// text, so there is nothing for an index to bite on anyway.
func (s *Store) GroupsForUser(ctx context.Context, userID string) ([]identity.Group, error) {
	groups, err := s.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	var member []identity.Group
	for _, g := range groups {
		if g.HasMember(userID) {
			member = append(member, g)
		}
	}
	return member, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*identity.User, error) {
	var (
		u                     identity.User
		emails, groups        string
		created, lastModified string
	)
	if err := row.Scan(&u.ID, &u.UserName, &u.Name.GivenName, &u.Name.FamilyName,
		&u.Active, &emails, &groups, &u.Dept, &u.RiskScore, &created, &lastModified); err != nil {
		return nil, err
	}
	if err := decodeJSON(emails, &u.Emails); err != nil {
		return nil, fmt.Errorf("decode emails: %w", err)
	}
	if err := decodeJSON(groups, &u.Groups); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}
	var err error
	if u.Created, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created: %w", err)
	}
	if u.LastModified, err = parseTime(lastModified); err != nil {
		return nil, fmt.Errorf("parse lastModified: %w", err)
	}
	return &u, nil
}

func scanGroup(row rowScanner) (*identity.Group, error) {
	var (
		g                     identity.Group
		members               string
		created, lastModified string
	)
	if err := row.Scan(&g.ID, &g.DisplayName, &members, &created, &lastModified); err != nil {
		return nil, err
	}
	if err := decodeJSON(members, &g.Members); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	var err error
	if g.Created, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created: %w", err)
	}
	if g.LastModified, err = parseTime(lastModified); err != nil {
		return nil, fmt.Errorf("parse lastModified: %w", err)
	}
	return &g, nil
}

// encodeJSON renders a slice column; nil slices become "[]" so the column
// never holds SQL NULL or JSON null.
func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

func decodeJSON(raw string, dest any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// Compile-time interface verification.
var _ identity.Store = (*Store)(nil)
