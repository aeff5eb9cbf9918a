package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/audit"
	"github.com/Aegis-Gate/Aegisgate/internal/domain/identity"
)

// SCIMService errors.
var (
	// ErrInvalidInput flags a payload that failed SCIM schema validation.
	ErrInvalidInput = errors.New("invalid scim input")
)

var userNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// UserInput is the inbound user representation for create and replace.
// Active defaults to true when omitted.
type UserInput struct {
	UserName  string           `json:"userName" validate:"required,min=2,max=50"`
	Name      identity.Name    `json:"name"`
	Emails    []identity.Email `json:"emails"`
	Active    *bool            `json:"active"`
	Groups    []string         `json:"groups"`
	Dept      string           `json:"dept"`
	RiskScore int              `json:"riskScore" validate:"gte=0,lte=100"`
}

// GroupInput is the inbound group representation for create and replace.
type GroupInput struct {
	DisplayName string        `json:"displayName" validate:"required,max=100"`
	Members     []MemberInput `json:"members" validate:"dive"`
}

// MemberInput is one member reference in a group payload.
type MemberInput struct {
	Value   string `json:"value" validate:"required"`
	Display string `json:"display"`
}

// Member is a resolved group member entry.
type Member struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
}

// GroupView pairs a group with its member entries resolved to user names.
type GroupView struct {
	Group   identity.Group
	Members []Member
}

// SCIMService implements user and group provisioning on top of the identity
// store. Group membership is canonical on the group side; the service keeps
// the denormalized per-user group list in step with the member lists and
// always renders memberships from the canonical side.
type SCIMService struct {
	store    identity.Store
	recorder audit.Recorder
	validate *validator.Validate
	logger   *slog.Logger
	mu       sync.Mutex // serializes multi-step provisioning writes
}

// SCIMOption configures a SCIMService.
type SCIMOption func(*SCIMService)

// WithProvisioningRecorder wires an audit recorder for provisioning events.
func WithProvisioningRecorder(recorder audit.Recorder) SCIMOption {
	return func(s *SCIMService) {
		s.recorder = recorder
	}
}

// NewSCIMService creates a SCIMService backed by the given store.
func NewSCIMService(store identity.Store, logger *slog.Logger, opts ...SCIMOption) *SCIMService {
	s := &SCIMService{
		store:    store,
		validate: newSCIMValidator(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newSCIMValidator builds the validator with SCIM-specific rules: wire field
// names in messages, the userName charset, and at most one primary email.
func newSCIMValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateUserInput, UserInput{})
	return v
}

func validateUserInput(sl validator.StructLevel) {
	in := sl.Current().Interface().(UserInput)
	if in.UserName != "" && !userNamePattern.MatchString(in.UserName) {
		sl.ReportError(in.UserName, "userName", "UserName", "scim_username", "")
	}
	primaries := 0
	for i, email := range in.Emails {
		if email.Value == "" {
			sl.ReportError(in.Emails, fmt.Sprintf("emails[%d].value", i), "Emails", "required", "")
		}
		if email.Primary {
			primaries++
		}
	}
	if primaries > 1 {
		sl.ReportError(in.Emails, "emails", "Emails", "scim_one_primary", "")
	}
}

func (s *SCIMService) checkInput(in any) error {
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, describeFieldError(e))
	}
	return strings.Join(msgs, "; ")
}

func describeFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
	case "scim_username":
		return fmt.Sprintf("%s may only contain letters, digits, '.', '_' and '-'", e.Field())
	case "scim_one_primary":
		return fmt.Sprintf("%s may declare at most one primary entry", e.Field())
	default:
		return fmt.Sprintf("%s failed validation: %s", e.Field(), e.Tag())
	}
}

func newUserID() string  { return "usr_" + uuid.New().String()[:8] }
func newGroupID() string { return "grp_" + uuid.New().String()[:8] }

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// ListUsers returns all users with memberships rendered from the group side.
func (s *SCIMService) ListUsers(ctx context.Context) ([]identity.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	byMember := make(map[string][]string)
	for _, g := range groups {
		for _, id := range g.Members {
			byMember[id] = append(byMember[id], g.DisplayName)
		}
	}
	for i := range users {
		names := byMember[users[i].ID]
		sort.Strings(names)
		users[i].Groups = names
	}
	return users, nil
}

// GetUser returns one user by ID.
// Returns identity.ErrUserNotFound if the user doesn't exist.
func (s *SCIMService) GetUser(ctx context.Context, id string) (*identity.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	names, err := s.userGroupNames(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Groups = names
	return user, nil
}

// FindUserByName returns one user by its unique userName.
// Returns identity.ErrUserNotFound if the user doesn't exist.
func (s *SCIMService) FindUserByName(ctx context.Context, userName string) (*identity.User, error) {
	user, err := s.store.GetUserByUserName(ctx, userName)
	if err != nil {
		return nil, err
	}
	names, err := s.userGroupNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Groups = names
	return user, nil
}

// CountUsers reports the number of provisioned users.
func (s *SCIMService) CountUsers(ctx context.Context) (int, error) {
	return s.store.CountUsers(ctx)
}

// CreateUser provisions a new user. Every referenced group must already
// exist; the user is then added to each group's member list.
// Returns identity.ErrUserExists on a userName conflict and
// identity.ErrGroupNotFound when a referenced group is missing.
func (s *SCIMService) CreateUser(ctx context.Context, input UserInput) (*identity.User, error) {
	if err := s.checkInput(input); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	groups, names, err := s.resolveGroupNames(ctx, input.Groups)
	if err != nil {
		return nil, err
	}

	active := true
	if input.Active != nil {
		active = *input.Active
	}
	user := &identity.User{
		ID:        newUserID(),
		UserName:  input.UserName,
		Name:      input.Name,
		Emails:    input.Emails,
		Active:    active,
		Groups:    names,
		Dept:      input.Dept,
		RiskScore: input.RiskScore,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	for _, g := range groups {
		if g.HasMember(user.ID) {
			continue
		}
		g.Members = append(g.Members, user.ID)
		if err := s.store.UpdateGroup(ctx, g); err != nil {
			s.logger.Warn("failed to add user to group",
				"user_id", user.ID, "group", g.DisplayName, "error", err)
		}
	}
	if err := s.reconcileUserGroups(ctx, user); err != nil {
		s.logger.Warn("failed to reconcile user groups", "user_id", user.ID, "error", err)
	}

	s.logger.Info("scim user created", "id", user.ID, "userName", user.UserName, "groups", len(user.Groups))
	s.record(audit.EventTypeUserCreate, user.ID, user.UserName,
		fmt.Sprintf("groups=%d", len(user.Groups)))
	return user, nil
}

// ReplaceUser replaces a user wholesale. Group membership is diffed against
// the canonical member lists: the user is removed from groups no longer
// named and added to newly named ones.
// Returns identity.ErrUserNotFound, identity.ErrUserExists on a userName
// conflict, or identity.ErrGroupNotFound when a referenced group is missing.
func (s *SCIMService) ReplaceUser(ctx context.Context, id string, input UserInput) (*identity.User, error) {
	if err := s.checkInput(input); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	desired, desiredNames, err := s.resolveGroupNames(ctx, input.Groups)
	if err != nil {
		return nil, err
	}
	currentGroups, err := s.store.GroupsForUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve current groups: %w", err)
	}

	active := true
	if input.Active != nil {
		active = *input.Active
	}
	user := &identity.User{
		ID:        id,
		UserName:  input.UserName,
		Name:      input.Name,
		Emails:    input.Emails,
		Active:    active,
		Groups:    desiredNames,
		Dept:      input.Dept,
		RiskScore: input.RiskScore,
		Created:   current.Created,
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	inDesired := make(map[string]bool, len(desiredNames))
	for _, name := range desiredNames {
		inDesired[name] = true
	}
	for i := range currentGroups {
		g := &currentGroups[i]
		if inDesired[g.DisplayName] {
			continue
		}
		g.Members = withoutMember(g.Members, id)
		if err := s.store.UpdateGroup(ctx, g); err != nil {
			s.logger.Warn("failed to remove user from group",
				"user_id", id, "group", g.DisplayName, "error", err)
		}
	}
	for _, g := range desired {
		if g.HasMember(id) {
			continue
		}
		g.Members = append(g.Members, id)
		if err := s.store.UpdateGroup(ctx, g); err != nil {
			s.logger.Warn("failed to add user to group",
				"user_id", id, "group", g.DisplayName, "error", err)
		}
	}
	if err := s.reconcileUserGroups(ctx, user); err != nil {
		s.logger.Warn("failed to reconcile user groups", "user_id", id, "error", err)
	}

	s.logger.Info("scim user replaced", "id", id, "userName", user.UserName, "groups", len(user.Groups))
	s.record(audit.EventTypeUserReplace, id, user.UserName,
		fmt.Sprintf("groups=%d", len(user.Groups)))
	return user, nil
}

// DeleteUser removes a user, clearing its group memberships first.
// Returns identity.ErrUserNotFound if the user doesn't exist.
func (s *SCIMService) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}

	groups, err := s.store.GroupsForUser(ctx, id)
	if err != nil {
		return fmt.Errorf("resolve current groups: %w", err)
	}
	for i := range groups {
		g := &groups[i]
		g.Members = withoutMember(g.Members, id)
		if err := s.store.UpdateGroup(ctx, g); err != nil {
			s.logger.Warn("failed to remove user from group",
				"user_id", id, "group", g.DisplayName, "error", err)
		}
	}

	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}

	s.logger.Info("scim user deleted", "id", id, "userName", user.UserName)
	s.record(audit.EventTypeUserDelete, id, user.UserName, "")
	return nil
}

// resolveGroupNames validates that every named group exists and returns the
// group rows alongside the deduplicated, sorted display names.
func (s *SCIMService) resolveGroupNames(ctx context.Context, names []string) ([]*identity.Group, []string, error) {
	groups := make([]*identity.Group, 0, len(names))
	resolved := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		group, err := s.store.GetGroupByDisplayName(ctx, name)
		if errors.Is(err, identity.ErrGroupNotFound) {
			return nil, nil, fmt.Errorf("group %q does not exist: %w", name, err)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("resolve group %q: %w", name, err)
		}
		groups = append(groups, group)
		resolved = append(resolved, name)
	}
	sort.Strings(resolved)
	return groups, resolved, nil
}

// userGroupNames derives the user's memberships from the canonical group
// member lists, sorted for stable rendering.
func (s *SCIMService) userGroupNames(ctx context.Context, userID string) ([]string, error) {
	groups, err := s.store.GroupsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user groups: %w", err)
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.DisplayName)
	}
	sort.Strings(names)
	return names, nil
}

// reconcileUserGroups rewrites the user's denormalized group list when it
// has drifted from the canonical member lists, as after a partial membership
// update. The happy path writes nothing.
func (s *SCIMService) reconcileUserGroups(ctx context.Context, user *identity.User) error {
	names, err := s.userGroupNames(ctx, user.ID)
	if err != nil {
		return err
	}
	if slices.Equal(user.Groups, names) {
		return nil
	}
	user.Groups = names
	return s.store.UpdateUser(ctx, user)
}

func withoutMember(members []string, userID string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != userID {
			out = append(out, m)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Groups
// ---------------------------------------------------------------------------

// ListGroups returns all groups with member entries resolved to user names.
func (s *SCIMService) ListGroups(ctx context.Context) ([]GroupView, error) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	nameByID := make(map[string]string, len(users))
	for i := range users {
		nameByID[users[i].ID] = users[i].UserName
	}
	views := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		members := make([]Member, 0, len(g.Members))
		for _, id := range g.Members {
			name, ok := nameByID[id]
			if !ok {
				s.logger.Warn("group member no longer exists", "group_id", g.ID, "user_id", id)
				continue
			}
			members = append(members, Member{Value: id, Display: name})
		}
		views = append(views, GroupView{Group: g, Members: members})
	}
	return views, nil
}

// GetGroup returns one group by ID.
// Returns identity.ErrGroupNotFound if the group doesn't exist.
func (s *SCIMService) GetGroup(ctx context.Context, id string) (*GroupView, error) {
	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &GroupView{Group: *group, Members: s.resolveMembers(ctx, group)}
	return view, nil
}

// FindGroupByName returns one group by its unique displayName.
// Returns identity.ErrGroupNotFound if the group doesn't exist.
func (s *SCIMService) FindGroupByName(ctx context.Context, displayName string) (*GroupView, error) {
	group, err := s.store.GetGroupByDisplayName(ctx, displayName)
	if err != nil {
		return nil, err
	}
	view := &GroupView{Group: *group, Members: s.resolveMembers(ctx, group)}
	return view, nil
}

// CreateGroup provisions a new group. Every referenced member must already
// exist as a user.
// Returns identity.ErrGroupExists on a displayName conflict and
// identity.ErrUserNotFound when a referenced member is missing.
func (s *SCIMService) CreateGroup(ctx context.Context, input GroupInput) (*GroupView, error) {
	if err := s.checkInput(input); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	members, err := s.resolveMemberIDs(ctx, input.Members)
	if err != nil {
		return nil, err
	}

	group := &identity.Group{
		ID:          newGroupID(),
		DisplayName: input.DisplayName,
		Members:     memberValues(members),
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	s.syncMemberRows(ctx, group.Members)

	s.logger.Info("scim group created",
		"id", group.ID, "displayName", group.DisplayName, "members", len(group.Members))
	s.record(audit.EventTypeGroupCreate, group.ID, group.DisplayName,
		fmt.Sprintf("members=%d", len(group.Members)))
	return &GroupView{Group: *group, Members: members}, nil
}

// ReplaceGroup replaces a group wholesale, members included. Every
// referenced member must already exist as a user.
// Returns identity.ErrGroupNotFound, identity.ErrGroupExists on a
// displayName conflict, or identity.ErrUserNotFound when a referenced
// member is missing.
func (s *SCIMService) ReplaceGroup(ctx context.Context, id string, input GroupInput) (*GroupView, error) {
	if err := s.checkInput(input); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.resolveMemberIDs(ctx, input.Members)
	if err != nil {
		return nil, err
	}

	group := &identity.Group{
		ID:          id,
		DisplayName: input.DisplayName,
		Members:     memberValues(members),
		Created:     current.Created,
	}
	if err := s.store.UpdateGroup(ctx, group); err != nil {
		return nil, err
	}
	s.syncMemberRows(ctx, union(current.Members, group.Members))

	s.logger.Info("scim group replaced",
		"id", id, "displayName", group.DisplayName, "members", len(group.Members))
	s.record(audit.EventTypeGroupReplace, id, group.DisplayName,
		fmt.Sprintf("members=%d", len(group.Members)))
	return &GroupView{Group: *group, Members: members}, nil
}

// UpdateGroupMembers replaces only the member list of a group; the display
// name is kept. Every referenced member must already exist as a user.
// Returns identity.ErrGroupNotFound or identity.ErrUserNotFound.
func (s *SCIMService) UpdateGroupMembers(ctx context.Context, id string, refs []MemberInput) (*GroupView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.resolveMemberIDs(ctx, refs)
	if err != nil {
		return nil, err
	}

	group := &identity.Group{
		ID:          id,
		DisplayName: current.DisplayName,
		Members:     memberValues(members),
		Created:     current.Created,
	}
	if err := s.store.UpdateGroup(ctx, group); err != nil {
		return nil, err
	}
	s.syncMemberRows(ctx, union(current.Members, group.Members))

	s.logger.Info("scim group members updated", "id", id, "members", len(group.Members))
	s.record(audit.EventTypeGroupReplace, id, group.DisplayName,
		fmt.Sprintf("members=%d", len(group.Members)))
	return &GroupView{Group: *group, Members: members}, nil
}

// AddGroupMember adds one user to a group. Adding a user that is already a
// member is a no-op.
// Returns identity.ErrGroupNotFound or identity.ErrUserNotFound.
func (s *SCIMService) AddGroupMember(ctx context.Context, id, userID string) (*GroupView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil, fmt.Errorf("user %q does not exist: %w", userID, err)
	}
	if err != nil {
		return nil, err
	}

	if !group.HasMember(userID) {
		group.Members = append(group.Members, userID)
		if err := s.store.UpdateGroup(ctx, group); err != nil {
			return nil, err
		}
		s.syncMemberRows(ctx, []string{userID})
		s.logger.Info("scim group member added",
			"id", id, "user_id", userID, "userName", user.UserName)
		s.record(audit.EventTypeGroupReplace, id, group.DisplayName,
			"member added: "+user.UserName)
	}
	return &GroupView{Group: *group, Members: s.resolveMembers(ctx, group)}, nil
}

// RemoveGroupMember removes one user from a group. Removing a user that is
// not a member is a no-op.
// Returns identity.ErrGroupNotFound if the group doesn't exist.
func (s *SCIMService) RemoveGroupMember(ctx context.Context, id, userID string) (*GroupView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}

	if group.HasMember(userID) {
		group.Members = withoutMember(group.Members, userID)
		if err := s.store.UpdateGroup(ctx, group); err != nil {
			return nil, err
		}
		s.syncMemberRows(ctx, []string{userID})
		s.logger.Info("scim group member removed", "id", id, "user_id", userID)
		s.record(audit.EventTypeGroupReplace, id, group.DisplayName,
			"member removed: "+userID)
	}
	return &GroupView{Group: *group, Members: s.resolveMembers(ctx, group)}, nil
}

// DeleteGroup removes a group.
// Returns identity.ErrGroupNotFound if the group doesn't exist.
func (s *SCIMService) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteGroup(ctx, id); err != nil {
		return err
	}
	s.syncMemberRows(ctx, group.Members)

	s.logger.Info("scim group deleted", "id", id, "displayName", group.DisplayName)
	s.record(audit.EventTypeGroupDelete, id, group.DisplayName, "")
	return nil
}

// resolveMemberIDs validates that every referenced member exists and returns
// the deduplicated entries with display names resolved.
func (s *SCIMService) resolveMemberIDs(ctx context.Context, refs []MemberInput) ([]Member, error) {
	members := make([]Member, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if seen[ref.Value] {
			continue
		}
		seen[ref.Value] = true
		user, err := s.store.GetUser(ctx, ref.Value)
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, fmt.Errorf("user %q does not exist: %w", ref.Value, err)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve member %q: %w", ref.Value, err)
		}
		members = append(members, Member{Value: user.ID, Display: user.UserName})
	}
	return members, nil
}

// resolveMembers maps the group's member IDs to display entries, dropping
// IDs that no longer resolve to a provisioned user.
func (s *SCIMService) resolveMembers(ctx context.Context, g *identity.Group) []Member {
	members := make([]Member, 0, len(g.Members))
	for _, id := range g.Members {
		user, err := s.store.GetUser(ctx, id)
		if errors.Is(err, identity.ErrUserNotFound) {
			s.logger.Warn("group member no longer exists", "group_id", g.ID, "user_id", id)
			continue
		}
		if err != nil {
			s.logger.Warn("member lookup failed", "group_id", g.ID, "user_id", id, "error", err)
			continue
		}
		members = append(members, Member{Value: id, Display: user.UserName})
	}
	return members
}

// syncMemberRows reconciles the denormalized group list of each affected
// user after a group-side membership change. Failures are logged, not
// propagated; the canonical member lists already hold the truth.
func (s *SCIMService) syncMemberRows(ctx context.Context, userIDs []string) {
	for _, id := range userIDs {
		user, err := s.store.GetUser(ctx, id)
		if err != nil {
			s.logger.Warn("failed to load user for group sync", "user_id", id, "error", err)
			continue
		}
		if err := s.reconcileUserGroups(ctx, user); err != nil {
			s.logger.Warn("failed to reconcile user groups", "user_id", id, "error", err)
		}
	}
}

func memberValues(members []Member) []string {
	values := make([]string, 0, len(members))
	for _, m := range members {
		values = append(values, m.Value)
	}
	return values
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (s *SCIMService) record(eventType, targetID, targetName, detail string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(audit.Record{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		TargetID:   targetID,
		TargetName: targetName,
		Detail:     detail,
	})
}
