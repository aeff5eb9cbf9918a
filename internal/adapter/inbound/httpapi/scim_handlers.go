package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/identity"
	"github.com/Aegis-Gate/Aegisgate/internal/service"
)

// scimContentType is the media type SCIM responses are served with.
const scimContentType = "application/scim+json"

// --- Wire shapes ---

type scimName struct {
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
	Formatted  string `json:"formatted,omitempty"`
}

type scimEmail struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary"`
}

type scimMeta struct {
	ResourceType string    `json:"resourceType"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	Location     string    `json:"location"`
}

type userResource struct {
	Schemas   []string    `json:"schemas"`
	ID        string      `json:"id"`
	UserName  string      `json:"userName"`
	Name      scimName    `json:"name"`
	Active    bool        `json:"active"`
	Emails    []scimEmail `json:"emails"`
	Groups    []string    `json:"groups"`
	Dept      string      `json:"dept,omitempty"`
	RiskScore int         `json:"riskScore"`
	Meta      scimMeta    `json:"meta"`
}

type groupMember struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
	Ref     string `json:"$ref,omitempty"`
}

type groupResource struct {
	Schemas     []string      `json:"schemas"`
	ID          string        `json:"id"`
	DisplayName string        `json:"displayName"`
	Members     []groupMember `json:"members"`
	Meta        scimMeta      `json:"meta"`
}

type listResponse struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	Resources    []any    `json:"Resources"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
}

type scimError struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	ScimType string   `json:"scimType,omitempty"`
	Detail   string   `json:"detail"`
}

// --- Render helpers ---

// respondSCIM writes a SCIM response with the given status code and resource.
func (h *APIHandler) respondSCIM(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", scimContentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode SCIM response", "error", err)
	}
}

// respondSCIMError writes a SCIM error envelope. scimType may be empty.
func (h *APIHandler) respondSCIMError(w http.ResponseWriter, status int, scimType, detail string) {
	h.respondSCIM(w, status, scimError{
		Schemas:  []string{identity.SchemaError},
		Status:   strconv.Itoa(status),
		ScimType: scimType,
		Detail:   detail,
	})
}

func renderName(n identity.Name) scimName {
	out := scimName{GivenName: n.GivenName, FamilyName: n.FamilyName}
	parts := make([]string, 0, 2)
	if n.GivenName != "" {
		parts = append(parts, n.GivenName)
	}
	if n.FamilyName != "" {
		parts = append(parts, n.FamilyName)
	}
	out.Formatted = strings.Join(parts, " ")
	return out
}

func renderUser(u *identity.User) userResource {
	emails := make([]scimEmail, 0, len(u.Emails))
	for _, e := range u.Emails {
		emails = append(emails, scimEmail{Value: e.Value, Type: e.Type, Primary: e.Primary})
	}
	groups := u.Groups
	if groups == nil {
		groups = []string{}
	}
	return userResource{
		Schemas:   []string{identity.SchemaUser},
		ID:        u.ID,
		UserName:  u.UserName,
		Name:      renderName(u.Name),
		Active:    u.Active,
		Emails:    emails,
		Groups:    groups,
		Dept:      u.Dept,
		RiskScore: u.RiskScore,
		Meta: scimMeta{
			ResourceType: "User",
			Created:      u.Created.UTC(),
			LastModified: u.LastModified.UTC(),
			Location:     "/scim/v2/Users/" + u.ID,
		},
	}
}

func renderGroup(v *service.GroupView) groupResource {
	members := make([]groupMember, 0, len(v.Members))
	for _, m := range v.Members {
		members = append(members, groupMember{
			Value:   m.Value,
			Display: m.Display,
			Ref:     "/scim/v2/Users/" + m.Value,
		})
	}
	return groupResource{
		Schemas:     []string{identity.SchemaGroup},
		ID:          v.Group.ID,
		DisplayName: v.Group.DisplayName,
		Members:     members,
		Meta: scimMeta{
			ResourceType: "Group",
			Created:      v.Group.Created.UTC(),
			LastModified: v.Group.LastModified.UTC(),
			Location:     "/scim/v2/Groups/" + v.Group.ID,
		},
	}
}

func scimList(resources []any) listResponse {
	return listResponse{
		Schemas:      []string{identity.SchemaListResponse},
		TotalResults: len(resources),
		Resources:    resources,
		StartIndex:   1,
		ItemsPerPage: len(resources),
	}
}

// parseEqFilter parses the only supported filter form: `attr eq "value"`.
func parseEqFilter(filter, attr string) (string, bool) {
	prefix := attr + ` eq "`
	if strings.HasPrefix(filter, prefix) && strings.HasSuffix(filter, `"`) && len(filter) > len(prefix) {
		return strings.TrimSuffix(strings.TrimPrefix(filter, prefix), `"`), true
	}
	return "", false
}

// mapUserError writes the SCIM error for a failed user operation. id is the
// path id (replace/get/delete), userName the payload name (create/replace).
func (h *APIHandler) mapUserError(w http.ResponseWriter, r *http.Request, err error, userName, id, fallback string) {
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		h.respondSCIMError(w, http.StatusNotFound, "",
			fmt.Sprintf("User with ID '%s' not found", id))
	case errors.Is(err, identity.ErrUserExists):
		h.respondSCIMError(w, http.StatusConflict, "uniqueness",
			fmt.Sprintf("User with userName '%s' already exists", userName))
	case errors.Is(err, identity.ErrGroupNotFound):
		h.respondSCIMError(w, http.StatusBadRequest, "invalidValue", err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		h.respondSCIMError(w, http.StatusBadRequest, "invalidValue", err.Error())
	default:
		LoggerFromContext(r.Context()).Error("scim user operation failed", "error", err)
		h.respondSCIMError(w, http.StatusInternalServerError, "", fallback)
	}
}

// mapGroupError writes the SCIM error for a failed group operation. Note the
// inversion against mapUserError: a missing group is the 404, a missing user
// is a bad member reference.
func (h *APIHandler) mapGroupError(w http.ResponseWriter, r *http.Request, err error, displayName, id, fallback string) {
	switch {
	case errors.Is(err, identity.ErrGroupNotFound):
		h.respondSCIMError(w, http.StatusNotFound, "",
			fmt.Sprintf("Group with ID '%s' not found", id))
	case errors.Is(err, identity.ErrGroupExists):
		h.respondSCIMError(w, http.StatusConflict, "uniqueness",
			fmt.Sprintf("Group with displayName '%s' already exists", displayName))
	case errors.Is(err, identity.ErrUserNotFound):
		h.respondSCIMError(w, http.StatusBadRequest, "invalidValue", err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		h.respondSCIMError(w, http.StatusBadRequest, "invalidValue", err.Error())
	default:
		LoggerFromContext(r.Context()).Error("scim group operation failed", "error", err)
		h.respondSCIMError(w, http.StatusInternalServerError, "", fallback)
	}
}

// --- User handlers ---

// handleListUsers lists users, optionally filtered by userName.
// GET /scim/v2/Users.
func (h *APIHandler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	logger := LoggerFromContext(r.Context())

	if filter := r.URL.Query().Get("filter"); filter != "" {
		userName, ok := parseEqFilter(filter, "userName")
		if !ok {
			logger.Warn("unsupported filter format", "filter", filter)
			h.respondSCIMError(w, http.StatusBadRequest, "invalidFilter",
				`Unsupported filter format. Only 'userName eq "value"' is supported`)
			return
		}
		user, err := h.scimService.FindUserByName(r.Context(), userName)
		if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
			logger.Error("failed to filter users", "userName", userName, "error", err)
			h.respondSCIMError(w, http.StatusInternalServerError, "",
				"Internal server error during user listing")
			return
		}
		resources := []any{}
		if user != nil {
			resources = append(resources, renderUser(user))
		}
		h.respondSCIM(w, http.StatusOK, scimList(resources))
		return
	}

	users, err := h.scimService.ListUsers(r.Context())
	if err != nil {
		logger.Error("failed to list users", "error", err)
		h.respondSCIMError(w, http.StatusInternalServerError, "",
			"Internal server error during user listing")
		return
	}
	resources := make([]any, 0, len(users))
	for i := range users {
		resources = append(resources, renderUser(&users[i]))
	}
	h.respondSCIM(w, http.StatusOK, scimList(resources))
}

// handleCreateUser provisions a new user. POST /scim/v2/Users.
func (h *APIHandler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	logger := LoggerFromContext(r.Context())

	var input service.UserInput
	if err := h.readJSON(r, &input); err != nil {
		h.respondSCIMError(w, http.StatusBadRequest, "invalidSyntax", "Malformed JSON body")
		return
	}

	user, err := h.scimService.CreateUser(r.Context(), input)
	if err != nil {
		h.mapUserError(w, r, err, input.UserName, "",
			"Internal server error during user creation")
		return
	}

	logger.Info("scim user created via API", "userId", user.ID, "userName", user.UserName)
	h.respondSCIM(w, http.StatusCreated, renderUser(user))
}

// handleGetUser returns one user by ID. GET /scim/v2/Users/{id}.
func (h *APIHandler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	id := h.pathParam(r, "id")

	user, err := h.scimService.GetUser(r.Context(), id)
	if err != nil {
		h.mapUserError(w, r, err, "", id, "Internal server error during user retrieval")
		return
	}
	h.respondSCIM(w, http.StatusOK, renderUser(user))
}

// handleReplaceUser replaces a user wholesale. PUT /scim/v2/Users/{id}.
func (h *APIHandler) handleReplaceUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	logger := LoggerFromContext(r.Context())
	id := h.pathParam(r, "id")

	var input service.UserInput
	if err := h.readJSON(r, &input); err != nil {
		h.respondSCIMError(w, http.StatusBadRequest, "invalidSyntax", "Malformed JSON body")
		return
	}

	user, err := h.scimService.ReplaceUser(r.Context(), id, input)
	if err != nil {
		h.mapUserError(w, r, err, input.UserName, id,
			"Internal server error during user update")
		return
	}

	logger.Info("scim user replaced via API", "userId", id, "userName", user.UserName)
	h.respondSCIM(w, http.StatusOK, renderUser(user))
}

// handleDeleteUser removes a user. DELETE /scim/v2/Users/{id}.
func (h *APIHandler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	logger := LoggerFromContext(r.Context())
	id := h.pathParam(r, "id")

	if err := h.scimService.DeleteUser(r.Context(), id); err != nil {
		h.mapUserError(w, r, err, "", id, "Internal server error during user deletion")
		return
	}

	logger.Info("scim user deleted via API", "userId", id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Group handlers ---

// handleListGroups lists groups, optionally filtered by displayName.
// GET /scim/v2/Groups.
func (h *APIHandler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	logger := LoggerFromContext(r.Context())

	if filter := r.URL.Query().Get("filter"); filter != "" {
		displayName, ok := parseEqFilter(filter, "displayName")
		if !ok {
			logger.Warn("unsupported filter format", "filter", filter)
			h.respondSCIMError(w, http.StatusBadRequest, "invalidFilter",
				`Unsupported filter format. Only 'displayName eq "value"' is supported`)
			return
		}
		group, err := h.scimService.FindGroupByName(r.Context(), displayName)
		if err != nil && !errors.Is(err, identity.ErrGroupNotFound) {
			logger.Error("failed to filter groups", "displayName", displayName, "error", err)
			h.respondSCIMError(w, http.StatusInternalServerError, "",
				"Internal server error during group listing")
			return
		}
		resources := []any{}
		if group != nil {
			resources = append(resources, renderGroup(group))
		}
		h.respondSCIM(w, http.StatusOK, scimList(resources))
		return
	}

	groups, err := h.scimService.ListGroups(r.Context())
	if err != nil {
		logger.Error("failed to list groups", "error", err)
		h.respondSCIMError(w, http.StatusInternalServerError, "",
			"Internal server error during group listing")
		return
	}
	resources := make([]any, 0, len(groups))
	for i := range groups {
		resources = append(resources, renderGroup(&groups[i]))
	}
	h.respondSCIM(w, http.StatusOK, scimList(resources))
}

// handleCreateGroup provisions a new group. POST /scim/v2/Groups.
func (h *APIHandler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	logger := LoggerFromContext(r.Context())

	var input service.GroupInput
	if err := h.readJSON(r, &input); err != nil {
		h.respondSCIMError(w, http.StatusBadRequest, "invalidSyntax", "Malformed JSON body")
		return
	}

	group, err := h.scimService.CreateGroup(r.Context(), input)
	if err != nil {
		h.mapGroupError(w, r, err, input.DisplayName, "",
			"Internal server error during group creation")
		return
	}

	logger.Info("scim group created via API",
		"groupId", group.Group.ID, "displayName", group.Group.DisplayName)
	h.respondSCIM(w, http.StatusCreated, renderGroup(group))
}

// handleGetGroup returns one group by ID. GET /scim/v2/Groups/{id}.
func (h *APIHandler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	id := h.pathParam(r, "id")

	group, err := h.scimService.GetGroup(r.Context(), id)
	if err != nil {
		h.mapGroupError(w, r, err, "", id, "Internal server error during group retrieval")
		return
	}
	h.respondSCIM(w, http.StatusOK, renderGroup(group))
}

// handleReplaceGroup replaces a group wholesale, members included.
// PUT /scim/v2/Groups/{id}.
func (h *APIHandler) handleReplaceGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	logger := LoggerFromContext(r.Context())
	id := h.pathParam(r, "id")

	var input service.GroupInput
	if err := h.readJSON(r, &input); err != nil {
		h.respondSCIMError(w, http.StatusBadRequest, "invalidSyntax", "Malformed JSON body")
		return
	}

	group, err := h.scimService.ReplaceGroup(r.Context(), id, input)
	if err != nil {
		h.mapGroupError(w, r, err, input.DisplayName, id,
			"Internal server error during group update")
		return
	}

	logger.Info("scim group replaced via API",
		"groupId", id, "memberCount", len(group.Members))
	h.respondSCIM(w, http.StatusOK, renderGroup(group))
}

// updateMembersRequest distinguishes an absent members field from an
// explicitly empty list.
type updateMembersRequest struct {
	Members *[]service.MemberInput `json:"members"`
}

// handleUpdateGroupMembers replaces only the member list of a group.
// PATCH /scim/v2/Groups/{id}.
func (h *APIHandler) handleUpdateGroupMembers(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	logger := LoggerFromContext(r.Context())
	id := h.pathParam(r, "id")

	var req updateMembersRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondSCIMError(w, http.StatusBadRequest, "invalidSyntax", "Malformed JSON body")
		return
	}
	if req.Members == nil {
		h.respondSCIMError(w, http.StatusBadRequest, "invalidSyntax",
			"Missing 'members' field in request body")
		return
	}

	group, err := h.scimService.UpdateGroupMembers(r.Context(), id, *req.Members)
	if err != nil {
		h.mapGroupError(w, r, err, "", id, "Internal server error during group update")
		return
	}

	logger.Info("scim group members updated via API",
		"groupId", id, "memberCount", len(group.Members))
	h.respondSCIM(w, http.StatusOK, renderGroup(group))
}

// addMemberRequest is one member reference for the add-member endpoint.
type addMemberRequest struct {
	Value   string `json:"value"`
	Display string `json:"display"`
}

// handleAddGroupMember adds a single user to a group.
// POST /scim/v2/Groups/{id}/members.
func (h *APIHandler) handleAddGroupMember(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	logger := LoggerFromContext(r.Context())
	id := h.pathParam(r, "id")

	var req addMemberRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondSCIMError(w, http.StatusBadRequest, "invalidSyntax", "Malformed JSON body")
		return
	}
	if req.Value == "" {
		h.respondSCIMError(w, http.StatusBadRequest, "invalidSyntax",
			"Missing 'value' field in request body")
		return
	}

	group, err := h.scimService.AddGroupMember(r.Context(), id, req.Value)
	if err != nil {
		h.mapGroupError(w, r, err, "", id, "Internal server error during member addition")
		return
	}

	logger.Info("scim group member added via API", "groupId", id, "userId", req.Value)
	h.respondSCIM(w, http.StatusOK, renderGroup(group))
}

// handleRemoveGroupMember removes a single user from a group. Removing a
// user that is not a member succeeds unchanged.
// DELETE /scim/v2/Groups/{id}/members/{userId}.
func (h *APIHandler) handleRemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	logger := LoggerFromContext(r.Context())
	id := h.pathParam(r, "id")
	userID := h.pathParam(r, "userId")

	group, err := h.scimService.RemoveGroupMember(r.Context(), id, userID)
	if err != nil {
		h.mapGroupError(w, r, err, "", id, "Internal server error during member removal")
		return
	}

	logger.Info("scim group member removed via API", "groupId", id, "userId", userID)
	h.respondSCIM(w, http.StatusOK, renderGroup(group))
}

// handleDeleteGroup removes a group. DELETE /scim/v2/Groups/{id}.
func (h *APIHandler) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireClaims(w, r); !ok {
		return
	}
	logger := LoggerFromContext(r.Context())
	id := h.pathParam(r, "id")

	if err := h.scimService.DeleteGroup(r.Context(), id); err != nil {
		h.mapGroupError(w, r, err, "", id, "Internal server error during group deletion")
		return
	}

	logger.Info("scim group deleted via API", "groupId", id)
	w.WriteHeader(http.StatusNoContent)
}
