// Package identity contains the domain types for SCIM user and group
// provisioning.
package identity

import "time"

// SCIM schema URNs emitted on the wire.
const (
	// SchemaUser is the SCIM 2.0 core User schema.
	SchemaUser = "urn:ietf:params:scim:schemas:core:2.0:User"
	// SchemaGroup is the SCIM 2.0 core Group schema.
	SchemaGroup = "urn:ietf:params:scim:schemas:core:2.0:Group"
	// SchemaListResponse is the SCIM 2.0 list response envelope.
	SchemaListResponse = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	// SchemaError is the SCIM 2.0 error envelope.
	SchemaError = "urn:ietf:params:scim:api:messages:2.0:Error"
)

// Name is the structured name of a SCIM user.
type Name struct {
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
}

// Email is a SCIM email entry.
type Email struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// Meta carries SCIM resource metadata.
type Meta struct {
	ResourceType string    `json:"resourceType"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
}

// User is a provisioned SCIM user. Dept and RiskScore are deployment
// attributes consumed by authorization; they ride alongside the core schema
// fields.
type User struct {
	// ID is the server-assigned identifier ("usr_" prefix).
	ID string `json:"id"`
	// UserName is the unique login name.
	UserName string `json:"userName"`
	// Name is the structured display name.
	Name Name `json:"name"`
	// Emails are the user's email entries.
	Emails []Email `json:"emails,omitempty"`
	// Active is false for deprovisioned users. Inactive users cannot
	// obtain tokens through the password grant.
	Active bool `json:"active"`
	// Groups are the user's group memberships by display name.
	Groups []string `json:"groups,omitempty"`
	// Dept is the user's department.
	Dept string `json:"dept,omitempty"`
	// RiskScore is the user's standing risk score in [0,100].
	RiskScore int `json:"riskScore"`
	// Created is when the user was provisioned (UTC).
	Created time.Time `json:"-"`
	// LastModified is when the user was last replaced (UTC).
	LastModified time.Time `json:"-"`
}

// Group is a provisioned SCIM group.
type Group struct {
	// ID is the server-assigned identifier ("grp_" prefix).
	ID string `json:"id"`
	// DisplayName is the unique group name.
	DisplayName string `json:"displayName"`
	// Members are the member user IDs.
	Members []string `json:"-"`
	// Created is when the group was provisioned (UTC).
	Created time.Time `json:"-"`
	// LastModified is when the group was last replaced (UTC).
	LastModified time.Time `json:"-"`
}

// HasMember returns true if the group contains the given user ID.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}
