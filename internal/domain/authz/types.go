// Package authz contains domain types for attribute-based access control:
// policies, condition trees, evaluation requests, and the decision model.
package authz

import (
	"context"
	"errors"
	"time"
)

// Effect represents the outcome a policy intends when its conditions hold.
type Effect string

const (
	// EffectPermit grants access.
	EffectPermit Effect = "Permit"
	// EffectDeny blocks access.
	EffectDeny Effect = "Deny"
	// EffectChallenge requires additional authentication (step-up) before access.
	EffectChallenge Effect = "Challenge"
)

// ValidEffect reports whether e is one of the three enumerated effects.
func ValidEffect(e Effect) bool {
	switch e {
	case EffectPermit, EffectDeny, EffectChallenge:
		return true
	}
	return false
}

// DefaultPriority is assigned to policies that omit an explicit priority.
const DefaultPriority = 100

// Policy is a single authorization rule loaded from the policy file.
// Policies are immutable between reloads.
type Policy struct {
	// RuleID is the unique identifier for this policy.
	RuleID string
	// Effect is the decision rendered when Conditions evaluates true.
	Effect Effect
	// Description is human-readable context for audit output and debugging.
	Description string
	// Priority determines evaluation order (lower = evaluated earlier).
	Priority int
	// FileIndex is the zero-based position in the source document; it breaks
	// priority ties so ordering is stable across reloads.
	FileIndex int
	// Conditions is the compiled boolean expression tree.
	Conditions *ConditionNode
}

// PolicySet is the ordered collection of policies currently in effect.
// Ordering is fully determined by (Priority asc, FileIndex asc).
type PolicySet struct {
	// Version is the policy document version string.
	Version string
	// Description is the policy document description.
	Description string
	// Policies is the ordered policy list.
	Policies []Policy
}

// EffectsDistribution counts policies per effect.
func (s *PolicySet) EffectsDistribution() map[Effect]int {
	dist := map[Effect]int{
		EffectPermit:    0,
		EffectDeny:      0,
		EffectChallenge: 0,
	}
	for _, p := range s.Policies {
		dist[p.Effect]++
	}
	return dist
}

// SubjectAttributes describes the caller. All fields are optional; nil means
// the attribute is absent and is omitted from the flattened context.
type SubjectAttributes struct {
	Dept           *string  `json:"dept,omitempty"`
	Groups         []string `json:"groups,omitempty"`
	RiskScore      *int     `json:"riskScore,omitempty" validate:"omitempty,min=0,max=100"`
	Role           *string  `json:"role,omitempty"`
	ClearanceLevel *string  `json:"clearanceLevel,omitempty"`
}

// ResourceAttributes describes what is being accessed.
type ResourceAttributes struct {
	Type           *string `json:"type,omitempty"`
	Env            *string `json:"env,omitempty"`
	Classification *string `json:"classification,omitempty"`
	Owner          *string `json:"owner,omitempty"`
	Sensitivity    *string `json:"sensitivity,omitempty"`
}

// ContextAttributes describes the environment of the request.
type ContextAttributes struct {
	Geo           *string `json:"geo,omitempty"`
	DeviceTrusted *bool   `json:"deviceTrusted,omitempty"`
	TimeOfDay     *string `json:"timeOfDay,omitempty" validate:"omitempty,time_of_day"`
	DayOfWeek     *string `json:"dayOfWeek,omitempty"`
	IPAddress     *string `json:"ipAddress,omitempty"`
	UserAgent     *string `json:"userAgent,omitempty"`
}

// Request is an authorization request: three attribute bags plus an action.
type Request struct {
	Subject  SubjectAttributes  `json:"subject"`
	Resource ResourceAttributes `json:"resource"`
	Context  ContextAttributes  `json:"context"`
	// Action defaults to "access" when empty.
	Action string `json:"action,omitempty"`
}

// DefaultAction is assumed when a request carries no explicit action.
const DefaultAction = "access"

// Response is the decision rendered for a Request. Callers always receive a
// well-formed Response; internal failures collapse to a safe-default Deny.
type Response struct {
	Decision    Effect   `json:"decision"`
	Reasons     []string `json:"reasons"`
	Advice      []string `json:"advice"`
	Obligations []string `json:"obligations"`
}

// ValidationResult reports the outcome of loading or re-validating a policy
// document. Errors make the document unusable; warnings do not.
type ValidationResult struct {
	Valid         bool     `json:"valid"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	PoliciesCount int      `json:"policies_count"`
}

// Metadata describes the currently loaded policy set. LastModified is nil
// until a policy file has been read successfully at least once.
type Metadata struct {
	Version             string         `json:"version"`
	Description         string         `json:"description"`
	PoliciesCount       int            `json:"policies_count"`
	LastModified        *time.Time     `json:"last_modified"`
	FilePath            string         `json:"file_path"`
	EffectsDistribution map[Effect]int `json:"effects_distribution"`
}

// ErrPolicyNotFound is returned when no policy carries the requested ruleId.
var ErrPolicyNotFound = errors.New("policy not found")

// PolicyRepository provides read access to the current policy set.
// Implementations handle hot reload transparently: readers always observe a
// fully-constructed set, never a partial merge.
type PolicyRepository interface {
	// GetAllPolicies returns a copy of the current ordered policy list.
	GetAllPolicies(ctx context.Context) ([]Policy, error)
	// GetPolicyByID returns the policy with the given ruleId.
	// Returns ErrPolicyNotFound if no such policy exists.
	GetPolicyByID(ctx context.Context, ruleID string) (*Policy, error)
	// GetPoliciesByEffect returns policies whose effect matches.
	GetPoliciesByEffect(ctx context.Context, effect Effect) ([]Policy, error)
	// Reload forces a re-read and re-validation of the backing file,
	// atomically swapping the set on success.
	Reload(ctx context.Context) ValidationResult
	// Validate re-runs the validator against the in-memory set.
	Validate(ctx context.Context) ValidationResult
	// Metadata returns version, counts, and modification info for the set.
	Metadata(ctx context.Context) (Metadata, error)
}
