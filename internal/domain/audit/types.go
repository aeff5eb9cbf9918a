// Package audit contains domain types for audit logging.
package audit

import "time"

// EventType constants categorize audit records.
const (
	// EventTypeDecision is an authorization decision.
	EventTypeDecision = "authz.decision"
	// EventTypePolicyReload is a policy file reload, forced or hot.
	EventTypePolicyReload = "authz.policy_reload"

	// Token lifecycle events.
	EventTypeTokenIssued    = "auth.token_issued"
	EventTypeTokenDenied    = "auth.token_denied"
	EventTypeTokenRefreshed = "auth.token_refreshed"

	// SCIM lifecycle events.
	EventTypeUserCreate   = "scim.user_create"
	EventTypeUserReplace  = "scim.user_replace"
	EventTypeUserDelete   = "scim.user_delete"
	EventTypeGroupCreate  = "scim.group_create"
	EventTypeGroupReplace = "scim.group_replace"
	EventTypeGroupDelete  = "scim.group_delete"
)

// Record represents a single auditable event. Decision fields are populated
// only for authz.decision records; the full reason/advice/obligation lists are
// carried only when the decision is Deny or Challenge.
type Record struct {
	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`
	// EventType categorizes the event (authz.*, auth.*, scim.*).
	EventType string `json:"event_type"`
	// CorrelationID ties the record to the request that produced it.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Subject is the acting principal: token sub, client id, or username.
	Subject string `json:"subject,omitempty"`
	// SourceIP is the caller's address, when known.
	SourceIP string `json:"source_ip,omitempty"`

	// Decision is the rendered effect (Permit, Deny, Challenge).
	Decision string `json:"decision,omitempty"`
	// ReasonCount, AdviceCount, and ObligationCount size the response lists.
	ReasonCount     int `json:"reason_count,omitempty"`
	AdviceCount     int `json:"advice_count,omitempty"`
	ObligationCount int `json:"obligation_count,omitempty"`
	// Reasons, Advice, and Obligations are the full response lists,
	// present on Deny and Challenge records.
	Reasons     []string `json:"reasons,omitempty"`
	Advice      []string `json:"advice,omitempty"`
	Obligations []string `json:"obligations,omitempty"`
	// CacheHit is true when the decision was served from the cache.
	CacheHit bool `json:"cache_hit,omitempty"`
	// ElapsedMillis is the evaluation wall time in milliseconds.
	ElapsedMillis float64 `json:"elapsed_ms,omitempty"`

	// TargetID and TargetName identify the affected entity for SCIM and
	// policy events.
	TargetID   string `json:"target_id,omitempty"`
	TargetName string `json:"target_name,omitempty"`
	// Detail carries free-form context, such as a reload outcome summary.
	Detail string `json:"detail,omitempty"`
}
