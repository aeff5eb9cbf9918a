package policyfile

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/authz"
)

// ParseDocument decodes raw policy JSON into a document map.
func ParseDocument(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	return doc, nil
}

// BuildSet validates a decoded document and compiles it into a PolicySet
// ordered by (priority asc, file position asc). On validation failure the
// set is nil and the result carries the accumulated errors.
//
// ValidateDocument is strictly stricter than CompileConditions, so a
// compile error after a clean validation indicates a programming error;
// it is still reported through the result rather than panicking.
func BuildSet(doc map[string]any) (*authz.PolicySet, authz.ValidationResult) {
	result := ValidateDocument(doc)
	if !result.Valid {
		return nil, result
	}

	set := &authz.PolicySet{Version: "1.0"}
	if v, ok := doc["version"].(string); ok && v != "" {
		set.Version = v
	}
	if d, ok := doc["description"].(string); ok {
		set.Description = d
	}

	rawPolicies, _ := doc["policies"].([]any)
	set.Policies = make([]authz.Policy, 0, len(rawPolicies))
	for i, raw := range rawPolicies {
		m, _ := raw.(map[string]any)

		priority := authz.DefaultPriority
		if f, ok := m["priority"].(float64); ok {
			priority = int(f)
		} else if n, ok := m["priority"].(int); ok {
			priority = n
		}

		conditions, _ := m["conditions"].(map[string]any)
		node, err := authz.CompileConditions(conditions)
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Policy %d: %v", i, err))
			continue
		}

		set.Policies = append(set.Policies, authz.Policy{
			RuleID:      stringField(m, "ruleId"),
			Effect:      authz.Effect(stringField(m, "effect")),
			Description: stringField(m, "description"),
			Priority:    priority,
			FileIndex:   i,
			Conditions:  node,
		})
	}
	if !result.Valid {
		return nil, result
	}

	// Stable sort keeps file order among equal priorities.
	sort.SliceStable(set.Policies, func(a, b int) bool {
		return set.Policies[a].Priority < set.Policies[b].Priority
	})
	return set, result
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
