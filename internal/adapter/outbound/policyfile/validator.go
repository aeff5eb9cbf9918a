package policyfile

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/authz"
)

// requiredPolicyFields must all be present on every policy entry.
var requiredPolicyFields = []string{"ruleId", "effect", "description", "conditions"}

// branchKeys are checked in this order; a branch object may carry exactly one.
var branchKeys = []string{"AND", "OR"}

// ValidateDocument checks a decoded policy document against the policy
// grammar and accumulates every problem it finds rather than stopping at
// the first. Errors make the document unloadable; warnings are advisory
// and are surfaced through logs and the validation endpoint.
//
// The checks are deliberately a superset of what CompileConditions
// enforces, so a document that validates cleanly always compiles.
func ValidateDocument(doc map[string]any) authz.ValidationResult {
	result := authz.ValidationResult{
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{},
	}

	rawPolicies, ok := doc["policies"]
	if !ok {
		result.Valid = false
		result.Errors = append(result.Errors, "Missing 'policies' key in policy data")
		return result
	}
	policies, ok := rawPolicies.([]any)
	if !ok {
		result.Valid = false
		result.Errors = append(result.Errors, "'policies' must be a list")
		return result
	}
	result.PoliciesCount = len(policies)

	for i, raw := range policies {
		p, ok := raw.(map[string]any)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("Policy %d: Must be an object", i))
			continue
		}
		result.Errors = append(result.Errors, validatePolicy(p, i)...)
	}

	errs, warns := validateSetRules(policies)
	result.Errors = append(result.Errors, errs...)
	result.Warnings = append(result.Warnings, warns...)

	result.Valid = len(result.Errors) == 0
	return result
}

// validatePolicy checks one policy entry. index is the zero-based position
// in the document and prefixes every message.
func validatePolicy(p map[string]any, index int) []string {
	var errs []string

	for _, field := range requiredPolicyFields {
		if _, ok := p[field]; !ok {
			errs = append(errs, fmt.Sprintf("Policy %d: Missing required field '%s'", index, field))
		}
	}

	if id, ok := p["ruleId"]; ok {
		if _, isString := id.(string); !isString {
			errs = append(errs, fmt.Sprintf("Policy %d: Field 'ruleId' must be a string", index))
		}
	}
	if desc, ok := p["description"]; ok {
		if _, isString := desc.(string); !isString {
			errs = append(errs, fmt.Sprintf("Policy %d: Field 'description' must be a string", index))
		}
	}

	if effect, ok := p["effect"]; ok {
		if s, isString := effect.(string); !isString || !authz.ValidEffect(authz.Effect(s)) {
			errs = append(errs, fmt.Sprintf(
				"Policy %d: Invalid effect '%v'. Must be one of: Permit, Deny, Challenge", index, effect))
		}
	}

	if priority, ok := p["priority"]; ok && !nonNegativeInteger(priority) {
		errs = append(errs, fmt.Sprintf("Policy %d: Priority must be a non-negative integer", index))
	}

	if conditions, ok := p["conditions"]; ok {
		m, isMap := conditions.(map[string]any)
		if !isMap {
			errs = append(errs, fmt.Sprintf("Policy %d: Field 'conditions' must be an object", index))
		} else {
			errs = append(errs, validateConditions(m, fmt.Sprintf("Policy %d", index))...)
		}
	}

	return errs
}

// validateConditions walks a condition object recursively. Nested branches
// extend the prefix ("Policy 0.OR[1].AND[0]") so every message points at the
// exact node that failed.
func validateConditions(cond map[string]any, prefix string) []string {
	if len(cond) == 0 {
		return []string{fmt.Sprintf("%s: Conditions must not be empty", prefix)}
	}

	for _, branch := range branchKeys {
		raw, ok := cond[branch]
		if !ok {
			continue
		}

		var errs []string
		if len(cond) > 1 {
			errs = append(errs, fmt.Sprintf("%s: %s must not have sibling conditions", prefix, branch))
		}
		children, ok := raw.([]any)
		if !ok {
			return append(errs, fmt.Sprintf("%s: %s must contain a list of conditions", prefix, branch))
		}
		if len(children) == 0 {
			return append(errs, fmt.Sprintf("%s: %s must not be empty", prefix, branch))
		}
		for i, child := range children {
			childPrefix := fmt.Sprintf("%s.%s[%d]", prefix, branch, i)
			m, ok := child.(map[string]any)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s: Must be an object", childPrefix))
				continue
			}
			errs = append(errs, validateConditions(m, childPrefix)...)
		}
		return errs
	}

	var errs []string
	for _, path := range sortedKeys(cond) {
		errs = append(errs, validateLeaf(path, cond[path], prefix)...)
	}
	return errs
}

// validateLeaf checks one attribute path and its operator object.
func validateLeaf(path string, raw any, prefix string) []string {
	errs := validateAttributePath(path, prefix)

	ops, ok := raw.(map[string]any)
	if !ok {
		return append(errs, fmt.Sprintf("%s: Condition for '%s' must be an object", prefix, path))
	}
	if len(ops) == 0 {
		return append(errs, fmt.Sprintf("%s: Condition for '%s' must contain at least one operator", prefix, path))
	}

	for _, op := range sortedKeys(ops) {
		if !authz.ValidOperator(authz.Operator(op)) {
			errs = append(errs, fmt.Sprintf("%s: Unsupported operator '%s' for '%s'", prefix, op, path))
			continue
		}
		errs = append(errs, validateOperatorValue(authz.Operator(op), ops[op], path, prefix)...)
	}
	return errs
}

// validateAttributePath checks path against the closed attribute set.
// The bare "action" path is the only one without a domain.
func validateAttributePath(path, prefix string) []string {
	if authz.ValidAttributePath(path) {
		return nil
	}

	parts := strings.Split(path, ".")
	if len(parts) != 2 {
		return []string{fmt.Sprintf(
			"%s: Attribute path '%s' must contain domain (subject/resource/context)", prefix, path)}
	}

	domain, attr := parts[0], parts[1]
	valid, known := authz.DomainAttributes[domain]
	if !known {
		return []string{fmt.Sprintf(
			"%s: Invalid domain '%s' in '%s'. Must be one of: subject, resource, context", prefix, domain, path)}
	}
	return []string{fmt.Sprintf(
		"%s: Invalid attribute '%s' for domain '%s'. Valid attributes: %s",
		prefix, attr, domain, strings.Join(valid, ", "))}
}

// validateOperatorValue enforces per-operator literal shapes: membership
// operators need a list, ordering operators need a number or a string.
func validateOperatorValue(op authz.Operator, value any, path, prefix string) []string {
	switch {
	case op == authz.OpIn || op == authz.OpNotIn:
		if _, ok := value.([]any); !ok {
			return []string{fmt.Sprintf(
				"%s: Operator '%s' for '%s' requires a list value", prefix, op, path)}
		}
	case op.Ordered():
		switch value.(type) {
		case float64, int, string:
		default:
			return []string{fmt.Sprintf(
				"%s: Operator '%s' for '%s' requires a comparable value", prefix, op, path)}
		}
	}
	return nil
}

// validateSetRules checks cross-policy rules: ruleId uniqueness plus the
// advisory checks on effect and priority distribution.
func validateSetRules(policies []any) (errs, warns []string) {
	idCounts := make(map[string]int)
	permits := 0
	priorities := make(map[int]struct{})

	for _, raw := range policies {
		p, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := p["ruleId"].(string); ok && id != "" {
			idCounts[id]++
		}
		if effect, _ := p["effect"].(string); effect == string(authz.EffectPermit) {
			permits++
		}
		priority := authz.DefaultPriority
		if f, ok := p["priority"].(float64); ok {
			priority = int(f)
		}
		priorities[priority] = struct{}{}
	}

	var duplicates []string
	for id, n := range idCounts {
		if n > 1 {
			duplicates = append(duplicates, id)
		}
	}
	if len(duplicates) > 0 {
		sort.Strings(duplicates)
		errs = append(errs, fmt.Sprintf("Duplicate ruleIds found: %s", strings.Join(duplicates, ", ")))
	}

	if permits == 0 {
		warns = append(warns, "No Permit policies found - this may result in all requests being denied")
	}
	if float64(len(priorities)) < float64(len(policies))*0.5 {
		warns = append(warns, "Many policies have the same priority - consider adjusting for better evaluation order")
	}
	return errs, warns
}

// nonNegativeInteger accepts an int or an integral float64 (JSON numbers
// decode as float64) that is zero or greater.
func nonNegativeInteger(v any) bool {
	switch n := v.(type) {
	case float64:
		return n >= 0 && n == math.Trunc(n)
	case int:
		return n >= 0
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
