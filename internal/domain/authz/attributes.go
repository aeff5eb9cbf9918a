package authz

import "strings"

// DomainAttributes lists the attributes each ABAC domain may carry, in
// documentation order. Together with the bare "action" path they form the
// closed set of attribute paths a condition may reference; policies naming
// anything else are rejected at load time.
var DomainAttributes = map[string][]string{
	"subject":  {"dept", "groups", "riskScore", "role", "clearanceLevel"},
	"resource": {"type", "env", "classification", "owner", "sensitivity"},
	"context":  {"geo", "deviceTrusted", "timeOfDay", "dayOfWeek", "ipAddress", "userAgent"},
}

var attributePaths = func() map[string]struct{} {
	paths := map[string]struct{}{"action": {}}
	for domain, names := range DomainAttributes {
		for _, name := range names {
			paths[domain+"."+name] = struct{}{}
		}
	}
	return paths
}()

// ValidAttributePath reports whether path belongs to the closed attribute set.
func ValidAttributePath(path string) bool {
	_, ok := attributePaths[path]
	return ok
}

// TimeOfDayPath reports whether path names a clock-time attribute, which the
// ordering operators compare as minutes since midnight rather than as strings.
func TimeOfDayPath(path string) bool {
	return strings.HasSuffix(path, ".timeOfDay")
}

// Flatten projects a request onto the flat attribute namespace the condition
// trees reference. Absent optional attributes are omitted, so a leaf against a
// missing key sees a nil actual value. Action defaults to DefaultAction.
func Flatten(req Request) map[string]any {
	attrs := make(map[string]any, 16)

	putString(attrs, "subject.dept", req.Subject.Dept)
	if req.Subject.Groups != nil {
		attrs["subject.groups"] = req.Subject.Groups
	}
	if req.Subject.RiskScore != nil {
		attrs["subject.riskScore"] = *req.Subject.RiskScore
	}
	putString(attrs, "subject.role", req.Subject.Role)
	putString(attrs, "subject.clearanceLevel", req.Subject.ClearanceLevel)

	putString(attrs, "resource.type", req.Resource.Type)
	putString(attrs, "resource.env", req.Resource.Env)
	putString(attrs, "resource.classification", req.Resource.Classification)
	putString(attrs, "resource.owner", req.Resource.Owner)
	putString(attrs, "resource.sensitivity", req.Resource.Sensitivity)

	putString(attrs, "context.geo", req.Context.Geo)
	if req.Context.DeviceTrusted != nil {
		attrs["context.deviceTrusted"] = *req.Context.DeviceTrusted
	}
	putString(attrs, "context.timeOfDay", req.Context.TimeOfDay)
	putString(attrs, "context.dayOfWeek", req.Context.DayOfWeek)
	putString(attrs, "context.ipAddress", req.Context.IPAddress)
	putString(attrs, "context.userAgent", req.Context.UserAgent)

	action := req.Action
	if action == "" {
		action = DefaultAction
	}
	attrs["action"] = action

	return attrs
}

func putString(attrs map[string]any, path string, v *string) {
	if v != nil {
		attrs[path] = *v
	}
}
