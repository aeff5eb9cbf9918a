package policyfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultPolicyDocument is written on first boot when no policy file exists
// and seeding is enabled. It carries one rule per effect pattern: a plain
// Permit, an OR-branched Challenge, and a group-membership Permit.
const DefaultPolicyDocument = `{
  "policies": [
    {
      "ruleId": "HR-Payroll-01",
      "effect": "Permit",
      "description": "HR department can access payroll on trusted devices",
      "conditions": {
        "subject.dept": {"eq": "HR"},
        "resource.type": {"eq": "payroll"},
        "context.deviceTrusted": {"eq": true}
      }
    },
    {
      "ruleId": "Risk-StepUp-01",
      "effect": "Challenge",
      "description": "High risk users or non-approved geo require step-up",
      "conditions": {
        "OR": [
          {"subject.riskScore": {"gte": 70}},
          {"context.geo": {"not_in": ["CL", "CO"]}}
        ]
      }
    },
    {
      "ruleId": "Admins-NonProd-01",
      "effect": "Permit",
      "description": "Admins can access non-prod, challenge for prod",
      "conditions": {
        "subject.groups": {"contains": "ADMINS"},
        "resource.env": {"ne": "prod"}
      }
    }
  ]
}
`

// EnsureDefaultPolicies writes the default policy document to path when no
// file exists there yet. Parent directories are created as needed. An
// existing file is never touched.
func EnsureDefaultPolicies(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat policies file: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create policies directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(DefaultPolicyDocument), 0644); err != nil {
		return fmt.Errorf("write default policies: %w", err)
	}

	logger.Info("initial policies file created", "path", path)
	return nil
}
