package policyfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDefaultPolicies_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "policies.json")

	if err := EnsureDefaultPolicies(path, testLogger()); err != nil {
		t.Fatalf("EnsureDefaultPolicies() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file to be created: %v", err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		t.Fatalf("seed document does not parse: %v", err)
	}
	set, result := BuildSet(doc)
	if !result.Valid {
		t.Fatalf("seed document does not validate: %v", result.Errors)
	}
	if len(set.Policies) != 3 {
		t.Errorf("expected 3 seed policies, got %d", len(set.Policies))
	}
}

func TestEnsureDefaultPolicies_DoesNotOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.json")
	writePolicies(t, path, permitOnlyDoc)

	if err := EnsureDefaultPolicies(path, testLogger()); err != nil {
		t.Fatalf("EnsureDefaultPolicies() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != permitOnlyDoc {
		t.Error("existing policy file was overwritten")
	}
}

func TestEnsureDefaultPolicies_SeedServesThroughRepository(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.json")

	if err := EnsureDefaultPolicies(path, testLogger()); err != nil {
		t.Fatalf("EnsureDefaultPolicies() error: %v", err)
	}

	r := NewFileRepository(path, testLogger())
	if err := r.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	meta, err := r.Metadata(context.Background())
	if err != nil {
		t.Fatalf("Metadata() error: %v", err)
	}
	if meta.PoliciesCount != 3 {
		t.Errorf("expected 3 policies, got %d", meta.PoliciesCount)
	}
}
