// Package policyfile implements the policy repository backed by a JSON file
// on disk, with mtime-driven hot reload and atomic set replacement.
package policyfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/authz"
)

// snapshot is the immutable unit of state published on each successful load.
// Readers grab it atomically; a reload builds a complete replacement before
// publishing, so no reader ever observes a partially constructed set.
type snapshot struct {
	set *authz.PolicySet
	// doc is the decoded document the set was built from, kept for
	// re-validation without touching the file.
	doc map[string]any
	// mtime is the file modification time captured just before the read.
	// hasMtime is false when the set did not come from a file (empty boot).
	mtime    time.Time
	hasMtime bool
}

// FileRepository implements authz.PolicyRepository on top of a JSON policy
// file. Reads are lock-free against an atomically swapped snapshot; load
// attempts are serialized by a mutex with a double-checked mtime so a burst
// of requests after a file change triggers exactly one reload.
//
// A failed reload keeps the previous snapshot in place and does not advance
// the remembered mtime, so the file is re-attempted until it is fixed.
type FileRepository struct {
	path   string
	logger *slog.Logger

	current  atomic.Value // *snapshot
	reloadMu sync.Mutex

	swapMu sync.Mutex
	onSwap []func()
}

// NewFileRepository creates a repository for the given policy file path.
// No file access happens until Load or the first read.
func NewFileRepository(path string, logger *slog.Logger) *FileRepository {
	return &FileRepository{
		path:   path,
		logger: logger,
	}
}

// Load performs the initial read of the policy file. A missing file is not
// an error: the repository starts with an empty set and picks the file up
// as soon as it appears. A file that exists but cannot be parsed or
// validated is an error the caller should treat as fatal.
func (r *FileRepository) Load() error {
	r.reloadMu.Lock()
	result := r.loadLocked()
	r.reloadMu.Unlock()

	if !result.Valid {
		return fmt.Errorf("invalid policies: %s", strings.Join(result.Errors, "; "))
	}
	return nil
}

// OnSwap registers fn to run after every successful snapshot publication,
// including manual reloads and hot reloads. The decision cache hooks in
// here to flush itself whenever the policy set changes. fn runs on the
// reloading goroutine while the reload lock is held, so it must be quick
// and must not call back into the repository.
func (r *FileRepository) OnSwap(fn func()) {
	r.swapMu.Lock()
	r.onSwap = append(r.onSwap, fn)
	r.swapMu.Unlock()
}

// Path returns the configured policy file path.
func (r *FileRepository) Path() string {
	return r.path
}

// GetAllPolicies returns a copy of the current ordered policy list after
// checking the file for changes.
func (r *FileRepository) GetAllPolicies(ctx context.Context) ([]authz.Policy, error) {
	r.maybeReload()

	snap := r.snapshot()
	if snap == nil {
		return []authz.Policy{}, nil
	}
	out := make([]authz.Policy, len(snap.set.Policies))
	copy(out, snap.set.Policies)
	return out, nil
}

// GetPolicyByID returns the policy with the given ruleId.
// Returns authz.ErrPolicyNotFound if no such policy exists.
func (r *FileRepository) GetPolicyByID(ctx context.Context, ruleID string) (*authz.Policy, error) {
	policies, err := r.GetAllPolicies(ctx)
	if err != nil {
		return nil, err
	}
	for i := range policies {
		if policies[i].RuleID == ruleID {
			p := policies[i]
			return &p, nil
		}
	}
	return nil, authz.ErrPolicyNotFound
}

// GetPoliciesByEffect returns the policies whose effect matches, in
// evaluation order.
func (r *FileRepository) GetPoliciesByEffect(ctx context.Context, effect authz.Effect) ([]authz.Policy, error) {
	policies, err := r.GetAllPolicies(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]authz.Policy, 0, len(policies))
	for _, p := range policies {
		if p.Effect == effect {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// Reload forces a re-read of the policy file regardless of its mtime and
// returns the validation outcome. On failure the previous set stays in
// effect and PoliciesCount reports how many policies are still serving.
func (r *FileRepository) Reload(ctx context.Context) authz.ValidationResult {
	r.logger.Info("manual policy reload requested", "path", r.path)

	r.reloadMu.Lock()
	oldCount := r.currentCount()
	result := r.loadLocked()
	newCount := r.currentCount()
	r.reloadMu.Unlock()

	if result.Valid {
		r.logger.Info("manual policy reload completed",
			"old_count", oldCount, "new_count", newCount)
	} else {
		r.logger.Error("manual policy reload failed", "errors", result.Errors)
	}
	return result
}

// Validate re-runs the validator against the document behind the currently
// served set. It does not touch the file; Reload is the way to pick up disk
// changes.
func (r *FileRepository) Validate(ctx context.Context) authz.ValidationResult {
	snap := r.snapshot()
	if snap == nil {
		return authz.ValidationResult{
			Valid:    false,
			Errors:   []string{"No policies loaded"},
			Warnings: []string{},
		}
	}
	return ValidateDocument(snap.doc)
}

// Metadata returns version, counts, and modification info for the current
// set, after checking the file for changes.
func (r *FileRepository) Metadata(ctx context.Context) (authz.Metadata, error) {
	r.maybeReload()

	meta := authz.Metadata{
		Version:  "unknown",
		FilePath: r.path,
	}
	snap := r.snapshot()
	if snap == nil {
		meta.EffectsDistribution = (&authz.PolicySet{}).EffectsDistribution()
		return meta, nil
	}

	meta.Version = snap.set.Version
	meta.Description = snap.set.Description
	meta.PoliciesCount = len(snap.set.Policies)
	meta.EffectsDistribution = snap.set.EffectsDistribution()
	if snap.hasMtime {
		t := snap.mtime
		meta.LastModified = &t
	}
	return meta, nil
}

// maybeReload loads the file when its mtime is newer than the snapshot's.
// A missing or unreadable file keeps the current set in place.
func (r *FileRepository) maybeReload() {
	info, err := os.Stat(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("policy file stat failed", "path", r.path, "error", err)
		}
		return
	}
	if snap := r.snapshot(); snap != nil && snap.hasMtime && !info.ModTime().After(snap.mtime) {
		return
	}

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	// Re-check under the lock: a concurrent caller may have reloaded while
	// this one was waiting.
	if snap := r.snapshot(); snap != nil && snap.hasMtime {
		info, err := os.Stat(r.path)
		if err != nil || !info.ModTime().After(snap.mtime) {
			return
		}
	}

	r.logger.Info("hot-reloading policies", "path", r.path)
	if result := r.loadLocked(); !result.Valid {
		r.logger.Error("hot reload failed, keeping previous policy set",
			"path", r.path, "errors", result.Errors)
	}
}

// loadLocked reads, validates, compiles, and publishes the policy file.
// Call with reloadMu held. On failure nothing is published, so readers keep
// the previous set; the returned result then reports the serving count.
func (r *FileRepository) loadLocked() authz.ValidationResult {
	// Stat precedes the read: a writer landing in between leaves the
	// recorded mtime stale, which costs one spurious reload on the next
	// check instead of a missed change.
	info, statErr := os.Stat(r.path)

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("policies file not found, using empty policy set", "path", r.path)
			doc := emptyDocument()
			set, result := BuildSet(doc)
			r.publish(&snapshot{set: set, doc: doc})
			return result
		}
		r.logger.Error("policy file read failed", "path", r.path, "error", err)
		return r.failure(fmt.Sprintf("Failed to load policies: %v", err))
	}

	doc, err := ParseDocument(data)
	if err != nil {
		r.logger.Error("policy parsing failed", "path", r.path, "error", err)
		return r.failure(fmt.Sprintf("Invalid JSON in policies file: %v", err))
	}

	set, result := BuildSet(doc)
	if !result.Valid {
		r.logger.Error("policy validation failed",
			"path", r.path, "errors", result.Errors, "warnings", result.Warnings)
		result.PoliciesCount = r.currentCount()
		return result
	}
	if len(result.Warnings) > 0 {
		r.logger.Warn("policy validation warnings", "path", r.path, "warnings", result.Warnings)
	}

	snap := &snapshot{set: set, doc: doc}
	if statErr == nil {
		snap.mtime = info.ModTime()
		snap.hasMtime = true
	}
	r.publish(snap)

	r.logger.Info("policies loaded",
		"path", r.path,
		"policies_count", len(set.Policies),
		"version", set.Version,
		"warnings_count", len(result.Warnings))
	return result
}

// publish stores the new snapshot and runs the swap hooks. Hooks run outside
// swapMu so a hook may register further hooks without deadlocking.
func (r *FileRepository) publish(snap *snapshot) {
	r.current.Store(snap)

	r.swapMu.Lock()
	hooks := make([]func(), len(r.onSwap))
	copy(hooks, r.onSwap)
	r.swapMu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (r *FileRepository) snapshot() *snapshot {
	snap, _ := r.current.Load().(*snapshot)
	return snap
}

func (r *FileRepository) currentCount() int {
	if snap := r.snapshot(); snap != nil {
		return len(snap.set.Policies)
	}
	return 0
}

func (r *FileRepository) failure(msg string) authz.ValidationResult {
	return authz.ValidationResult{
		Valid:         false,
		Errors:        []string{msg},
		Warnings:      []string{},
		PoliciesCount: r.currentCount(),
	}
}

func emptyDocument() map[string]any {
	return map[string]any{
		"version":  "1.0",
		"policies": []any{},
	}
}

// Compile-time interface verification.
var _ authz.PolicyRepository = (*FileRepository)(nil)
