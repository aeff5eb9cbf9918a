// Package service contains application services.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/audit"
	"github.com/Aegis-Gate/Aegisgate/internal/domain/authz"
	"github.com/Aegis-Gate/Aegisgate/internal/observability"
)

// cacheEntry pairs a cached decision with its insertion time.
type cacheEntry struct {
	response   authz.Response
	insertedAt time.Time
}

// decisionCache holds rendered decisions keyed by request fingerprint.
// Entries expire after ttl; expired entries are dropped lazily on read and
// swept in bulk when an insert pushes the map past limit. Thread-safe.
type decisionCache struct {
	mu      sync.Mutex
	entries map[uint64]cacheEntry
	ttl     time.Duration
	limit   int
	now     func() time.Time
}

func newDecisionCache(ttl time.Duration, limit int) *decisionCache {
	return &decisionCache{
		entries: make(map[uint64]cacheEntry),
		ttl:     ttl,
		limit:   limit,
		now:     time.Now,
	}
}

// Get retrieves a cached decision. Returns (zero, false) on miss or expiry.
func (c *decisionCache) Get(key uint64) (authz.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return authz.Response{}, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		delete(c.entries, key)
		return authz.Response{}, false
	}
	return e.response, true
}

// Put stores a decision. When the insert pushes the map past limit, expired
// entries are swept; the cache may stay above limit if nothing has expired.
func (c *decisionCache) Put(key uint64, resp authz.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{response: resp, insertedAt: c.now()}
	if len(c.entries) > c.limit {
		c.sweepLocked()
	}
}

// sweepLocked drops expired entries. Must be called with the lock held.
func (c *decisionCache) sweepLocked() {
	cutoff := c.now().Add(-c.ttl)
	for k, e := range c.entries {
		if e.insertedAt.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

// Clear empties the cache. Called after every policy swap.
func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]cacheEntry)
}

// Size returns the current entry count, expired entries included.
func (c *decisionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// computeFingerprint hashes the flattened context in sorted key order, so the
// same attributes produce the same key regardless of input field order.
func computeFingerprint(attrs map[string]any) uint64 {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	for _, k := range keys {
		_, _ = h.WriteString(k)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(attributeString(attrs[k]))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func attributeString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		sorted := make([]string, len(t))
		copy(sorted, t)
		sort.Strings(sorted)
		return strings.Join(sorted, ",")
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

// DecisionStats receives decision outcome counters. Implementations must be
// safe for concurrent use.
type DecisionStats interface {
	RecordDecision(effect authz.Effect)
	RecordCacheHit()
}

// PolicyApplicability reports whether a single policy would fire for a request.
type PolicyApplicability struct {
	RuleID      string       `json:"ruleId"`
	Effect      authz.Effect `json:"effect"`
	Description string       `json:"description"`
	Priority    int          `json:"priority"`
	Applicable  bool         `json:"applicable"`
}

// ApplicablePoliciesReport explains which policies match a request without
// combining them into a decision. Policies appear in evaluation order.
type ApplicablePoliciesReport struct {
	TotalPolicies         int                   `json:"total_policies"`
	ApplicablePolicies    []PolicyApplicability `json:"applicable_policies"`
	NonApplicablePolicies []PolicyApplicability `json:"non_applicable_policies"`
	EvaluationContext     map[string]any        `json:"evaluation_context"`
}

// ReloadReport is the outcome of a forced policy reload.
type ReloadReport struct {
	ReloadResult authz.ValidationResult `json:"reload_result"`
	CacheCleared bool                   `json:"cache_cleared"`
	Timestamp    time.Time              `json:"timestamp"`
}

// ValidationReport pairs a fresh validation pass with the set's metadata.
type ValidationReport struct {
	Validation authz.ValidationResult `json:"validation"`
	Metadata   authz.Metadata         `json:"metadata"`
	Timestamp  time.Time              `json:"timestamp"`
}

// ServiceMetrics summarizes the authorization service state.
type ServiceMetrics struct {
	PoliciesCount       int                  `json:"policiesCount"`
	EffectsDistribution map[authz.Effect]int `json:"effectsDistribution"`
	CacheSize           int                  `json:"cacheSize"`
	CacheTTLSeconds     int                  `json:"cacheTtl"`
	LastModified        *time.Time           `json:"lastModified"`
	Status              string               `json:"status"`
}

// PolicyConflict is a Permit/Deny policy pair sharing identical conditions.
// Such a pair always resolves to Deny, which usually means one of the two
// rules is a mistake.
type PolicyConflict struct {
	PermitRuleID string `json:"permit_rule_id"`
	DenyRuleID   string `json:"deny_rule_id"`
}

// AuthzService renders authorization decisions by evaluating policy condition
// trees against the flattened request context. Matched policies are combined
// with Deny taking precedence over Challenge, and Challenge over Permit; a
// request matching nothing is denied. Decisions are cached by request
// fingerprint and the cache is cleared whenever the repository swaps in a new
// policy set.
type AuthzService struct {
	repo      authz.PolicyRepository
	evaluator *authz.Evaluator
	cache     *decisionCache
	recorder  audit.Recorder
	stats     DecisionStats
	logger    *slog.Logger

	cacheTTL   time.Duration
	cacheLimit int
}

// AuthzOption configures AuthzService.
type AuthzOption func(*AuthzService)

// WithCacheTTL sets how long a cached decision stays valid.
func WithCacheTTL(ttl time.Duration) AuthzOption {
	return func(s *AuthzService) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithCacheLimit sets the cache size above which inserts sweep expired entries.
func WithCacheLimit(n int) AuthzOption {
	return func(s *AuthzService) {
		if n > 0 {
			s.cacheLimit = n
		}
	}
}

// WithDecisionRecorder attaches an audit recorder for decision and reload
// records.
func WithDecisionRecorder(rec audit.Recorder) AuthzOption {
	return func(s *AuthzService) {
		s.recorder = rec
	}
}

// WithDecisionStats attaches decision outcome counters.
func WithDecisionStats(stats DecisionStats) AuthzOption {
	return func(s *AuthzService) {
		s.stats = stats
	}
}

// NewAuthzService creates an AuthzService backed by the given repository.
// Repositories that expose a swap hook get the decision cache cleared after
// every successful swap, so hot reloads never serve stale decisions.
func NewAuthzService(repo authz.PolicyRepository, logger *slog.Logger, opts ...AuthzOption) *AuthzService {
	s := &AuthzService{
		repo:       repo,
		evaluator:  authz.NewEvaluator(logger),
		logger:     logger,
		cacheTTL:   5 * time.Minute,
		cacheLimit: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newDecisionCache(s.cacheTTL, s.cacheLimit)

	if hooked, ok := repo.(interface{ OnSwap(func()) }); ok {
		hooked.OnSwap(s.cache.Clear)
	}

	logger.Info("authorization service initialized",
		"cache_ttl", s.cacheTTL,
		"cache_limit", s.cacheLimit,
	)
	return s
}

// Evaluate renders a decision for the request. It never returns an error:
// any internal failure collapses to a safe-default Deny that is not cached.
// An empty correlationID mints a fresh one. Deny and Challenge responses
// carry a correlation obligation tying the response to logs and audit
// records; cached entries stay untagged so every caller gets its own id.
func (s *AuthzService) Evaluate(ctx context.Context, req authz.Request, correlationID string) authz.Response {
	ctx, span := observability.StartSpan(ctx, "authz.evaluate")
	defer span.End()

	resp, fromCache := s.evaluate(ctx, req, correlationID)
	span.SetAttributes(
		attribute.String("authz.decision", string(resp.Decision)),
		attribute.Bool("authz.from_cache", fromCache),
	)
	return resp
}

func (s *AuthzService) evaluate(ctx context.Context, req authz.Request, correlationID string) (authz.Response, bool) {
	start := time.Now()
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	attrs := authz.Flatten(req)
	key := computeFingerprint(attrs)

	// Fetch policies before the cache lookup: the repository runs its mtime
	// check here, so a hot reload clears the cache first and a stale entry
	// can never outlive a policy change.
	policies, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		return s.failDeny(correlationID, err, time.Since(start)), false
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("authz.policies_evaluated", len(policies)))

	if cached, ok := s.cache.Get(key); ok {
		resp := withCorrelationTag(cached, correlationID)
		elapsed := time.Since(start)
		if s.stats != nil {
			s.stats.RecordCacheHit()
			s.stats.RecordDecision(resp.Decision)
		}
		s.logDecision(correlationID, resp, elapsed, true)
		s.recordDecision(correlationID, resp, elapsed, true)
		return resp, true
	}

	var permit, deny, challenge []string
	for _, p := range policies {
		if ctx.Err() != nil {
			return s.failDeny(correlationID, fmt.Errorf("evaluation cancelled: %w", ctx.Err()), time.Since(start)), false
		}
		if !s.evaluator.Evaluate(p.Conditions, attrs) {
			continue
		}
		reason := "ruleId: " + p.RuleID
		switch p.Effect {
		case authz.EffectPermit:
			permit = append(permit, reason)
		case authz.EffectDeny:
			deny = append(deny, reason)
		case authz.EffectChallenge:
			challenge = append(challenge, reason)
		}
	}

	decided := combineDecision(permit, deny, challenge)
	s.cache.Put(key, decided)

	resp := withCorrelationTag(decided, correlationID)
	elapsed := time.Since(start)
	if s.stats != nil {
		s.stats.RecordDecision(resp.Decision)
	}
	s.logDecision(correlationID, resp, elapsed, false)
	s.recordDecision(correlationID, resp, elapsed, false)
	return resp, false
}

// GetApplicablePolicies evaluates every policy's conditions against the
// request and reports which would fire, without rendering a decision.
// Intended for debugging policy files.
func (s *AuthzService) GetApplicablePolicies(ctx context.Context, req authz.Request) (ApplicablePoliciesReport, error) {
	policies, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		return ApplicablePoliciesReport{}, err
	}

	attrs := authz.Flatten(req)
	applicable := make([]PolicyApplicability, 0, len(policies))
	nonApplicable := make([]PolicyApplicability, 0)
	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			return ApplicablePoliciesReport{}, err
		}
		entry := PolicyApplicability{
			RuleID:      p.RuleID,
			Effect:      p.Effect,
			Description: p.Description,
			Priority:    p.Priority,
			Applicable:  s.evaluator.Evaluate(p.Conditions, attrs),
		}
		if entry.Applicable {
			applicable = append(applicable, entry)
		} else {
			nonApplicable = append(nonApplicable, entry)
		}
	}

	return ApplicablePoliciesReport{
		TotalPolicies:         len(policies),
		ApplicablePolicies:    applicable,
		NonApplicablePolicies: nonApplicable,
		EvaluationContext:     attrs,
	}, nil
}

// ReloadPolicies forces a re-read of the policy file. The decision cache is
// cleared after the repository has swapped (or, on a failed reload, retained)
// its set, so concurrent readers never pair new policies with old decisions.
func (s *AuthzService) ReloadPolicies(ctx context.Context) ReloadReport {
	result := s.repo.Reload(ctx)
	s.cache.Clear()

	s.logger.Info("policy reload completed",
		"valid", result.Valid,
		"policies_count", result.PoliciesCount,
		"errors", len(result.Errors),
	)
	if s.recorder != nil {
		s.recorder.Record(audit.Record{
			Timestamp: time.Now().UTC(),
			EventType: audit.EventTypePolicyReload,
			Detail:    fmt.Sprintf("valid=%t policies=%d errors=%d", result.Valid, result.PoliciesCount, len(result.Errors)),
		})
	}
	if result.Valid {
		if _, err := s.DetectConflicts(ctx); err != nil {
			s.logger.Warn("policy conflict scan failed", "error", err)
		}
	}

	return ReloadReport{
		ReloadResult: result,
		CacheCleared: true,
		Timestamp:    time.Now().UTC(),
	}
}

// ValidateCurrentPolicies re-runs validation against the in-memory set.
func (s *AuthzService) ValidateCurrentPolicies(ctx context.Context) ValidationReport {
	validation := s.repo.Validate(ctx)
	meta, err := s.repo.Metadata(ctx)
	if err != nil {
		s.logger.Warn("policy metadata unavailable", "error", err)
	}
	return ValidationReport{
		Validation: validation,
		Metadata:   meta,
		Timestamp:  time.Now().UTC(),
	}
}

// Metrics summarizes policy counts, cache occupancy, and file freshness.
func (s *AuthzService) Metrics(ctx context.Context) (ServiceMetrics, error) {
	meta, err := s.repo.Metadata(ctx)
	if err != nil {
		return ServiceMetrics{}, err
	}
	return ServiceMetrics{
		PoliciesCount:       meta.PoliciesCount,
		EffectsDistribution: meta.EffectsDistribution,
		CacheSize:           s.cache.Size(),
		CacheTTLSeconds:     int(s.cacheTTL / time.Second),
		LastModified:        meta.LastModified,
		Status:              "active",
	}, nil
}

// DetectConflicts finds Permit/Deny policy pairs whose condition trees are
// identical. Each pair is logged at warn level. Runs on boot and after every
// successful reload.
func (s *AuthzService) DetectConflicts(ctx context.Context) ([]PolicyConflict, error) {
	policies, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		return nil, err
	}

	denyByShape := make(map[string][]string)
	for _, p := range policies {
		if p.Effect == authz.EffectDeny {
			shape := conditionShape(p.Conditions)
			denyByShape[shape] = append(denyByShape[shape], p.RuleID)
		}
	}

	var conflicts []PolicyConflict
	for _, p := range policies {
		if p.Effect != authz.EffectPermit {
			continue
		}
		for _, denyID := range denyByShape[conditionShape(p.Conditions)] {
			conflicts = append(conflicts, PolicyConflict{PermitRuleID: p.RuleID, DenyRuleID: denyID})
			s.logger.Warn("conflicting policies share identical conditions",
				"permit_rule_id", p.RuleID,
				"deny_rule_id", denyID,
			)
		}
	}
	return conflicts, nil
}

// CacheSize returns the current decision cache occupancy.
func (s *AuthzService) CacheSize() int {
	return s.cache.Size()
}

// failDeny renders the safe-default response for an internal failure. The
// result is never cached and carries no correlation obligation.
func (s *AuthzService) failDeny(correlationID string, err error, elapsed time.Duration) authz.Response {
	resp := authz.Response{
		Decision:    authz.EffectDeny,
		Reasons:     []string{"Evaluation error: " + err.Error()},
		Advice:      []string{"Contact system administrator"},
		Obligations: []string{"Log authorization failure", "Alert security team"},
	}
	s.logger.Error("authorization evaluation failed",
		"correlation_id", correlationID,
		"error", err,
	)
	if s.stats != nil {
		s.stats.RecordDecision(resp.Decision)
	}
	s.recordDecision(correlationID, resp, elapsed, false)
	return resp
}

// combineDecision merges matched-rule buckets into a single decision.
// Deny outranks Challenge, Challenge outranks Permit, and no match is a Deny.
func combineDecision(permit, deny, challenge []string) authz.Response {
	switch {
	case len(deny) > 0:
		return authz.Response{
			Decision:    authz.EffectDeny,
			Reasons:     deny,
			Advice:      []string{"Access explicitly denied by policy"},
			Obligations: []string{"Log denied access attempt"},
		}
	case len(challenge) > 0:
		return authz.Response{
			Decision:    authz.EffectChallenge,
			Reasons:     challenge,
			Advice:      []string{"Additional authentication required", "Contact administrator if needed"},
			Obligations: []string{"Log challenge requirement", "Initiate step-up authentication"},
		}
	case len(permit) > 0:
		return authz.Response{
			Decision:    authz.EffectPermit,
			Reasons:     permit,
			Advice:      []string{},
			Obligations: []string{"Log successful access"},
		}
	default:
		return authz.Response{
			Decision:    authz.EffectDeny,
			Reasons:     []string{"No applicable policies found"},
			Advice:      []string{"Contact administrator for access", "Review policy configuration"},
			Obligations: []string{"Log policy gap", "Alert security team"},
		}
	}
}

// withCorrelationTag appends the correlation obligation to Deny and Challenge
// responses. The input is not mutated.
func withCorrelationTag(resp authz.Response, correlationID string) authz.Response {
	if resp.Decision == authz.EffectPermit {
		return resp
	}
	obligations := make([]string, 0, len(resp.Obligations)+1)
	obligations = append(obligations, resp.Obligations...)
	obligations = append(obligations, "correlation_id: "+correlationID)
	resp.Obligations = obligations
	return resp
}

// newCorrelationID mints a short identifier tying a response to its log and
// audit trail.
func newCorrelationID() string {
	u := uuid.New()
	return fmt.Sprintf("authz-%x", u[:4])
}

func (s *AuthzService) logDecision(correlationID string, resp authz.Response, elapsed time.Duration, fromCache bool) {
	s.logger.Info("authorization decision",
		"correlation_id", correlationID,
		"decision", resp.Decision,
		"reasons_count", len(resp.Reasons),
		"advice_count", len(resp.Advice),
		"obligations_count", len(resp.Obligations),
		"elapsed_ms", float64(elapsed.Microseconds())/1000.0,
		"from_cache", fromCache,
	)
	if resp.Decision != authz.EffectPermit {
		s.logger.Warn("critical authorization decision",
			"correlation_id", correlationID,
			"decision", resp.Decision,
			"reasons", resp.Reasons,
			"advice", resp.Advice,
			"obligations", resp.Obligations,
		)
	}
}

func (s *AuthzService) recordDecision(correlationID string, resp authz.Response, elapsed time.Duration, fromCache bool) {
	if s.recorder == nil {
		return
	}
	rec := audit.Record{
		Timestamp:       time.Now().UTC(),
		EventType:       audit.EventTypeDecision,
		CorrelationID:   correlationID,
		Decision:        string(resp.Decision),
		ReasonCount:     len(resp.Reasons),
		AdviceCount:     len(resp.Advice),
		ObligationCount: len(resp.Obligations),
		CacheHit:        fromCache,
		ElapsedMillis:   float64(elapsed.Microseconds()) / 1000.0,
	}
	if resp.Decision != authz.EffectPermit {
		rec.Reasons = resp.Reasons
		rec.Advice = resp.Advice
		rec.Obligations = resp.Obligations
	}
	s.recorder.Record(rec)
}

// conditionShape renders a canonical string form of a condition tree.
// Condition objects are compiled with sorted keys, so identical JSON
// conditions always produce identical shapes.
func conditionShape(n *authz.ConditionNode) string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case authz.NodeLeaf:
		return fmt.Sprintf("%s %s %v", n.Path, n.Op, n.Literal)
	case authz.NodeOr:
		return "OR(" + joinChildShapes(n.Children) + ")"
	default:
		return "AND(" + joinChildShapes(n.Children) + ")"
	}
}

func joinChildShapes(children []authz.ConditionNode) string {
	parts := make([]string, len(children))
	for i := range children {
		parts[i] = conditionShape(&children[i])
	}
	return strings.Join(parts, "|")
}
