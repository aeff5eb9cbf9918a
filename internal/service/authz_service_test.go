package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/audit"
	"github.com/Aegis-Gate/Aegisgate/internal/domain/authz"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

// stubPolicyRepo serves a fixed policy list and lets tests drive swap hooks
// and failures directly.
type stubPolicyRepo struct {
	mu       sync.Mutex
	policies []authz.Policy
	getErr   error
	hooks    []func()
}

var _ authz.PolicyRepository = (*stubPolicyRepo)(nil)

func newStubRepo(policies ...authz.Policy) *stubPolicyRepo {
	return &stubPolicyRepo{policies: policies}
}

func (r *stubPolicyRepo) OnSwap(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// swap replaces the policy list and fires swap hooks, mimicking a hot reload.
func (r *stubPolicyRepo) swap(policies []authz.Policy) {
	r.mu.Lock()
	r.policies = policies
	hooks := make([]func(), len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (r *stubPolicyRepo) GetAllPolicies(ctx context.Context) ([]authz.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	out := make([]authz.Policy, len(r.policies))
	copy(out, r.policies)
	return out, nil
}

func (r *stubPolicyRepo) GetPolicyByID(ctx context.Context, ruleID string) (*authz.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.policies {
		if r.policies[i].RuleID == ruleID {
			p := r.policies[i]
			return &p, nil
		}
	}
	return nil, authz.ErrPolicyNotFound
}

func (r *stubPolicyRepo) GetPoliciesByEffect(ctx context.Context, effect authz.Effect) ([]authz.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []authz.Policy
	for _, p := range r.policies {
		if p.Effect == effect {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *stubPolicyRepo) Reload(ctx context.Context) authz.ValidationResult {
	r.mu.Lock()
	hooks := make([]func(), len(r.hooks))
	copy(hooks, r.hooks)
	count := len(r.policies)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return authz.ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}, PoliciesCount: count}
}

func (r *stubPolicyRepo) Validate(ctx context.Context) authz.ValidationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return authz.ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}, PoliciesCount: len(r.policies)}
}

func (r *stubPolicyRepo) Metadata(ctx context.Context) (authz.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := authz.PolicySet{Policies: r.policies}
	return authz.Metadata{
		Version:             "1.0",
		PoliciesCount:       len(r.policies),
		EffectsDistribution: set.EffectsDistribution(),
	}, nil
}

// countingStats counts decision outcomes and cache hits.
type countingStats struct {
	mu        sync.Mutex
	decisions map[authz.Effect]int
	cacheHits int
}

func (c *countingStats) RecordDecision(effect authz.Effect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decisions == nil {
		c.decisions = make(map[authz.Effect]int)
	}
	c.decisions[effect]++
}

func (c *countingStats) RecordCacheHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits++
}

// recordingAudit collects audit records synchronously.
type recordingAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *recordingAudit) Record(rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingAudit) all() []audit.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Record, len(r.records))
	copy(out, r.records)
	return out
}

func mustConditions(t *testing.T, raw map[string]any) *authz.ConditionNode {
	t.Helper()
	node, err := authz.CompileConditions(raw)
	if err != nil {
		t.Fatalf("compile conditions: %v", err)
	}
	return node
}

func sameStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func hrPayrollPolicy(t *testing.T) authz.Policy {
	t.Helper()
	return authz.Policy{
		RuleID:   "HR-Payroll-01",
		Effect:   authz.EffectPermit,
		Priority: 10,
		Conditions: mustConditions(t, map[string]any{
			"AND": []any{
				map[string]any{"subject.dept": map[string]any{"eq": "HR"}},
				map[string]any{"resource.type": map[string]any{"eq": "payroll"}},
				map[string]any{"context.deviceTrusted": map[string]any{"eq": true}},
			},
		}),
	}
}

func riskStepUpPolicy(t *testing.T) authz.Policy {
	t.Helper()
	return authz.Policy{
		RuleID:   "Risk-StepUp-01",
		Effect:   authz.EffectChallenge,
		Priority: 20,
		Conditions: mustConditions(t, map[string]any{
			"OR": []any{
				map[string]any{"subject.riskScore": map[string]any{"gte": 70}},
				map[string]any{"context.geo": map[string]any{"not_in": []any{"CL", "CO"}}},
			},
		}),
	}
}

func hrRequest() authz.Request {
	return authz.Request{
		Subject:  authz.SubjectAttributes{Dept: strPtr("HR"), RiskScore: intPtr(20)},
		Resource: authz.ResourceAttributes{Type: strPtr("payroll")},
		Context:  authz.ContextAttributes{DeviceTrusted: boolPtr(true), Geo: strPtr("CL")},
	}
}

func newTestAuthz(t *testing.T, repo authz.PolicyRepository, opts ...AuthzOption) *AuthzService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthzService(repo, logger, opts...)
}

// ---------------------------------------------------------------------------
// Decision cache
// ---------------------------------------------------------------------------

func TestDecisionCache_PutAndGet(t *testing.T) {
	t.Parallel()

	c := newDecisionCache(time.Minute, 10)
	resp := authz.Response{Decision: authz.EffectPermit, Reasons: []string{"ruleId: A"}}

	if _, ok := c.Get(1); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Put(1, resp)
	got, ok := c.Get(1)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got.Decision != authz.EffectPermit || !sameStrings(got.Reasons, resp.Reasons) {
		t.Fatalf("cached response mismatch: %+v", got)
	}
	if c.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", c.Size())
	}
}

func TestDecisionCache_ExpiredEntryMisses(t *testing.T) {
	t.Parallel()

	c := newDecisionCache(300*time.Second, 10)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Put(1, authz.Response{Decision: authz.EffectPermit})
	c.now = func() time.Time { return base.Add(301 * time.Second) }

	if _, ok := c.Get(1); ok {
		t.Fatal("expected miss after TTL expiry")
	}
	if c.Size() != 0 {
		t.Fatalf("expired entry not removed, Size() = %d", c.Size())
	}
}

func TestDecisionCache_SweepDropsExpiredAboveLimit(t *testing.T) {
	t.Parallel()

	c := newDecisionCache(time.Minute, 3)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Put(1, authz.Response{Decision: authz.EffectPermit})
	c.Put(2, authz.Response{Decision: authz.EffectPermit})

	// Both earlier entries are past TTL when the limit is crossed.
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.Put(3, authz.Response{Decision: authz.EffectDeny})
	c.Put(4, authz.Response{Decision: authz.EffectDeny})

	if c.Size() != 2 {
		t.Fatalf("Size() = %d after sweep, want 2", c.Size())
	}
	if _, ok := c.Get(1); ok {
		t.Fatal("expired entry 1 survived sweep")
	}
	if _, ok := c.Get(4); !ok {
		t.Fatal("fresh entry 4 lost in sweep")
	}
}

func TestDecisionCache_Clear(t *testing.T) {
	t.Parallel()

	c := newDecisionCache(time.Minute, 10)
	c.Put(1, authz.Response{Decision: authz.EffectPermit})
	c.Put(2, authz.Response{Decision: authz.EffectDeny})
	c.Clear()

	if c.Size() != 0 {
		t.Fatalf("Size() = %d after Clear, want 0", c.Size())
	}
	if _, ok := c.Get(1); ok {
		t.Fatal("expected miss after Clear")
	}
}

// ---------------------------------------------------------------------------
// Fingerprint
// ---------------------------------------------------------------------------

func TestComputeFingerprint_Deterministic(t *testing.T) {
	t.Parallel()

	a := authz.Flatten(hrRequest())
	b := authz.Flatten(hrRequest())
	if computeFingerprint(a) != computeFingerprint(b) {
		t.Fatal("identical requests produced different fingerprints")
	}

	other := hrRequest()
	other.Subject.Dept = strPtr("Finance")
	if computeFingerprint(a) == computeFingerprint(authz.Flatten(other)) {
		t.Fatal("different requests produced the same fingerprint")
	}
}

func TestComputeFingerprint_GroupOrderInsensitive(t *testing.T) {
	t.Parallel()

	first := authz.Request{Subject: authz.SubjectAttributes{Groups: []string{"ADMINS", "HR_READERS"}}}
	second := authz.Request{Subject: authz.SubjectAttributes{Groups: []string{"HR_READERS", "ADMINS"}}}

	if computeFingerprint(authz.Flatten(first)) != computeFingerprint(authz.Flatten(second)) {
		t.Fatal("group order changed the fingerprint")
	}
}

// ---------------------------------------------------------------------------
// Evaluate
// ---------------------------------------------------------------------------

func TestEvaluate_PermitWithMatchingRule(t *testing.T) {
	t.Parallel()

	svc := newTestAuthz(t, newStubRepo(hrPayrollPolicy(t)))
	resp := svc.Evaluate(context.Background(), hrRequest(), "")

	if resp.Decision != authz.EffectPermit {
		t.Fatalf("decision = %s, want Permit", resp.Decision)
	}
	if !sameStrings(resp.Reasons, []string{"ruleId: HR-Payroll-01"}) {
		t.Fatalf("reasons = %v", resp.Reasons)
	}
	if len(resp.Advice) != 0 {
		t.Fatalf("advice = %v, want empty", resp.Advice)
	}
	if !sameStrings(resp.Obligations, []string{"Log successful access"}) {
		t.Fatalf("obligations = %v", resp.Obligations)
	}
}

func TestEvaluate_ChallengeOnHighRisk(t *testing.T) {
	t.Parallel()

	svc := newTestAuthz(t, newStubRepo(riskStepUpPolicy(t)))
	req := authz.Request{
		Subject:  authz.SubjectAttributes{Dept: strPtr("IT"), RiskScore: intPtr(80)},
		Resource: authz.ResourceAttributes{Type: strPtr("data")},
		Context:  authz.ContextAttributes{Geo: strPtr("US")},
	}
	resp := svc.Evaluate(context.Background(), req, "req-123")

	if resp.Decision != authz.EffectChallenge {
		t.Fatalf("decision = %s, want Challenge", resp.Decision)
	}
	if !sameStrings(resp.Reasons, []string{"ruleId: Risk-StepUp-01"}) {
		t.Fatalf("reasons = %v", resp.Reasons)
	}
	want := []string{
		"Log challenge requirement",
		"Initiate step-up authentication",
		"correlation_id: req-123",
	}
	if !sameStrings(resp.Obligations, want) {
		t.Fatalf("obligations = %v, want %v", resp.Obligations, want)
	}
}

func TestEvaluate_DenyOutranksPermit(t *testing.T) {
	t.Parallel()

	conditions := map[string]any{"subject.dept": map[string]any{"eq": "HR"}}
	permit := authz.Policy{
		RuleID: "Allow-HR-01", Effect: authz.EffectPermit, Priority: 50,
		Conditions: mustConditions(t, conditions),
	}
	deny := authz.Policy{
		RuleID: "Block-HR-01", Effect: authz.EffectDeny, Priority: 10,
		Conditions: mustConditions(t, conditions),
	}

	svc := newTestAuthz(t, newStubRepo(deny, permit))
	resp := svc.Evaluate(context.Background(), hrRequest(), "req-42")

	if resp.Decision != authz.EffectDeny {
		t.Fatalf("decision = %s, want Deny", resp.Decision)
	}
	if !sameStrings(resp.Reasons, []string{"ruleId: Block-HR-01"}) {
		t.Fatalf("reasons = %v", resp.Reasons)
	}
	if !sameStrings(resp.Advice, []string{"Access explicitly denied by policy"}) {
		t.Fatalf("advice = %v", resp.Advice)
	}
	if !sameStrings(resp.Obligations, []string{"Log denied access attempt", "correlation_id: req-42"}) {
		t.Fatalf("obligations = %v", resp.Obligations)
	}
}

func TestEvaluate_ChallengeOutranksPermit(t *testing.T) {
	t.Parallel()

	conditions := map[string]any{"subject.dept": map[string]any{"eq": "HR"}}
	permit := authz.Policy{
		RuleID: "Allow-HR-01", Effect: authz.EffectPermit, Priority: 10,
		Conditions: mustConditions(t, conditions),
	}
	challenge := authz.Policy{
		RuleID: "StepUp-HR-01", Effect: authz.EffectChallenge, Priority: 50,
		Conditions: mustConditions(t, conditions),
	}

	svc := newTestAuthz(t, newStubRepo(permit, challenge))
	resp := svc.Evaluate(context.Background(), hrRequest(), "")

	if resp.Decision != authz.EffectChallenge {
		t.Fatalf("decision = %s, want Challenge", resp.Decision)
	}
	if !sameStrings(resp.Advice, []string{"Additional authentication required", "Contact administrator if needed"}) {
		t.Fatalf("advice = %v", resp.Advice)
	}
}

func TestEvaluate_AdminEnvironmentBoundary(t *testing.T) {
	t.Parallel()

	policy := authz.Policy{
		RuleID: "Admins-NonProd-01", Effect: authz.EffectPermit, Priority: 30,
		Conditions: mustConditions(t, map[string]any{
			"AND": []any{
				map[string]any{"subject.groups": map[string]any{"contains": "ADMINS"}},
				map[string]any{"resource.env": map[string]any{"ne": "prod"}},
			},
		}),
	}
	svc := newTestAuthz(t, newStubRepo(policy))

	dev := authz.Request{
		Subject:  authz.SubjectAttributes{Groups: []string{"ADMINS"}},
		Resource: authz.ResourceAttributes{Env: strPtr("dev")},
	}
	if resp := svc.Evaluate(context.Background(), dev, ""); resp.Decision != authz.EffectPermit {
		t.Fatalf("dev decision = %s, want Permit", resp.Decision)
	}

	prod := authz.Request{
		Subject:  authz.SubjectAttributes{Groups: []string{"ADMINS"}},
		Resource: authz.ResourceAttributes{Env: strPtr("prod")},
	}
	resp := svc.Evaluate(context.Background(), prod, "req-7")
	if resp.Decision != authz.EffectDeny {
		t.Fatalf("prod decision = %s, want Deny", resp.Decision)
	}
	if !sameStrings(resp.Reasons, []string{"No applicable policies found"}) {
		t.Fatalf("reasons = %v", resp.Reasons)
	}
	if !sameStrings(resp.Advice, []string{"Contact administrator for access", "Review policy configuration"}) {
		t.Fatalf("advice = %v", resp.Advice)
	}
	if !sameStrings(resp.Obligations, []string{"Log policy gap", "Alert security team", "correlation_id: req-7"}) {
		t.Fatalf("obligations = %v", resp.Obligations)
	}
}

func TestEvaluate_EmptyPolicySetDefaultDeny(t *testing.T) {
	t.Parallel()

	svc := newTestAuthz(t, newStubRepo())
	resp := svc.Evaluate(context.Background(), hrRequest(), "")

	if resp.Decision != authz.EffectDeny {
		t.Fatalf("decision = %s, want Deny", resp.Decision)
	}
	if !sameStrings(resp.Reasons, []string{"No applicable policies found"}) {
		t.Fatalf("reasons = %v", resp.Reasons)
	}
}

func TestEvaluate_MintsCorrelationID(t *testing.T) {
	t.Parallel()

	svc := newTestAuthz(t, newStubRepo())
	resp := svc.Evaluate(context.Background(), hrRequest(), "")

	last := resp.Obligations[len(resp.Obligations)-1]
	const prefix = "correlation_id: authz-"
	if !strings.HasPrefix(last, prefix) {
		t.Fatalf("obligation tag = %q, want %q prefix", last, prefix)
	}
	if len(last) != len(prefix)+8 {
		t.Fatalf("correlation suffix length = %d, want 8", len(last)-len(prefix))
	}
}

func TestEvaluate_RepositoryErrorSafeDefault(t *testing.T) {
	t.Parallel()

	repo := newStubRepo(hrPayrollPolicy(t))
	repo.getErr = errors.New("backing store unavailable")
	svc := newTestAuthz(t, repo)

	resp := svc.Evaluate(context.Background(), hrRequest(), "req-9")
	if resp.Decision != authz.EffectDeny {
		t.Fatalf("decision = %s, want Deny", resp.Decision)
	}
	if !sameStrings(resp.Reasons, []string{"Evaluation error: backing store unavailable"}) {
		t.Fatalf("reasons = %v", resp.Reasons)
	}
	if !sameStrings(resp.Advice, []string{"Contact system administrator"}) {
		t.Fatalf("advice = %v", resp.Advice)
	}
	// The safe default carries no correlation obligation and is never cached.
	if !sameStrings(resp.Obligations, []string{"Log authorization failure", "Alert security team"}) {
		t.Fatalf("obligations = %v", resp.Obligations)
	}
	if svc.CacheSize() != 0 {
		t.Fatalf("safe default was cached, CacheSize = %d", svc.CacheSize())
	}
}

func TestEvaluate_CancelledContextSafeDefault(t *testing.T) {
	t.Parallel()

	svc := newTestAuthz(t, newStubRepo(hrPayrollPolicy(t)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := svc.Evaluate(ctx, hrRequest(), "")
	if resp.Decision != authz.EffectDeny {
		t.Fatalf("decision = %s, want Deny", resp.Decision)
	}
	if len(resp.Reasons) != 1 || !strings.HasPrefix(resp.Reasons[0], "Evaluation error: evaluation cancelled") {
		t.Fatalf("reasons = %v", resp.Reasons)
	}
	if svc.CacheSize() != 0 {
		t.Fatalf("cancelled evaluation was cached, CacheSize = %d", svc.CacheSize())
	}
}

func TestEvaluate_CachesDecision(t *testing.T) {
	t.Parallel()

	stats := &countingStats{}
	svc := newTestAuthz(t, newStubRepo(hrPayrollPolicy(t)), WithDecisionStats(stats))

	first := svc.Evaluate(context.Background(), hrRequest(), "")
	second := svc.Evaluate(context.Background(), hrRequest(), "")

	if first.Decision != second.Decision || !sameStrings(first.Reasons, second.Reasons) {
		t.Fatalf("cached decision diverged: %+v vs %+v", first, second)
	}
	if svc.CacheSize() != 1 {
		t.Fatalf("CacheSize = %d, want 1", svc.CacheSize())
	}
	stats.mu.Lock()
	defer stats.mu.Unlock()
	if stats.cacheHits != 1 {
		t.Fatalf("cacheHits = %d, want 1", stats.cacheHits)
	}
	if stats.decisions[authz.EffectPermit] != 2 {
		t.Fatalf("permit count = %d, want 2", stats.decisions[authz.EffectPermit])
	}
}

func TestEvaluate_CacheHitGetsFreshCorrelationTag(t *testing.T) {
	t.Parallel()

	deny := authz.Policy{
		RuleID: "Block-HR-01", Effect: authz.EffectDeny, Priority: 10,
		Conditions: mustConditions(t, map[string]any{"subject.dept": map[string]any{"eq": "HR"}}),
	}
	svc := newTestAuthz(t, newStubRepo(deny))

	first := svc.Evaluate(context.Background(), hrRequest(), "req-a")
	second := svc.Evaluate(context.Background(), hrRequest(), "req-b")

	if !sameStrings(first.Obligations, []string{"Log denied access attempt", "correlation_id: req-a"}) {
		t.Fatalf("first obligations = %v", first.Obligations)
	}
	// The cached entry is untagged, so the hit gains exactly one fresh tag.
	if !sameStrings(second.Obligations, []string{"Log denied access attempt", "correlation_id: req-b"}) {
		t.Fatalf("second obligations = %v", second.Obligations)
	}
}

func TestEvaluate_SwapHookClearsCache(t *testing.T) {
	t.Parallel()

	repo := newStubRepo(hrPayrollPolicy(t))
	svc := newTestAuthz(t, repo)

	if resp := svc.Evaluate(context.Background(), hrRequest(), ""); resp.Decision != authz.EffectPermit {
		t.Fatalf("initial decision = %s, want Permit", resp.Decision)
	}
	if svc.CacheSize() != 1 {
		t.Fatalf("CacheSize = %d, want 1", svc.CacheSize())
	}

	repo.swap([]authz.Policy{{
		RuleID: "Block-HR-01", Effect: authz.EffectDeny, Priority: 10,
		Conditions: mustConditions(t, map[string]any{"subject.dept": map[string]any{"eq": "HR"}}),
	}})

	if svc.CacheSize() != 0 {
		t.Fatalf("CacheSize = %d after swap, want 0", svc.CacheSize())
	}
	if resp := svc.Evaluate(context.Background(), hrRequest(), ""); resp.Decision != authz.EffectDeny {
		t.Fatalf("post-swap decision = %s, want Deny", resp.Decision)
	}
}

func TestEvaluate_EmitsAuditRecords(t *testing.T) {
	t.Parallel()

	deny := authz.Policy{
		RuleID: "Block-HR-01", Effect: authz.EffectDeny, Priority: 10,
		Conditions: mustConditions(t, map[string]any{"subject.dept": map[string]any{"eq": "HR"}}),
	}
	recorder := &recordingAudit{}
	svc := newTestAuthz(t, newStubRepo(deny, hrPayrollPolicy(t)), WithDecisionRecorder(recorder))

	svc.Evaluate(context.Background(), hrRequest(), "req-audit")

	records := recorder.all()
	if len(records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(records))
	}
	rec := records[0]
	if rec.EventType != audit.EventTypeDecision {
		t.Fatalf("event type = %s", rec.EventType)
	}
	if rec.CorrelationID != "req-audit" || rec.Decision != "Deny" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.CacheHit {
		t.Fatal("CacheHit = true on first evaluation")
	}
	if len(rec.Reasons) == 0 || rec.ObligationCount != 2 {
		t.Fatalf("deny record missing lists: %+v", rec)
	}

	// Permit records carry counts but not the full lists.
	permitOnly := newTestAuthz(t, newStubRepo(hrPayrollPolicy(t)), WithDecisionRecorder(recorder))
	permitOnly.Evaluate(context.Background(), hrRequest(), "req-permit")

	records = recorder.all()
	last := records[len(records)-1]
	if last.Decision != "Permit" {
		t.Fatalf("decision = %s, want Permit", last.Decision)
	}
	if last.Reasons != nil || last.Obligations != nil {
		t.Fatalf("permit record carries full lists: %+v", last)
	}
	if last.ReasonCount != 1 || last.ObligationCount != 1 {
		t.Fatalf("permit record counts = %d/%d", last.ReasonCount, last.ObligationCount)
	}
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

func TestGetApplicablePolicies(t *testing.T) {
	t.Parallel()

	svc := newTestAuthz(t, newStubRepo(hrPayrollPolicy(t), riskStepUpPolicy(t)))
	report, err := svc.GetApplicablePolicies(context.Background(), hrRequest())
	if err != nil {
		t.Fatalf("GetApplicablePolicies: %v", err)
	}

	if report.TotalPolicies != 2 {
		t.Fatalf("TotalPolicies = %d, want 2", report.TotalPolicies)
	}
	if len(report.ApplicablePolicies) != 1 || report.ApplicablePolicies[0].RuleID != "HR-Payroll-01" {
		t.Fatalf("applicable = %+v", report.ApplicablePolicies)
	}
	if !report.ApplicablePolicies[0].Applicable {
		t.Fatal("applicable entry flagged false")
	}
	if len(report.NonApplicablePolicies) != 1 || report.NonApplicablePolicies[0].RuleID != "Risk-StepUp-01" {
		t.Fatalf("non-applicable = %+v", report.NonApplicablePolicies)
	}
	if report.EvaluationContext["subject.dept"] != "HR" {
		t.Fatalf("evaluation context = %v", report.EvaluationContext)
	}
	if report.EvaluationContext["action"] != authz.DefaultAction {
		t.Fatalf("action = %v", report.EvaluationContext["action"])
	}
}

func TestReloadPolicies_ClearsCache(t *testing.T) {
	t.Parallel()

	recorder := &recordingAudit{}
	svc := newTestAuthz(t, newStubRepo(hrPayrollPolicy(t)), WithDecisionRecorder(recorder))

	svc.Evaluate(context.Background(), hrRequest(), "")
	if svc.CacheSize() != 1 {
		t.Fatalf("CacheSize = %d before reload, want 1", svc.CacheSize())
	}

	report := svc.ReloadPolicies(context.Background())
	if !report.CacheCleared {
		t.Fatal("CacheCleared = false")
	}
	if !report.ReloadResult.Valid {
		t.Fatalf("reload result = %+v", report.ReloadResult)
	}
	if report.Timestamp.IsZero() {
		t.Fatal("Timestamp is zero")
	}
	if svc.CacheSize() != 0 {
		t.Fatalf("CacheSize = %d after reload, want 0", svc.CacheSize())
	}

	records := recorder.all()
	found := false
	for _, rec := range records {
		if rec.EventType == audit.EventTypePolicyReload {
			found = true
		}
	}
	if !found {
		t.Fatal("no policy reload audit record emitted")
	}
}

func TestValidateCurrentPolicies(t *testing.T) {
	t.Parallel()

	svc := newTestAuthz(t, newStubRepo(hrPayrollPolicy(t)))
	report := svc.ValidateCurrentPolicies(context.Background())

	if !report.Validation.Valid {
		t.Fatalf("validation = %+v", report.Validation)
	}
	if report.Metadata.PoliciesCount != 1 {
		t.Fatalf("metadata count = %d, want 1", report.Metadata.PoliciesCount)
	}
	if report.Timestamp.IsZero() {
		t.Fatal("Timestamp is zero")
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	deny := authz.Policy{
		RuleID: "Block-All-01", Effect: authz.EffectDeny, Priority: 5,
		Conditions: mustConditions(t, map[string]any{"subject.dept": map[string]any{"eq": "X"}}),
	}
	svc := newTestAuthz(t, newStubRepo(hrPayrollPolicy(t), deny))

	svc.Evaluate(context.Background(), hrRequest(), "")
	m, err := svc.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}

	if m.PoliciesCount != 2 {
		t.Fatalf("PoliciesCount = %d, want 2", m.PoliciesCount)
	}
	if m.EffectsDistribution[authz.EffectPermit] != 1 || m.EffectsDistribution[authz.EffectDeny] != 1 {
		t.Fatalf("EffectsDistribution = %v", m.EffectsDistribution)
	}
	if m.CacheSize != 1 {
		t.Fatalf("CacheSize = %d, want 1", m.CacheSize)
	}
	if m.CacheTTLSeconds != 300 {
		t.Fatalf("CacheTTLSeconds = %d, want 300", m.CacheTTLSeconds)
	}
	if m.Status != "active" {
		t.Fatalf("Status = %q", m.Status)
	}
}

// ---------------------------------------------------------------------------
// Conflict detection
// ---------------------------------------------------------------------------

func TestDetectConflicts_IdenticalConditions(t *testing.T) {
	t.Parallel()

	conditions := map[string]any{"subject.dept": map[string]any{"eq": "HR"}}
	permit := authz.Policy{
		RuleID: "Allow-HR-01", Effect: authz.EffectPermit, Priority: 10,
		Conditions: mustConditions(t, conditions),
	}
	deny := authz.Policy{
		RuleID: "Block-HR-01", Effect: authz.EffectDeny, Priority: 20,
		Conditions: mustConditions(t, conditions),
	}

	svc := newTestAuthz(t, newStubRepo(permit, deny))
	conflicts, err := svc.DetectConflicts(context.Background())
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(conflicts))
	}
	if conflicts[0].PermitRuleID != "Allow-HR-01" || conflicts[0].DenyRuleID != "Block-HR-01" {
		t.Fatalf("conflict = %+v", conflicts[0])
	}
}

func TestDetectConflicts_NoFalsePositives(t *testing.T) {
	t.Parallel()

	svc := newTestAuthz(t, newStubRepo(hrPayrollPolicy(t), riskStepUpPolicy(t)))
	conflicts, err := svc.DetectConflicts(context.Background())
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("got %d conflicts, want 0", len(conflicts))
	}
}
