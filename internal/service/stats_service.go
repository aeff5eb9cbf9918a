package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/authz"
)

// StatsService tracks runtime counters using lock-free atomics.
// All operations are safe for concurrent access from multiple goroutines.
type StatsService struct {
	started time.Time

	permits     atomic.Int64
	denies      atomic.Int64
	challenges  atomic.Int64
	cacheHits   atomic.Int64
	tokenDenied atomic.Int64
	rateLimited atomic.Int64

	// Per-grant-type issuance counters (mutex-protected map).
	mu          sync.Mutex
	grantCounts map[string]int64
}

var _ DecisionStats = (*StatsService)(nil)

// NewStatsService creates a StatsService with all counters at zero.
func NewStatsService() *StatsService {
	return &StatsService{
		started:     time.Now(),
		grantCounts: make(map[string]int64),
	}
}

// RecordDecision increments the counter for the rendered effect.
func (s *StatsService) RecordDecision(effect authz.Effect) {
	switch effect {
	case authz.EffectPermit:
		s.permits.Add(1)
	case authz.EffectDeny:
		s.denies.Add(1)
	case authz.EffectChallenge:
		s.challenges.Add(1)
	}
}

// RecordCacheHit increments the decision cache hit counter.
func (s *StatsService) RecordCacheHit() {
	s.cacheHits.Add(1)
}

// RecordTokenIssued increments the issuance counter for the given grant type.
// Empty grant types are skipped.
func (s *StatsService) RecordTokenIssued(grantType string) {
	if grantType == "" {
		return
	}
	s.mu.Lock()
	s.grantCounts[grantType]++
	s.mu.Unlock()
}

// RecordTokenDenied increments the rejected-issuance counter.
func (s *StatsService) RecordTokenDenied() {
	s.tokenDenied.Add(1)
}

// RecordRateLimited increments the rate-limited counter.
func (s *StatsService) RecordRateLimited() {
	s.rateLimited.Add(1)
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	Permits       int64            `json:"permits"`
	Denies        int64            `json:"denies"`
	Challenges    int64            `json:"challenges"`
	CacheHits     int64            `json:"cache_hits"`
	TokensDenied  int64            `json:"tokens_denied"`
	RateLimited   int64            `json:"rate_limited"`
	GrantCounts   map[string]int64 `json:"grant_counts"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	gc := make(map[string]int64, len(s.grantCounts))
	for k, v := range s.grantCounts {
		gc[k] = v
	}
	s.mu.Unlock()

	return Stats{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Permits:       s.permits.Load(),
		Denies:        s.denies.Load(),
		Challenges:    s.challenges.Load(),
		CacheHits:     s.cacheHits.Load(),
		TokensDenied:  s.tokenDenied.Load(),
		RateLimited:   s.rateLimited.Load(),
		GrantCounts:   gc,
	}
}

// Reset sets all counters to zero. The start time is kept.
func (s *StatsService) Reset() {
	s.permits.Store(0)
	s.denies.Store(0)
	s.challenges.Store(0)
	s.cacheHits.Store(0)
	s.tokenDenied.Store(0)
	s.rateLimited.Store(0)

	s.mu.Lock()
	s.grantCounts = make(map[string]int64)
	s.mu.Unlock()
}
