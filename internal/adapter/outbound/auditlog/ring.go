// Package auditlog persists audit records as JSON Lines, either to a plain
// writer or to daily-rotated files with retention cleanup. Both stores keep a
// bounded in-memory ring of recent records for introspection endpoints.
package auditlog

import (
	"sync"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/audit"
)

// recentRing is a fixed-size ring buffer of the latest records.
type recentRing struct {
	entries []audit.Record
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

func newRecentRing(size int) *recentRing {
	if size <= 0 {
		size = 1000
	}
	return &recentRing{
		entries: make([]audit.Record, size),
		size:    size,
	}
}

// Add appends a record, overwriting the oldest entry when full.
func (r *recentRing) Add(rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = rec
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// Recent returns up to n records, newest first.
func (r *recentRing) Recent(n int) []audit.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}

	out := make([]audit.Record, n)
	for i := 0; i < n; i++ {
		// head is the next write position, so head-1 is the newest entry
		idx := (r.head - 1 - i + r.size) % r.size
		out[i] = r.entries[idx]
	}
	return out
}

// Len returns the number of buffered records.
func (r *recentRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
