package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/audit"
)

// WriterStore implements audit.Store by writing one JSON line per record to
// an io.Writer. The default deployment points it at stdout so the audit
// trail rides the process log stream.
type WriterStore struct {
	w      io.Writer
	mu     sync.Mutex
	recent *recentRing
}

// NewWriterStore creates a store writing to w. recentSize bounds the
// in-memory ring; zero or negative selects the default of 1000.
func NewWriterStore(w io.Writer, recentSize int) *WriterStore {
	return &WriterStore{
		w:      w,
		recent: newRecentRing(recentSize),
	}
}

// NewStdoutStore creates a store writing to standard output.
func NewStdoutStore(recentSize int) *WriterStore {
	return NewWriterStore(os.Stdout, recentSize)
}

// Append writes each record as a compact JSON line.
func (s *WriterStore) Append(_ context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		if _, err := s.w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		s.recent.Add(rec)
	}
	return nil
}

// Flush is a no-op. Append writes straight through; nothing is buffered.
func (s *WriterStore) Flush(_ context.Context) error {
	return nil
}

// Close is a no-op. The store does not own the writer and never closes it.
func (s *WriterStore) Close() error {
	return nil
}

// GetRecent returns up to n recent records, newest first.
func (s *WriterStore) GetRecent(n int) []audit.Record {
	return s.recent.Recent(n)
}

// Compile-time interface verification.
var _ audit.Store = (*WriterStore)(nil)
