package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/audit"
)

// logFilePattern matches audit log filenames: audit-YYYY-MM-DD.log or
// audit-YYYY-MM-DD-N.log for size-rotated segments.
var logFilePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

// FileConfig holds configuration for the rotating file store.
type FileConfig struct {
	// Dir is the directory audit files are written to.
	Dir string
	// RetentionDays is how many days of files to keep (default 7).
	RetentionDays int
	// MaxFileSizeMB caps a single file before size rotation (default 100).
	MaxFileSizeMB int
	// RecentSize bounds the in-memory ring of recent records (default 1000).
	RecentSize int
}

// FileStore implements audit.Store with JSON Lines files, daily and
// size-based rotation, and retention cleanup.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int

	file   *os.File
	date   string
	suffix int
	size   int64

	recent *recentRing
	mu     sync.Mutex
	logger *slog.Logger
	cancel context.CancelFunc
	closed bool
}

// NewFileStore creates the directory if needed, opens today's file, runs a
// retention sweep, and starts the hourly cleanup goroutine.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		recent:        newRecentRing(cfg.RecentSize),
		logger:        logger,
		cancel:        cancel,
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := s.switchFileLocked(today, s.highestSuffix(today)); err != nil {
		cancel()
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	s.sweepExpired()
	go s.cleanupLoop(ctx)

	return s, nil
}

// Append writes each record as a compact JSON line, rotating by date and
// size as needed.
func (s *FileStore) Append(_ context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		dateStr := rec.Timestamp.UTC().Format("2006-01-02")
		if dateStr != s.date {
			if err := s.switchFileLocked(dateStr, 0); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.size >= s.maxFileSize {
			if err := s.switchFileLocked(s.date, s.suffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		n, err := s.file.Write(append(data, '\n'))
		if err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		s.size += int64(n)
		s.recent.Add(rec)
	}
	return nil
}

// Flush syncs the current file to disk.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return s.file.Sync()
	}
	return nil
}

// Close stops the cleanup goroutine and syncs and closes the current file.
// Close is idempotent.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	if s.file != nil {
		_ = s.file.Sync()
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// GetRecent returns up to n recent records, newest first.
func (s *FileStore) GetRecent(n int) []audit.Record {
	return s.recent.Recent(n)
}

// switchFileLocked closes the current file, if any, and opens the segment
// for the given date and suffix. Must be called with s.mu held.
func (s *FileStore) switchFileLocked(dateStr string, suffix int) error {
	if s.file != nil {
		_ = s.file.Sync()
		_ = s.file.Close()
		s.file = nil
	}

	path := filepath.Join(s.dir, segmentName(dateStr, suffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat file %s: %w", path, err)
	}

	s.file = f
	s.date = dateStr
	s.suffix = suffix
	s.size = info.Size()
	return nil
}

// highestSuffix returns the highest existing segment suffix for a date, so
// a restart keeps appending to the newest segment instead of an old one.
func (s *FileStore) highestSuffix(dateStr string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	highest := 0
	for _, e := range entries {
		date, suffix, ok := parseSegmentName(e.Name())
		if !ok || date != dateStr {
			continue
		}
		if suffix > highest {
			highest = suffix
		}
	}
	return highest
}

// sweepExpired deletes audit files older than the retention period.
func (s *FileStore) sweepExpired() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("audit retention sweep failed", "dir", s.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, e := range entries {
		date, _, ok := parseSegmentName(e.Name())
		if !ok {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", date)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				s.logger.Error("audit retention sweep: delete failed", "file", e.Name(), "error", err)
			} else {
				deleted++
			}
		}
	}
	if deleted > 0 {
		s.logger.Info("audit retention sweep completed", "deleted", deleted)
	}
}

func (s *FileStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func segmentName(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.log", dateStr)
	}
	return fmt.Sprintf("audit-%s-%d.log", dateStr, suffix)
}

func parseSegmentName(name string) (date string, suffix int, ok bool) {
	matches := logFilePattern.FindStringSubmatch(name)
	if matches == nil {
		return "", 0, false
	}
	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return "", 0, false
		}
		suffix = n
	}
	return matches[1], suffix, true
}

// Compile-time interface verification.
var _ audit.Store = (*FileStore)(nil)
