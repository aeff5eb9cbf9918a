package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/audit"
)

// AuditService provides async audit logging with a buffered channel and
// background worker. Decision and lifecycle events are recorded without
// blocking the request hot path.
type AuditService struct {
	store         audit.Store
	auditChan     chan audit.Record
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately when full
	dropCount   atomic.Int64
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		s.batchSize = size
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		s.flushInterval = interval
	}
}

// WithChannelSize sets the size of the audit channel buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		s.auditChan = make(chan audit.Record, size)
		s.channelSize = size
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately when the channel is full, >0 = block up to this
// duration before dropping.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	defaultChannelSize := 1000
	s := &AuditService{
		store:         store,
		auditChan:     make(chan audit.Record, defaultChannelSize),
		logger:        logger,
		batchSize:     100,
		flushInterval: time.Second,
		channelSize:   defaultChannelSize,
		sendTimeout:   100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background worker that batches and writes audit records.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record sends an audit record to the background worker. A fast non-blocking
// send is attempted first; when the channel is full the caller blocks up to
// sendTimeout, after which the record is dropped and counted. Record must not
// be called after Stop.
func (s *AuditService) Record(record audit.Record) {
	select {
	case s.auditChan <- record:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	select {
	case s.auditChan <- record:
	case <-time.After(s.sendTimeout):
		s.recordDrop(record)
	}
}

func (s *AuditService) recordDrop(record audit.Record) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit record dropped",
		"event_type", record.EventType,
		"subject", record.Subject,
		"total_drops", drops,
	)
}

// DroppedRecords returns total dropped records (for metrics/alerting).
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage (for health reporting).
func (s *AuditService) ChannelDepth() int {
	return len(s.auditChan)
}

// ChannelCapacity returns the channel buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop signals the worker to stop and waits for it to finish.
// Pending records are flushed before returning.
func (s *AuditService) Stop() {
	close(s.auditChan)
	s.wg.Wait()
}

// worker is the background goroutine that collects and flushes audit records.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case record, ok := <-s.auditChan:
			if !ok {
				// Channel closed, final flush with a bounded deadline.
				s.finalFlush(batch)
				return
			}
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain whatever is already buffered, then flush and exit.
		drain:
			for {
				select {
				case record, ok := <-s.auditChan:
					if !ok {
						break drain
					}
					batch = append(batch, record)
				default:
					break drain
				}
			}
			s.finalFlush(batch)
			return
		}
	}
}

// finalFlush writes the remaining batch with its own deadline; the caller's
// context is already done at this point.
func (s *AuditService) finalFlush(batch []audit.Record) {
	if len(batch) == 0 {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(flushCtx, batch)
}

// flush writes a batch of records to the store. Errors are logged but not
// propagated; audit must not fail the operations it observes.
func (s *AuditService) flush(ctx context.Context, batch []audit.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// Compile-time interface verification.
var _ audit.Recorder = (*AuditService)(nil)
