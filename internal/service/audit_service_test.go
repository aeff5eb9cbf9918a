package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/audit"
	"go.uber.org/goleak"
)

// mockSlowAuditStore simulates a slow backend for testing backpressure.
type mockSlowAuditStore struct {
	delay time.Duration
}

func (m *mockSlowAuditStore) Append(ctx context.Context, records ...audit.Record) error {
	time.Sleep(m.delay)
	return nil
}

func (m *mockSlowAuditStore) Flush(ctx context.Context) error { return nil }
func (m *mockSlowAuditStore) Close() error                    { return nil }

// mockCollectingStore collects appended records for assertions.
type mockCollectingStore struct {
	mu      sync.Mutex
	records []audit.Record
	batches int
}

func (m *mockCollectingStore) Append(ctx context.Context, records ...audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	m.batches++
	return nil
}

func (m *mockCollectingStore) Flush(ctx context.Context) error { return nil }
func (m *mockCollectingStore) Close() error                    { return nil }

func (m *mockCollectingStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *mockCollectingStore) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

func TestAuditService_StopFlushesPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &mockCollectingStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewAuditService(store, logger,
		WithChannelSize(100),
		WithBatchSize(50), // larger than what we send
		WithFlushInterval(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 7; i++ {
		svc.Record(audit.Record{
			EventType: audit.EventTypeDecision,
			Subject:   fmt.Sprintf("subject_%d", i),
			Timestamp: time.Now().UTC(),
		})
	}

	svc.Stop()

	if got := store.count(); got != 7 {
		t.Errorf("expected 7 records flushed on Stop, got %d", got)
	}
}

func TestAuditService_BatchSizeTriggersFlush(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &mockCollectingStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewAuditService(store, logger,
		WithChannelSize(100),
		WithBatchSize(5),
		WithFlushInterval(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 10; i++ {
		svc.Record(audit.Record{
			EventType: audit.EventTypeTokenIssued,
			Subject:   fmt.Sprintf("subject_%d", i),
			Timestamp: time.Now().UTC(),
		})
	}

	// Allow the worker to consume both full batches.
	deadline := time.Now().Add(2 * time.Second)
	for store.count() < 10 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := store.count(); got != 10 {
		t.Errorf("expected 10 records flushed, got %d", got)
	}
	if got := store.batchCount(); got < 2 {
		t.Errorf("expected at least 2 batch writes, got %d", got)
	}

	svc.Stop()
}

func TestAuditService_FlushIntervalTriggersFlush(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &mockCollectingStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewAuditService(store, logger,
		WithChannelSize(100),
		WithBatchSize(50),
		WithFlushInterval(20*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	svc.Record(audit.Record{EventType: audit.EventTypeDecision, Subject: "tick"})

	deadline := time.Now().Add(2 * time.Second)
	for store.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := store.count(); got != 1 {
		t.Errorf("expected the ticker to flush 1 record, got %d", got)
	}

	svc.Stop()
}

func TestAuditService_OverflowWithTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Slow store to cause backpressure.
	slowStore := &mockSlowAuditStore{delay: 50 * time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewAuditService(slowStore, logger,
		WithChannelSize(2),
		WithSendTimeout(10*time.Millisecond),
		WithBatchSize(1),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 10; i++ {
		svc.Record(audit.Record{
			EventType: audit.EventTypeDecision,
			Subject:   fmt.Sprintf("subject_%d", i),
			Timestamp: time.Now().UTC(),
		})
	}

	time.Sleep(150 * time.Millisecond)

	drops := svc.DroppedRecords()
	if drops == 0 {
		t.Error("expected some records to be dropped due to timeout")
	}

	if capacity := svc.ChannelCapacity(); capacity != 2 {
		t.Errorf("expected capacity=2, got %d", capacity)
	}

	cancel()
	svc.Stop()
}

func TestAuditService_DroppedRecordsCounter(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	slowStore := &mockSlowAuditStore{delay: 500 * time.Millisecond}

	svc := NewAuditService(slowStore, logger,
		WithChannelSize(1),
		WithSendTimeout(0), // drop immediately
		WithBatchSize(1),
	)

	if drops := svc.DroppedRecords(); drops != 0 {
		t.Errorf("expected 0 initial drops, got %d", drops)
	}

	// Fill the single slot directly; the worker is not started, so the
	// channel stays full.
	select {
	case svc.auditChan <- audit.Record{Subject: "fill"}:
	default:
		t.Fatal("failed to fill channel")
	}

	svc.Record(audit.Record{Subject: "drop1"})
	svc.Record(audit.Record{Subject: "drop2"})
	svc.Record(audit.Record{Subject: "drop3"})

	if drops := svc.DroppedRecords(); drops != 3 {
		t.Errorf("expected 3 drops, got %d", drops)
	}

	// Drain channel to avoid leak.
	close(svc.auditChan)
	for range svc.auditChan {
	}
}

func TestAuditService_NoDropWithSufficientBuffer(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	slowStore := &mockSlowAuditStore{delay: 10 * time.Millisecond}

	svc := NewAuditService(slowStore, logger,
		WithChannelSize(100),
		WithSendTimeout(100*time.Millisecond),
		WithBatchSize(10),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 50; i++ {
		svc.Record(audit.Record{
			EventType: audit.EventTypeDecision,
			Subject:   fmt.Sprintf("subject_%d", i),
			Timestamp: time.Now().UTC(),
		})
	}

	time.Sleep(200 * time.Millisecond)

	if drops := svc.DroppedRecords(); drops != 0 {
		t.Errorf("expected 0 drops with large buffer, got %d", drops)
	}

	cancel()
	svc.Stop()
}

func TestAuditService_DropCounterConcurrent(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	slowStore := &mockSlowAuditStore{delay: 1 * time.Second}

	svc := NewAuditService(slowStore, logger,
		WithChannelSize(1),
		WithSendTimeout(0),
		WithBatchSize(1),
	)

	// Fill the single slot.
	select {
	case svc.auditChan <- audit.Record{Subject: "fill"}:
	default:
		t.Fatal("failed to fill channel")
	}

	const goroutines = 10
	const dropsPerGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < dropsPerGoroutine; j++ {
				svc.Record(audit.Record{Subject: fmt.Sprintf("drop_%d_%d", id, j)})
			}
		}(i)
	}
	wg.Wait()

	if drops := svc.DroppedRecords(); drops != int64(goroutines*dropsPerGoroutine) {
		t.Errorf("expected %d concurrent drops, got %d", goroutines*dropsPerGoroutine, drops)
	}

	close(svc.auditChan)
	for range svc.auditChan {
	}
}

func TestAuditService_ContextCancelDrainsChannel(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &mockCollectingStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewAuditService(store, logger,
		WithChannelSize(100),
		WithBatchSize(50),
		WithFlushInterval(time.Hour),
	)

	// Buffer records before the worker starts so cancellation finds them
	// queued.
	for i := 0; i < 5; i++ {
		svc.Record(audit.Record{Subject: fmt.Sprintf("queued_%d", i)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for store.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := store.count(); got != 5 {
		t.Errorf("expected 5 records flushed after cancel, got %d", got)
	}

	// The worker exited via ctx.Done; wait for it before the leak check.
	svc.wg.Wait()
	close(svc.auditChan)
}
