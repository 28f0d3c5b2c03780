package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeTransport scripts Send behavior and records delivered items.
type fakeTransport struct {
	mu       sync.Mutex
	sendFn   func(ctx context.Context, item PendingItem) error
	sent     []PendingItem
	attempts int
}

func (f *fakeTransport) Send(ctx context.Context, item PendingItem) error {
	f.mu.Lock()
	f.attempts++
	fn := f.sendFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, item); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, item)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) AckRemote(context.Context, string) error { return nil }

func (f *fakeTransport) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.sent))
	for _, item := range f.sent {
		ids = append(ids, item.ID)
	}
	return ids
}

func (f *fakeTransport) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func openQueue(t *testing.T, path string, transport Transport, mutate func(*Config)) *Queue {
	t.Helper()
	cfg := Config{
		Path:       path,
		Transport:  transport,
		MaxRetries: 3,
		AckWindow:  200 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	q, err := Open(cfg)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func enqueueN(t *testing.T, q *Queue, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]int{"rev": i})
		item, err := q.Enqueue("document", "doc1", Update, payload)
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		ids = append(ids, item.ID)
	}
	return ids
}

func TestOfflineItemsSurviveRestartAndFlushInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	transport := &fakeTransport{}

	q := openQueue(t, path, transport, nil)
	if q.State() != StateDisconnected {
		t.Fatalf("initial state: got %s", q.State())
	}
	ids := enqueueN(t, q, 3)
	if got := q.PendingCount(); got != 3 {
		t.Fatalf("pending: got %d", got)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A new process picks up the same durable file.
	q2, err := Open(Config{Path: path, Transport: transport, MaxRetries: 3, AckWindow: time.Second})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q2.Close()
	if got := q2.PendingCount(); got != 3 {
		t.Fatalf("pending after restart: got %d", got)
	}

	q2.NotifyConnected()
	if err := q2.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := q2.PendingCount(); got != 0 {
		t.Fatalf("pending after flush: got %d", got)
	}
	sent := transport.sentIDs()
	if len(sent) != 3 {
		t.Fatalf("sent: got %d items", len(sent))
	}
	for i, id := range ids {
		if sent[i] != id {
			t.Fatalf("FIFO order broken at %d: got %s, want %s", i, sent[i], id)
		}
	}
	if q2.State() != StateIdle {
		t.Fatalf("state after flush: got %s", q2.State())
	}
}

func TestRetryBudgetExhaustionDropsAndReports(t *testing.T) {
	var failures []PendingItem
	var failureErrs []error
	transport := &fakeTransport{
		sendFn: func(context.Context, PendingItem) error {
			return errors.New("server rejected")
		},
	}
	q := openQueue(t, filepath.Join(t.TempDir(), "queue.db"), transport, func(cfg *Config) {
		cfg.OnPermanentFailure = func(item PendingItem, err error) {
			failures = append(failures, item)
			failureErrs = append(failureErrs, err)
		}
	})

	enqueueN(t, q, 1)
	q.NotifyConnected()

	// Each pass attempts the failing head once; the budget is 3.
	for i := 0; i < 3; i++ {
		if err := q.Flush(context.Background()); err != nil {
			t.Fatalf("flush %d: %v", i, err)
		}
	}

	if got := transport.attemptCount(); got != 3 {
		t.Fatalf("attempts: got %d, want 3", got)
	}
	if got := q.PendingCount(); got != 0 {
		t.Fatalf("item should be dropped, pending=%d", got)
	}
	if len(failures) != 1 {
		t.Fatalf("permanent failures: got %d", len(failures))
	}
	var maxErr *MaxRetriesExceededError
	if !errors.As(failureErrs[0], &maxErr) {
		t.Fatalf("expected MaxRetriesExceededError, got %v", failureErrs[0])
	}
	if maxErr.Retries != 3 {
		t.Fatalf("reported retries: got %d", maxErr.Retries)
	}
}

func TestAckTimeoutKeepsItemQueued(t *testing.T) {
	transport := &fakeTransport{
		sendFn: func(ctx context.Context, _ PendingItem) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	q := openQueue(t, filepath.Join(t.TempDir(), "queue.db"), transport, func(cfg *Config) {
		cfg.AckWindow = 20 * time.Millisecond
	})

	enqueueN(t, q, 1)
	q.NotifyConnected()
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if got := q.PendingCount(); got != 1 {
		t.Fatalf("timed-out item should stay queued, pending=%d", got)
	}
	// The retry delivers once the transport recovers.
	transport.mu.Lock()
	transport.sendFn = nil
	transport.mu.Unlock()
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if got := q.PendingCount(); got != 0 {
		t.Fatalf("pending after recovery: got %d", got)
	}
}

func TestDisconnectHaltsFlush(t *testing.T) {
	transport := &fakeTransport{
		sendFn: func(context.Context, PendingItem) error {
			return ErrDisconnected
		},
	}
	q := openQueue(t, filepath.Join(t.TempDir(), "queue.db"), transport, nil)

	enqueueN(t, q, 2)
	q.NotifyConnected()
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if q.State() != StateDisconnected {
		t.Fatalf("state: got %s", q.State())
	}
	if got := q.PendingCount(); got != 2 {
		t.Fatalf("items must survive a disconnect, pending=%d", got)
	}
	if got := transport.attemptCount(); got != 1 {
		t.Fatalf("flush should halt at the first disconnect, attempts=%d", got)
	}
}

func TestEnqueueWhileDisconnectedDoesNotFlush(t *testing.T) {
	transport := &fakeTransport{}
	q := openQueue(t, filepath.Join(t.TempDir(), "queue.db"), transport, nil)

	enqueueN(t, q, 2)
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := transport.attemptCount(); got != 0 {
		t.Fatalf("disconnected queue must not send, attempts=%d", got)
	}
	if got := q.PendingCount(); got != 2 {
		t.Fatalf("pending: got %d", got)
	}
}

func TestConflictResolutionIsResubmitted(t *testing.T) {
	transport := &fakeTransport{}
	q := openQueue(t, filepath.Join(t.TempDir(), "queue.db"), transport, func(cfg *Config) {
		cfg.Resolve = func(local, remote PendingItem) PendingItem {
			if remote.CreatedAt > local.CreatedAt {
				return remote
			}
			return local
		}
	})

	payload, _ := json.Marshal(map[string]string{"content": "local"})
	local, err := q.Enqueue("document", "doc1", Update, payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	remotePayload, _ := json.Marshal(map[string]string{"content": "remote"})
	remote := PendingItem{
		ID:         "remote-1",
		Kind:       Update,
		EntityType: "document",
		EntityID:   "doc1",
		Payload:    remotePayload,
		CreatedAt:  local.CreatedAt + 1,
	}
	if err := q.OnConflict(local, remote); err != nil {
		t.Fatalf("conflict: %v", err)
	}

	q.NotifyConnected()
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	sent := transport.sentIDs()
	if len(sent) != 1 || sent[0] != "remote-1" {
		t.Fatalf("resolution not resubmitted: %v", sent)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	q := openQueue(t, filepath.Join(t.TempDir(), "queue.db"), transport, nil)

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Deferred cleanup closes again; so may a caller racing shutdown.
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestRemoteItemForQueuedEntityGoesThroughResolver(t *testing.T) {
	var applied []string
	transport := &fakeTransport{}
	q := openQueue(t, filepath.Join(t.TempDir(), "queue.db"), transport, func(cfg *Config) {
		cfg.Resolve = func(local, remote PendingItem) PendingItem {
			if remote.CreatedAt > local.CreatedAt {
				return remote
			}
			return local
		}
		cfg.ApplyRemote = func(item PendingItem) error {
			applied = append(applied, item.ID)
			return nil
		}
	})

	payload, _ := json.Marshal(map[string]string{"content": "local"})
	local, err := q.Enqueue("document", "doc1", Update, payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Push for the queued entity: conflict path, resolution replaces the
	// queued item and nothing is applied locally.
	remote := PendingItem{
		ID:         "remote-1",
		Kind:       Update,
		EntityType: "document",
		EntityID:   "doc1",
		CreatedAt:  local.CreatedAt + 1,
	}
	if err := q.OnRemoteItem(context.Background(), remote); err != nil {
		t.Fatalf("remote item: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("conflicting push must not be applied directly: %v", applied)
	}

	// Push for an untouched entity: applied as a plain remote operation.
	other := PendingItem{ID: "remote-2", Kind: Update, EntityType: "document", EntityID: "doc2"}
	if err := q.OnRemoteItem(context.Background(), other); err != nil {
		t.Fatalf("remote item: %v", err)
	}
	if len(applied) != 1 || applied[0] != "remote-2" {
		t.Fatalf("applied: %v", applied)
	}

	q.NotifyConnected()
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	sent := transport.sentIDs()
	if len(sent) != 1 || sent[0] != "remote-1" {
		t.Fatalf("resolution not resubmitted: %v", sent)
	}
}

func TestRemoteOperationIsAppliedAndAcked(t *testing.T) {
	var applied []string
	acked := make(chan string, 1)
	transport := &ackRecorder{acks: acked}
	q := openQueue(t, filepath.Join(t.TempDir(), "queue.db"), transport, func(cfg *Config) {
		cfg.ApplyRemote = func(item PendingItem) error {
			applied = append(applied, item.ID)
			return nil
		}
	})

	item := PendingItem{ID: "srv-1", Kind: Update, EntityType: "document", EntityID: "doc1"}
	if err := q.OnRemoteOperation(context.Background(), item); err != nil {
		t.Fatalf("remote op: %v", err)
	}
	if len(applied) != 1 || applied[0] != "srv-1" {
		t.Fatalf("not applied: %v", applied)
	}
	if got := <-acked; got != "srv-1" {
		t.Fatalf("acked: %s", got)
	}
}

type ackRecorder struct {
	acks chan string
}

func (a *ackRecorder) Send(context.Context, PendingItem) error { return nil }

func (a *ackRecorder) AckRemote(_ context.Context, itemID string) error {
	a.acks <- itemID
	return nil
}
