// Package syncq is the client-side durable outbox. Local mutations are
// appended to a bbolt-backed FIFO and survive restarts; while connected the
// queue drains them to the server one at a time, each with a bounded ack
// window, and retries failures with exponential backoff up to a configured
// maximum before surfacing a permanent failure.
package syncq

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	bolt "go.etcd.io/bbolt"
)

var pendingBucket = []byte("pending")

// ErrDisconnected is returned by a Transport when the connection is down.
// It halts an in-progress flush; queued items wait for reconnect.
var ErrDisconnected = errors.New("transport disconnected")

// Transport delivers pending items to the server. Send blocks until the
// server acknowledges the item or ctx expires.
type Transport interface {
	Send(ctx context.Context, item PendingItem) error
	// AckRemote confirms a server-pushed item was applied locally.
	AckRemote(ctx context.Context, itemID string) error
}

// State is the queue's lifecycle phase.
type State string

const (
	StateIdle         State = "idle"
	StateFlushing     State = "flushing"
	StateDisconnected State = "disconnected"
)

// Config wires a Queue. Zero values get defaults from Open.
type Config struct {
	// Path is the bbolt database file.
	Path      string
	Transport Transport
	// Resolve reconciles a local pending item with a conflicting remote
	// one; see the conflict package for the default policy.
	Resolve func(local, remote PendingItem) PendingItem
	// ApplyRemote applies a server-pushed item to local state.
	ApplyRemote func(item PendingItem) error
	// OnPermanentFailure is invoked when an item exhausts its retries.
	OnPermanentFailure func(item PendingItem, err error)
	MaxRetries         int
	AckWindow          time.Duration
}

// Queue is the durable offline sync queue.
type Queue struct {
	db  *bolt.DB
	cfg Config

	mu        sync.Mutex
	state     State
	connected bool

	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open loads (or creates) the durable queue at cfg.Path. Items queued in a
// previous run are ready to flush immediately.
func Open(cfg Config) (*Queue, error) {
	if cfg.Path == "" {
		return nil, errors.New("syncq: path is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("syncq: transport is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.AckWindow <= 0 {
		cfg.AckWindow = 10 * time.Second
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("syncq: open %s: %w", cfg.Path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pendingBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("syncq: init bucket: %w", err)
	}

	return &Queue{
		db:    db,
		cfg:   cfg,
		state: StateDisconnected,
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}, nil
}

// Close stops the flush loop and releases the database. Safe to call
// more than once.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		q.wg.Wait()
		err = q.db.Close()
	})
	return err
}

// State reports the current lifecycle phase.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// PendingCount returns the number of durable items awaiting ack.
func (q *Queue) PendingCount() int {
	var n int
	_ = q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(pendingBucket).Stats().KeyN
		return nil
	})
	return n
}

// Enqueue durably appends a mutation. Safe to call while a flush is in
// progress; a flush is kicked off immediately when connected.
func (q *Queue) Enqueue(entityType, entityID string, kind Kind, payload json.RawMessage) (PendingItem, error) {
	item := newPendingItem(entityType, entityID, kind, payload)
	if err := q.putItem(item); err != nil {
		return PendingItem{}, err
	}
	q.signalFlush()
	return item, nil
}

// NotifyConnected marks the transport up and triggers an auto-flush.
func (q *Queue) NotifyConnected() {
	q.mu.Lock()
	if q.state == StateDisconnected {
		q.state = StateIdle
	}
	q.connected = true
	q.mu.Unlock()
	q.signalFlush()
}

// NotifyDisconnected marks the transport down. An in-progress flush halts
// at the next item boundary; everything stays queued for reconnect.
func (q *Queue) NotifyDisconnected() {
	q.mu.Lock()
	q.connected = false
	q.state = StateDisconnected
	q.mu.Unlock()
}

// Start runs the auto-flush loop until ctx is cancelled or the queue is
// closed. Flush passes triggered by enqueue or reconnect run here; failed
// passes are retried with exponential backoff.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case <-q.kick:
			}

			if err := q.Flush(ctx); err != nil {
				log.Printf("syncq: flush: %v", err)
			}
			if q.PendingCount() > 0 && q.isConnected() {
				// Items remain after a partial pass; retry after backoff.
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case <-time.After(bo.NextBackOff()):
					q.signalFlush()
				}
			} else {
				bo.Reset()
			}
		}
	}()
}

// Flush performs one sequential FIFO pass over the pending items. Each
// item waits for its ack within a bounded window; the first transient
// failure ends the pass so delivery order is preserved. Items that exhaust
// their retry budget are removed and reported, never silently lost.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if !q.connected || q.state == StateFlushing {
		q.mu.Unlock()
		return nil
	}
	q.state = StateFlushing
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		if q.state == StateFlushing {
			q.state = StateIdle
		}
		q.mu.Unlock()
	}()

	for {
		if !q.isConnected() || ctx.Err() != nil {
			return nil
		}
		key, item, ok, err := q.headItem()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		err = q.sendOne(ctx, item)
		if err == nil {
			if err := q.deleteKey(key); err != nil {
				return err
			}
			continue
		}
		if errors.Is(err, ErrDisconnected) {
			q.NotifyDisconnected()
			return nil
		}
		if ctx.Err() != nil {
			// Shutdown, not a delivery failure; the item keeps its
			// retry budget.
			return nil
		}

		item.RetryCount++
		if item.RetryCount >= q.cfg.MaxRetries {
			if derr := q.deleteKey(key); derr != nil {
				return derr
			}
			perm := &MaxRetriesExceededError{Item: item, Retries: item.RetryCount}
			log.Printf("syncq: %v", perm)
			if q.cfg.OnPermanentFailure != nil {
				q.cfg.OnPermanentFailure(item, perm)
			}
			continue
		}
		if uerr := q.updateKey(key, item); uerr != nil {
			return uerr
		}
		// Transient failure on the head item ends the pass; backoff and
		// retry without reordering.
		return nil
	}
}

func (q *Queue) sendOne(ctx context.Context, item PendingItem) error {
	attempt, cancel := context.WithTimeout(ctx, q.cfg.AckWindow)
	defer cancel()
	err := q.cfg.Transport.Send(attempt, item)
	if errors.Is(err, context.DeadlineExceeded) {
		return &SyncTimeoutError{ItemID: item.ID}
	}
	return err
}

// OnRemoteItem routes a server-pushed item. When a queued local item
// targets the same entity the two are in conflict and go through the
// resolver; otherwise the remote item is applied and acked.
func (q *Queue) OnRemoteItem(ctx context.Context, remote PendingItem) error {
	local, ok, err := q.findByEntity(remote.EntityType, remote.EntityID)
	if err != nil {
		return err
	}
	if ok {
		return q.OnConflict(local, remote)
	}
	return q.OnRemoteOperation(ctx, remote)
}

// OnRemoteOperation applies a server-pushed item locally and acknowledges
// it immediately.
func (q *Queue) OnRemoteOperation(ctx context.Context, item PendingItem) error {
	if q.cfg.ApplyRemote != nil {
		if err := q.cfg.ApplyRemote(item); err != nil {
			return fmt.Errorf("syncq: apply remote item %s: %w", item.ID, err)
		}
	}
	if err := q.cfg.Transport.AckRemote(ctx, item.ID); err != nil {
		return fmt.Errorf("syncq: ack remote item %s: %w", item.ID, err)
	}
	return nil
}

// OnConflict reconciles a queued local item with a conflicting remote one
// and resubmits the resolution in the local item's queue slot.
func (q *Queue) OnConflict(local, remote PendingItem) error {
	resolve := q.cfg.Resolve
	if resolve == nil {
		resolve = func(l, _ PendingItem) PendingItem { return l }
	}
	resolution := resolve(local, remote)
	resolution.RetryCount = 0

	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingBucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item PendingItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode item: %w", err)
			}
			if item.ID != local.ID {
				continue
			}
			data, err := json.Marshal(resolution)
			if err != nil {
				return fmt.Errorf("encode resolution: %w", err)
			}
			return b.Put(k, data)
		}
		// Local item already flushed or dropped; nothing to resubmit.
		return nil
	})
	if err != nil {
		return fmt.Errorf("syncq: resolve conflict for %s: %w", local.ID, err)
	}
	q.signalFlush()
	return nil
}

// findByEntity returns the oldest pending item targeting the entity.
func (q *Queue) findByEntity(entityType, entityID string) (PendingItem, bool, error) {
	var found PendingItem
	var ok bool
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(pendingBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item PendingItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode item: %w", err)
			}
			if item.EntityType == entityType && item.EntityID == entityID {
				found, ok = item, true
				return nil
			}
		}
		return nil
	})
	return found, ok, err
}

func (q *Queue) isConnected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.connected
}

func (q *Queue) signalFlush() {
	if !q.isConnected() {
		return
	}
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *Queue) putItem(item PendingItem) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode item: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
}

func (q *Queue) headItem() (key []byte, item PendingItem, ok bool, err error) {
	err = q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(pendingBucket).Cursor()
		k, v := c.First()
		if k == nil {
			return nil
		}
		key = append([]byte(nil), k...)
		if err := json.Unmarshal(v, &item); err != nil {
			return fmt.Errorf("decode item: %w", err)
		}
		ok = true
		return nil
	})
	return key, item, ok, err
}

func (q *Queue) deleteKey(key []byte) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete(key)
	})
}

func (q *Queue) updateKey(key []byte, item PendingItem) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode item: %w", err)
		}
		return tx.Bucket(pendingBucket).Put(key, data)
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
