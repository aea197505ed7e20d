// Package queue implements the durable delivery queue at the center of the
// offline-first sync engine. An item enqueued here is persisted before the
// call returns and stays persisted until a sync handler confirms delivery
// or the item is abandoned, so a crash at any point never loses a sale.
package queue

import (
	"context"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	apperrors "github.com/tillpoint/pos-core/internal/errors"
	"github.com/tillpoint/pos-core/internal/logging"
	"github.com/tillpoint/pos-core/internal/models"
	"github.com/tillpoint/pos-core/internal/telemetry"
)

// Verdict classifies the outcome of one delivery attempt.
type Verdict int

const (
	// VerdictSuccess: the item is fully delivered and safe to delete.
	VerdictSuccess Verdict = iota
	// VerdictRetry: transient failure; the item stays pending with an
	// incremented attempt count.
	VerdictRetry
	// VerdictAbandon: permanent failure; the item is removed and recorded
	// as abandoned immediately, bypassing the retry counter.
	VerdictAbandon
)

// String returns the verdict name for logs.
func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictRetry:
		return "retry"
	case VerdictAbandon:
		return "abandon"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// ProcessResult is the three-way verdict a handler returns for one attempt.
type ProcessResult struct {
	Verdict Verdict
	Reason  string
}

// Success reports a fully delivered item.
func Success() ProcessResult {
	return ProcessResult{Verdict: VerdictSuccess}
}

// Retryf reports a transient failure with a formatted reason.
func Retryf(format string, args ...interface{}) ProcessResult {
	return ProcessResult{Verdict: VerdictRetry, Reason: fmt.Sprintf(format, args...)}
}

// Abandonf reports a permanent failure with a formatted reason.
func Abandonf(format string, args ...interface{}) ProcessResult {
	return ProcessResult{Verdict: VerdictAbandon, Reason: fmt.Sprintf(format, args...)}
}

// Store is the persistence adapter contract the queue drives. Existence
// of an item in the store is the sole source of truth for "needs
// delivery"; every operation must be crash-atomic per item and must
// propagate failures instead of swallowing them.
type Store interface {
	GenerateID() (int64, error)
	Save(item *models.QueuedItem) error
	Update(item *models.QueuedItem) error
	Delete(id int64) error
	GetAll() ([]models.QueuedItem, error)
	Count() (int, error)
	Clear() error

	MarkAbandoned(item *models.QueuedItem, reason string, abandonedAt int64) error
	RequeueAbandoned(id int64) (bool, error)
	GetAbandoned() ([]models.AbandonedItem, error)
	DeleteAbandoned(id int64) (bool, error)
}

// Handler converts one queued item into a backend call and classifies the
// outcome. Handlers are stateless with respect to the queue.
type Handler interface {
	Sync(ctx context.Context, item *models.QueuedItem) ProcessResult
}

// Config holds queue construction options.
type Config struct {
	// MaxRetries is the attempt ceiling before a retried item is
	// abandoned. Zero means the default of 5.
	MaxRetries int

	// Notify, if set, is called with the new pending count whenever the
	// published projection changes. Called outside the queue locks.
	Notify func(pending int)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DurableQueue owns the mutation lifecycle of queued items. It is safe
// for concurrent use: producers may enqueue while a drain is in flight.
type DurableQueue struct {
	store      Store
	handlers   map[string]Handler
	maxRetries int
	notify     func(pending int)
	now        func() time.Time

	// mu guards item metadata mutation against concurrent producers.
	// Handler calls never run under it.
	mu stdsync.Mutex

	// draining is the single-flight guard for ProcessQueue: two passes
	// must never act on the same snapshot.
	draining atomic.Bool

	// pending caches store.Count() for lock-free reads. During a drain it
	// may transiently include in-flight items; this is eventual, not
	// real-time, consistency.
	pending atomic.Int64
}

// New creates a DurableQueue over the given store. Handlers are
// registered per item type with RegisterHandler before processing starts.
func New(store Store, cfg Config) *DurableQueue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DurableQueue{
		store:      store,
		handlers:   make(map[string]Handler),
		maxRetries: cfg.MaxRetries,
		notify:     cfg.Notify,
		now:        cfg.Now,
	}
}

// RegisterHandler binds a handler to an item type tag. Registration is
// construction-time wiring and is not safe to call after the queue is in
// use.
func (q *DurableQueue) RegisterHandler(itemType string, h Handler) {
	q.handlers[itemType] = h
}

// Initialize recomputes the pending-count projection from the store.
// Recovery after a crash is automatic: the store is the source of truth,
// so re-reading it is the only replay logic that exists.
func (q *DurableQueue) Initialize() error {
	count, err := q.store.Count()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not recover pending count", err)
	}
	q.pending.Store(int64(count))
	q.publish()
	logging.Info("queue initialized", map[string]interface{}{"pending": count})
	return nil
}

// Enqueue persists an item before returning. The caller must not treat
// the item as accepted until Enqueue returns nil: a nil return means the
// record is durable and will survive a crash.
func (q *DurableQueue) Enqueue(item *models.QueuedItem) error {
	q.mu.Lock()
	if item.ID == 0 {
		id, err := q.store.GenerateID()
		if err != nil {
			q.mu.Unlock()
			return apperrors.Wrap(apperrors.ErrQueuePersist, "could not assign item id", err)
		}
		item.ID = id
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = q.now().Unix()
	}
	if err := q.store.Save(item); err != nil {
		q.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrQueuePersist, "could not persist item", err)
	}
	q.pending.Add(1)
	q.mu.Unlock()

	q.publish()
	logging.Debug("item enqueued", map[string]interface{}{
		"id":   item.ID,
		"type": item.Type,
	})
	return nil
}

// PendingCount returns the cached pending-count projection. Safe to call
// concurrently with enqueues and drains.
func (q *DurableQueue) PendingCount() int {
	return int(q.pending.Load())
}

// ProcessQueue drains the queue once: it snapshots all pending items in
// insertion order and hands each to its handler, applying the verdict.
// Returns the number of items successfully delivered in this pass.
//
// Only one pass runs at a time; a second concurrent call fails fast with
// ErrDrainBusy. The snapshot is taken under the metadata lock, but every
// handler invocation happens outside it, so producers are never blocked
// by a slow network call. After a cancellation the current item finishes
// but no further items are attempted.
func (q *DurableQueue) ProcessQueue(ctx context.Context) (int, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return 0, apperrors.New(apperrors.ErrDrainBusy, "queue drain already in progress")
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	items, err := q.store.GetAll()
	q.mu.Unlock()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, "could not snapshot queue", err)
	}

	start := q.now()
	delivered := 0
	for i := range items {
		if ctx.Err() != nil {
			logging.Info("drain cancelled", map[string]interface{}{
				"processed": i,
				"remaining": len(items) - i,
			})
			break
		}

		item := &items[i]
		result := q.attempt(ctx, item)
		if q.apply(item, result) && result.Verdict == VerdictSuccess {
			delivered++
		}
	}

	// One projection recompute per pass, from the authoritative count.
	q.mu.Lock()
	count, err := q.store.Count()
	q.mu.Unlock()
	if err != nil {
		return delivered, apperrors.Wrap(apperrors.ErrStore, "could not recompute pending count", err)
	}
	q.pending.Store(int64(count))
	q.publish()

	if len(items) > 0 {
		logging.Info("drain pass finished", map[string]interface{}{
			"snapshot":  len(items),
			"delivered": delivered,
			"pending":   count,
		})
		telemetry.RecordCount("queue.delivered", delivered, nil)
		telemetry.RecordTiming("queue.drain", q.now().Sub(start), nil)
	}
	return delivered, nil
}

// attempt runs the handler for one item, converting a missing handler
// into an abandon verdict and a handler panic into a retry verdict. A
// handler must never be able to crash the drain loop.
func (q *DurableQueue) attempt(ctx context.Context, item *models.QueuedItem) (result ProcessResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("sync handler panicked", fmt.Errorf("%v", r),
				map[string]interface{}{"id": item.ID, "type": item.Type})
			result = Retryf("handler panic: %v", r)
		}
	}()

	handler, ok := q.handlers[item.Type]
	if !ok {
		return Abandonf("no handler registered for type %q", item.Type)
	}
	return handler.Sync(ctx, item)
}

// apply commits one verdict to the store under the metadata lock.
// Returns false if the store rejected the mutation; the item then stays
// pending and is effectively retried on the next pass.
func (q *DurableQueue) apply(item *models.QueuedItem, result ProcessResult) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	var err error
	switch result.Verdict {
	case VerdictSuccess:
		err = q.store.Delete(item.ID)

	case VerdictRetry:
		item.Attempts++
		now := q.now().Unix()
		item.LastAttempt = &now
		if item.Attempts >= q.maxRetries {
			err = q.store.MarkAbandoned(item, result.Reason, q.now().Unix())
			if err == nil {
				logging.Warn("item abandoned after exhausting retries", map[string]interface{}{
					"id":       item.ID,
					"type":     item.Type,
					"attempts": item.Attempts,
					"reason":   result.Reason,
				})
				telemetry.RecordCount("queue.abandoned", 1, map[string]string{"cause": "exhausted"})
			}
		} else {
			err = q.store.Update(item)
			if err == nil {
				logging.Debug("item scheduled for retry", map[string]interface{}{
					"id":       item.ID,
					"attempts": item.Attempts,
					"reason":   result.Reason,
				})
			}
		}

	case VerdictAbandon:
		err = q.store.MarkAbandoned(item, result.Reason, q.now().Unix())
		if err == nil {
			logging.Warn("item abandoned", map[string]interface{}{
				"id":     item.ID,
				"type":   item.Type,
				"reason": result.Reason,
			})
			telemetry.RecordCount("queue.abandoned", 1, map[string]string{"cause": "permanent"})
		}
	}

	if err != nil {
		// The store is the ledger; if it refused the mutation the item is
		// still pending and the next pass will redo the work. The backend
		// deduplicates by idempotency key, so a redone Success is safe.
		logging.ErrorWithCode("could not apply verdict", string(apperrors.ErrStore), err,
			map[string]interface{}{"id": item.ID, "verdict": result.Verdict.String()})
		return false
	}
	return true
}

// GetAllPending returns a read-only snapshot of pending items for
// diagnostics and UI.
func (q *DurableQueue) GetAllPending() ([]models.QueuedItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.GetAll()
}

// GetAbandonedItems returns all abandoned records, oldest first.
func (q *DurableQueue) GetAbandonedItems() ([]models.AbandonedItem, error) {
	return q.store.GetAbandoned()
}

// RetryAbandonedItem re-admits an abandoned item to the pending set with
// its attempt count reset to zero. The transition is a single store
// operation, so a crash mid-retry can never lose the record from both
// ledgers. Returns false if no abandoned record with that id exists.
func (q *DurableQueue) RetryAbandonedItem(id int64) (bool, error) {
	q.mu.Lock()
	requeued, err := q.store.RequeueAbandoned(id)
	if err != nil {
		q.mu.Unlock()
		return false, apperrors.Wrap(apperrors.ErrQueuePersist, "could not requeue abandoned item", err)
	}
	if requeued {
		q.pending.Add(1)
	}
	q.mu.Unlock()

	if !requeued {
		return false, nil
	}
	q.publish()
	logging.Info("abandoned item re-queued", map[string]interface{}{"id": id})
	return true, nil
}

// ClearAbandonedItem drops an abandoned record without re-queueing it
// (manual resolution by an operator). Returns false if no such record
// exists.
func (q *DurableQueue) ClearAbandonedItem(id int64) (bool, error) {
	removed, err := q.store.DeleteAbandoned(id)
	if err != nil {
		return false, err
	}
	if removed {
		logging.Info("abandoned item cleared", map[string]interface{}{"id": id})
	}
	return removed, nil
}

// Clear removes every pending item. Destructive; exposed for device
// decommissioning and tests only.
func (q *DurableQueue) Clear() error {
	q.mu.Lock()
	err := q.store.Clear()
	if err == nil {
		q.pending.Store(0)
	}
	q.mu.Unlock()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not clear queue", err)
	}
	q.publish()
	return nil
}

func (q *DurableQueue) publish() {
	if q.notify != nil {
		q.notify(int(q.pending.Load()))
	}
}
