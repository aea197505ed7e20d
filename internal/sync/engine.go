package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/tillpoint/pos-core/internal/db"
	apperrors "github.com/tillpoint/pos-core/internal/errors"
	"github.com/tillpoint/pos-core/internal/logging"
	"github.com/tillpoint/pos-core/internal/sync/queue"
)

// Status represents the engine's current activity.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Result summarizes one full sync pass.
type Result struct {
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Delivered int           `json:"delivered"`
	Products  int           `json:"products"`
	Settings  int           `json:"settings"`
	Error     string        `json:"error,omitempty"`
}

// Engine runs full syncs: pull reference data from the backend, then
// drain the durable queue. It never mutates queue items itself; the
// queue exclusively owns that lifecycle.
type Engine struct {
	client *Client
	refs   *db.ReferenceStore
	queue  *queue.DurableQueue

	mu       stdsync.Mutex
	status   Status
	lastSync *time.Time
	lastErr  error
}

// NewEngine creates a sync engine.
func NewEngine(client *Client, refs *db.ReferenceStore, q *queue.DurableQueue) *Engine {
	return &Engine{
		client: client,
		refs:   refs,
		queue:  q,
		status: StatusIdle,
	}
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastSync returns the completion time of the last successful full sync.
func (e *Engine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// LastError returns the error of the most recent failed sync, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Sync performs one full pass: reference-data pull, then queue drain.
// A reference pull failure does not stop the drain; undelivered sales
// matter more than a stale catalog.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.status == StatusSyncing {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncFailed, "sync already in progress")
	}
	e.status = StatusSyncing
	e.mu.Unlock()

	result := &Result{StartTime: time.Now()}
	var refErr error

	result.Products, result.Settings, refErr = e.pullReference(ctx)
	if refErr != nil {
		logging.ErrorWithCode("reference pull failed", string(apperrors.ErrSyncFailed), refErr, nil)
	}

	delivered, drainErr := e.queue.ProcessQueue(ctx)
	result.Delivered = delivered

	result.Duration = time.Since(result.StartTime)

	err := refErr
	if drainErr != nil && !apperrors.Is(drainErr, apperrors.ErrDrainBusy) {
		err = drainErr
	}

	e.mu.Lock()
	if err != nil {
		e.status = StatusFailed
		e.lastErr = err
		result.Error = err.Error()
	} else {
		e.status = StatusIdle
		e.lastErr = nil
		done := result.StartTime.Add(result.Duration)
		e.lastSync = &done
	}
	e.mu.Unlock()

	if err != nil {
		return result, apperrors.Wrap(apperrors.ErrSyncFailed, "full sync failed", err)
	}

	logging.Info("full sync completed", map[string]interface{}{
		"delivered":   result.Delivered,
		"products":    result.Products,
		"settings":    result.Settings,
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}

// Drain runs only the queue half of a sync pass. Used on reconnection,
// where minimizing the undelivered window matters more than catalog
// freshness.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	delivered, err := e.queue.ProcessQueue(ctx)
	if err != nil && !apperrors.Is(err, apperrors.ErrDrainBusy) {
		return delivered, err
	}
	return delivered, nil
}

// pullReference refreshes the product catalog and device settings.
// The catalog pull is incremental: only rows changed since the stored
// watermark travel over the wire.
func (e *Engine) pullReference(ctx context.Context) (int, int, error) {
	cursor, err := e.refs.ProductsCursor()
	if err != nil {
		return 0, 0, err
	}

	products, err := e.client.FetchProducts(ctx, cursor)
	if err != nil {
		return 0, 0, err
	}
	if err := e.refs.UpsertProducts(products); err != nil {
		return 0, 0, err
	}
	if len(products) > 0 {
		maxUpdated := cursor
		for i := range products {
			if products[i].UpdatedAt > maxUpdated {
				maxUpdated = products[i].UpdatedAt
			}
		}
		if err := e.refs.SetProductsCursor(maxUpdated); err != nil {
			return len(products), 0, err
		}
	}

	settings, err := e.client.FetchSettings(ctx)
	if err != nil {
		return len(products), 0, err
	}
	if err := e.refs.UpsertSettings(settings); err != nil {
		return len(products), 0, err
	}

	return len(products), len(settings), nil
}
