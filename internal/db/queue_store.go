package db

import (
	"database/sql"
	"strconv"

	apperrors "github.com/tillpoint/pos-core/internal/errors"
	"github.com/tillpoint/pos-core/internal/models"
)

const nextQueueIDKey = "next_queue_id"

// QueueStore is the typed persistence adapter the durable queue works
// against. Every operation is a single statement or transaction, so a
// partially written item is never visible; every failure propagates to
// the caller.
type QueueStore struct {
	db *DB
}

// NewQueueStore creates a QueueStore over an open database.
func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db}
}

// GenerateID allocates the next queue item identifier. Identifiers are
// monotonic for the lifetime of the database file, not merely unique:
// the counter lives in sync_meta and never rewinds when rows are deleted.
func (s *QueueStore) GenerateID() (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, "could not begin id allocation", err)
	}
	defer tx.Rollback()

	var raw string
	next := int64(1)
	err = tx.QueryRow("SELECT value FROM sync_meta WHERE key = ?", nextQueueIDKey).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		// first allocation
	case err != nil:
		return 0, apperrors.Wrap(apperrors.ErrStore, "could not read id counter", err)
	default:
		next, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, apperrors.Wrap(apperrors.ErrStoreCorrupt, "id counter is not numeric", err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, nextQueueIDKey, strconv.FormatInt(next+1, 10))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, "could not advance id counter", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, "could not commit id allocation", err)
	}
	return next, nil
}

// Save persists a new pending item. The item must already carry an
// identifier from GenerateID.
func (s *QueueStore) Save(item *models.QueuedItem) error {
	if item.ID == 0 {
		return apperrors.New(apperrors.ErrInvalid, "item has no assigned id")
	}
	_, err := s.db.Exec(`
		INSERT INTO queue_items (id, type, payload, status, created_at, attempts, last_attempt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Type, item.Payload, models.QueueStatusPending,
		item.CreatedAt, item.Attempts, item.LastAttempt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not save queue item", err)
	}
	return nil
}

// Update rewrites the retry accounting of a pending item.
func (s *QueueStore) Update(item *models.QueuedItem) error {
	res, err := s.db.Exec(`
		UPDATE queue_items SET attempts = ?, last_attempt = ?
		WHERE id = ? AND status = ?
	`, item.Attempts, item.LastAttempt, item.ID, models.QueueStatusPending)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not update queue item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "no pending item with id %d", item.ID)
	}
	return nil
}

// Delete removes a pending item permanently.
func (s *QueueStore) Delete(id int64) error {
	_, err := s.db.Exec("DELETE FROM queue_items WHERE id = ? AND status = ?",
		id, models.QueueStatusPending)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not delete queue item", err)
	}
	return nil
}

// GetAll returns a point-in-time snapshot of all pending items in
// insertion order (monotonic ids preserve FIFO).
func (s *QueueStore) GetAll() ([]models.QueuedItem, error) {
	rows, err := s.db.Query(`
		SELECT id, type, payload, created_at, attempts, last_attempt
		FROM queue_items WHERE status = ? ORDER BY id ASC
	`, models.QueueStatusPending)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, "could not list pending items", err)
	}
	defer rows.Close()

	var items []models.QueuedItem
	for rows.Next() {
		var item models.QueuedItem
		var lastAttempt sql.NullInt64
		if err := rows.Scan(&item.ID, &item.Type, &item.Payload,
			&item.CreatedAt, &item.Attempts, &lastAttempt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStore, "could not scan queue item", err)
		}
		if lastAttempt.Valid {
			v := lastAttempt.Int64
			item.LastAttempt = &v
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, "pending item iteration failed", err)
	}
	return items, nil
}

// Count returns the number of pending items. This is the authoritative
// value behind the queue's published pending-count projection.
func (s *QueueStore) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM queue_items WHERE status = ?",
		models.QueueStatusPending).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, "could not count pending items", err)
	}
	return count, nil
}

// Clear removes all pending items.
func (s *QueueStore) Clear() error {
	_, err := s.db.Exec("DELETE FROM queue_items WHERE status = ?", models.QueueStatusPending)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not clear queue", err)
	}
	return nil
}

// MarkAbandoned converts a pending row into an abandoned record in one
// statement, carrying the final attempt accounting and the reason.
func (s *QueueStore) MarkAbandoned(item *models.QueuedItem, reason string, abandonedAt int64) error {
	res, err := s.db.Exec(`
		UPDATE queue_items
		SET status = ?, attempts = ?, last_attempt = ?, abandon_reason = ?, abandoned_at = ?
		WHERE id = ? AND status = ?
	`, models.QueueStatusAbandoned, item.Attempts, item.LastAttempt,
		reason, abandonedAt, item.ID, models.QueueStatusPending)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStore, "could not abandon queue item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "no pending item with id %d", item.ID)
	}
	return nil
}

// RequeueAbandoned converts an abandoned record back into a pending row
// in one statement, resetting the attempt accounting. The inverse of
// MarkAbandoned; a crash can never leave the item in neither ledger.
// Returns false if no abandoned record with that id exists.
func (s *QueueStore) RequeueAbandoned(id int64) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE queue_items
		SET status = ?, attempts = 0, last_attempt = NULL, abandon_reason = NULL, abandoned_at = NULL
		WHERE id = ? AND status = ?
	`, models.QueueStatusPending, id, models.QueueStatusAbandoned)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStore, "could not requeue abandoned item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStore, "could not read rows affected", err)
	}
	return n > 0, nil
}

// GetAbandoned returns all abandoned records, oldest first.
func (s *QueueStore) GetAbandoned() ([]models.AbandonedItem, error) {
	rows, err := s.db.Query(`
		SELECT id, type, payload, created_at, attempts, last_attempt, abandon_reason, abandoned_at
		FROM queue_items WHERE status = ? ORDER BY abandoned_at ASC, id ASC
	`, models.QueueStatusAbandoned)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, "could not list abandoned items", err)
	}
	defer rows.Close()

	var items []models.AbandonedItem
	for rows.Next() {
		item, err := scanAbandoned(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, "abandoned item iteration failed", err)
	}
	return items, nil
}

// GetAbandonedByID returns one abandoned record, or ErrNotFound.
func (s *QueueStore) GetAbandonedByID(id int64) (*models.AbandonedItem, error) {
	row := s.db.QueryRow(`
		SELECT id, type, payload, created_at, attempts, last_attempt, abandon_reason, abandoned_at
		FROM queue_items WHERE id = ? AND status = ?
	`, id, models.QueueStatusAbandoned)

	item, err := scanAbandoned(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no abandoned item with id %d", id)
	}
	return item, err
}

// DeleteAbandoned drops an abandoned record. Returns false if no such
// record exists.
func (s *QueueStore) DeleteAbandoned(id int64) (bool, error) {
	res, err := s.db.Exec("DELETE FROM queue_items WHERE id = ? AND status = ?",
		id, models.QueueStatusAbandoned)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStore, "could not delete abandoned item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStore, "could not read rows affected", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAbandoned(row rowScanner) (*models.AbandonedItem, error) {
	var ab models.AbandonedItem
	var lastAttempt sql.NullInt64
	var reason sql.NullString
	var abandonedAt sql.NullInt64

	err := row.Scan(&ab.Item.ID, &ab.Item.Type, &ab.Item.Payload,
		&ab.Item.CreatedAt, &ab.Item.Attempts, &lastAttempt, &reason, &abandonedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, "could not scan abandoned item", err)
	}

	if lastAttempt.Valid {
		v := lastAttempt.Int64
		ab.Item.LastAttempt = &v
	}
	if reason.Valid {
		ab.Reason = reason.String
	}
	if abandonedAt.Valid {
		ab.AbandonedAt = abandonedAt.Int64
	}
	return &ab, nil
}
