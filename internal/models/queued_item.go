// Package models provides data model definitions for the TillPoint sync core.
package models

import "time"

// Item type tags. Each tag selects the sync handler and backend route for
// a queued item. The set is closed but extensible: new tags require a
// handler registration, never a change to the queue itself.
const (
	ItemTypeTransaction = "TRANSACTION"
)

// Queue item status flags as stored in sqlite. A pending row is the sole
// source of truth for "needs delivery"; an abandoned row is kept only for
// operator visibility.
const (
	QueueStatusPending   = "pending"
	QueueStatusAbandoned = "abandoned"
)

// QueuedItem is one unit of work awaiting delivery to the backend.
// Payload is an opaque, already-serialized business document; the queue
// never interprets it.
type QueuedItem struct {
	ID          int64  `db:"id" json:"id"`
	Type        string `db:"type" json:"type"`
	Payload     string `db:"payload" json:"payload"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	Attempts    int    `db:"attempts" json:"attempts"`
	LastAttempt *int64 `db:"last_attempt" json:"last_attempt,omitempty"`
}

// TableName returns the table name for QueuedItem.
func (QueuedItem) TableName() string {
	return "queue_items"
}

// Created returns CreatedAt as time.Time.
func (q *QueuedItem) Created() time.Time {
	return time.Unix(q.CreatedAt, 0)
}
