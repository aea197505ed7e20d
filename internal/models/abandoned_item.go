package models

import "time"

// AbandonedItem is the terminal record of a permanently failed delivery:
// the final QueuedItem snapshot plus the reason it was given up on.
// Abandoned records survive restarts but are never part of the delivery
// ledger; they exist so an operator can inspect, retry, or clear them.
type AbandonedItem struct {
	Item        QueuedItem `json:"item"`
	Reason      string     `db:"abandon_reason" json:"reason"`
	AbandonedAt int64      `db:"abandoned_at" json:"abandoned_at"`
}

// TableName returns the table name for AbandonedItem. Abandoned records
// share the queue table under a distinct status flag.
func (AbandonedItem) TableName() string {
	return "queue_items"
}

// Abandoned returns AbandonedAt as time.Time.
func (a *AbandonedItem) Abandoned() time.Time {
	return time.Unix(a.AbandonedAt, 0)
}
