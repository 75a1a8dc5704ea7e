package models

import "time"

// WaitingKind distinguishes the two waiting-list queues.
type WaitingKind string

const (
	// WaitingNewGroup queues students until enough accumulate to
	// materialise a fresh group for their level.
	WaitingNewGroup WaitingKind = "awaiting-new-group"
	// WaitingSpace queues students until an existing group frees a seat.
	WaitingSpace WaitingKind = "awaiting-space"
)

// WaitingListEntry is a FIFO queue entry, ordered by EnqueuedAt within a
// kind. Entries are deleted once resolved into a group assignment.
type WaitingListEntry struct {
	ID         string      `db:"id" json:"id"`
	StudentID  string      `db:"student_id" json:"student_id"`
	Level      int         `db:"level" json:"level"`
	Kind       WaitingKind `db:"kind" json:"kind"`
	Reason     string      `db:"reason" json:"reason"`
	EnqueuedAt time.Time   `db:"enqueued_at" json:"enqueued_at"`
}
