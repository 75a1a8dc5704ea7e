package models

import "time"

// Vote records one recipient choice by a voter within an exam period. A
// voter may cast up to three recipient rows, but only in a single voting
// act: the act itself is gated by the existence of any prior row for the
// (voter, period) pair, not by row uniqueness.
type Vote struct {
	ID          string    `db:"id" json:"id"`
	VoterID     string    `db:"voter_id" json:"voter_id"`
	RecipientID string    `db:"recipient_id" json:"recipient_id"`
	PeriodID    string    `db:"period_id" json:"period_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// VoteTally aggregates votes received per student for a period, ordered by
// count descending with stable relative order for ties.
type VoteTally struct {
	StudentID string `db:"student_id" json:"student_id"`
	Votes     int    `db:"votes" json:"votes"`
}
