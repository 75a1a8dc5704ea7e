package models

import "time"

// ReviewState holds the SM-2 scheduling state for one (student, question)
// pair. Created lazily on the first answer, mutated on every subsequent
// one. IntervalDays is fractional so sub-day reset intervals fit the same
// unit.
type ReviewState struct {
	StudentID    string    `db:"student_id" json:"student_id"`
	QuestionID   string    `db:"question_id" json:"question_id"`
	NextDue      time.Time `db:"next_due" json:"next_due"`
	IntervalDays float64   `db:"interval_days" json:"interval_days"`
	Repetitions  int       `db:"repetitions" json:"repetitions"`
	Easiness     float64   `db:"easiness" json:"easiness"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Due reports whether the question should be delivered at the given time.
func (s ReviewState) Due(now time.Time) bool {
	return !now.Before(s.NextDue)
}
