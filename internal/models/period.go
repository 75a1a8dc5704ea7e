package models

import "time"

// ExamPeriod defines the vote and exam windows for a level, optionally
// scoped to a single group. A nil GroupLabel marks a legacy level-wide
// period shared by all groups of the level. Once BonusesApplied is set the
// period is terminal: no vote or bonus recompute may target it again.
type ExamPeriod struct {
	ID             string    `db:"id" json:"id"`
	Level          int       `db:"level" json:"level"`
	GroupLabel     *string   `db:"group_label" json:"group_label,omitempty"`
	VoteStart      time.Time `db:"vote_start" json:"vote_start"`
	StartTime      time.Time `db:"start_time" json:"start_time"`
	EndTime        time.Time `db:"end_time" json:"end_time"`
	VotesClosed    bool      `db:"votes_closed" json:"votes_closed"`
	BonusesApplied bool      `db:"bonuses_applied" json:"bonuses_applied"`
	Remedial       bool      `db:"remedial" json:"remedial"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Active reports whether the period still accepts votes at the given time.
// Votes are accepted from the vote-window opening until the period is
// closed, not just strictly before the exam starts.
func (p ExamPeriod) Active(now time.Time) bool {
	return !p.VotesClosed && !now.Before(p.VoteStart) && now.Before(p.EndTime)
}
