package models

import "time"

// RemedialRecord tracks a failed exam that earned a delayed retry instead
// of a waiting-list seat. At most one incomplete record may exist per
// student at any time.
type RemedialRecord struct {
	ID           string    `db:"id" json:"id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	Level        int       `db:"level" json:"level"`
	FailingScore float64   `db:"failing_score" json:"failing_score"`
	DelayDays    float64   `db:"delay_days" json:"delay_days"`
	FailedAt     time.Time `db:"failed_at" json:"failed_at"`
	RetryAt      time.Time `db:"retry_at" json:"retry_at"`
	Completed    bool      `db:"completed" json:"completed"`
	TrackLabel   string    `db:"track_label" json:"track_label"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
