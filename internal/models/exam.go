package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Exam is a level exam definition. Question content is authored externally
// and stored as an opaque JSON document of weighted questions.
type Exam struct {
	ID           string         `db:"id" json:"id"`
	Title        string         `db:"title" json:"title"`
	Level        int            `db:"level" json:"level"`
	PassingScore float64        `db:"passing_score" json:"passing_score"`
	Questions    types.JSONText `db:"questions" json:"questions"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// ExamQuestion is the shape of one entry in Exam.Questions.
type ExamQuestion struct {
	ID     string  `json:"id"`
	Answer string  `json:"answer"`
	Weight float64 `json:"weight"`
}

// ExamResult records one graded submission. PeriodID links the result to
// the exam period whose window contained TakenAt, when one exists, so that
// period-close bonus recomputation can find it.
type ExamResult struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	ExamID     string    `db:"exam_id" json:"exam_id"`
	PeriodID   *string   `db:"period_id" json:"period_id,omitempty"`
	Level      int       `db:"level" json:"level"`
	Score      float64   `db:"score" json:"score"`
	Percentage float64   `db:"percentage" json:"percentage"`
	Passed     bool      `db:"passed" json:"passed"`
	TakenAt    time.Time `db:"taken_at" json:"taken_at"`
}
