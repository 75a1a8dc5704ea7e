package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cohort-program-api/internal/models"
)

// ExamRepository persists exam definitions and graded results.
type ExamRepository struct {
	db *sqlx.DB
}

// NewExamRepository constructs an ExamRepository.
func NewExamRepository(db *sqlx.DB) *ExamRepository {
	return &ExamRepository{db: db}
}

func (r *ExamRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// FindByID fetches an exam definition.
func (r *ExamRepository) FindByID(ctx context.Context, id string) (*models.Exam, error) {
	const query = `SELECT id, title, level, passing_score, questions, created_at FROM exams WHERE id = $1`
	var exam models.Exam
	if err := r.db.GetContext(ctx, &exam, query, id); err != nil {
		return nil, err
	}
	return &exam, nil
}

// Create inserts an exam definition.
func (r *ExamRepository) Create(ctx context.Context, exam *models.Exam) error {
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	if exam.CreatedAt.IsZero() {
		exam.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO exams (id, title, level, passing_score, questions, created_at)
        VALUES (:id, :title, :level, :passing_score, :questions, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, exam); err != nil {
		return fmt.Errorf("create exam: %w", err)
	}
	return nil
}

// InsertResult persists one graded submission.
func (r *ExamRepository) InsertResult(ctx context.Context, exec sqlx.ExtContext, result *models.ExamResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.TakenAt.IsZero() {
		result.TakenAt = time.Now().UTC()
	}
	const query = `INSERT INTO exam_results (id, student_id, exam_id, period_id, level, score, percentage, passed, taken_at)
        VALUES (:id, :student_id, :exam_id, :period_id, :level, :score, :percentage, :passed, :taken_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, result); err != nil {
		return fmt.Errorf("insert exam result: %w", err)
	}
	return nil
}

// ListResultsInWindow returns level results taken inside [start, end],
// which is the population the bonus recompute walks at period close.
func (r *ExamRepository) ListResultsInWindow(ctx context.Context, exec sqlx.ExtContext, level int, start, end time.Time) ([]models.ExamResult, error) {
	const query = `SELECT id, student_id, exam_id, period_id, level, score, percentage, passed, taken_at
        FROM exam_results
        WHERE level = $1 AND taken_at >= $2 AND taken_at <= $3
        ORDER BY taken_at ASC`
	var results []models.ExamResult
	if err := sqlx.SelectContext(ctx, r.exec(exec), &results, query, level, start, end); err != nil {
		return nil, fmt.Errorf("list results in window: %w", err)
	}
	return results, nil
}
