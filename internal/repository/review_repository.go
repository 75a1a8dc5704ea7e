package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cohort-program-api/internal/models"
)

// ReviewRepository persists SM-2 scheduling state, one row per
// (student, question) pair.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository constructs a ReviewRepository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

const reviewColumns = `student_id, question_id, next_due, interval_days, repetitions, easiness, created_at, updated_at`

// Get returns the state for a pair, or nil before the first answer.
func (r *ReviewRepository) Get(ctx context.Context, studentID, questionID string) (*models.ReviewState, error) {
	query := fmt.Sprintf(`SELECT %s FROM review_states WHERE student_id = $1 AND question_id = $2`, reviewColumns)
	var state models.ReviewState
	if err := r.db.GetContext(ctx, &state, query, studentID, questionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get review state: %w", err)
	}
	return &state, nil
}

// Upsert creates the row lazily on first answer and replaces it afterwards.
func (r *ReviewRepository) Upsert(ctx context.Context, state *models.ReviewState) error {
	const query = `INSERT INTO review_states (student_id, question_id, next_due, interval_days, repetitions, easiness, created_at, updated_at)
        VALUES (:student_id, :question_id, :next_due, :interval_days, :repetitions, :easiness, :created_at, :updated_at)
        ON CONFLICT (student_id, question_id) DO UPDATE SET
            next_due = EXCLUDED.next_due,
            interval_days = EXCLUDED.interval_days,
            repetitions = EXCLUDED.repetitions,
            easiness = EXCLUDED.easiness,
            updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, state); err != nil {
		return fmt.Errorf("upsert review state: %w", err)
	}
	return nil
}

// Delete removes a pair explicitly, e.g. when a question is retired.
func (r *ReviewRepository) Delete(ctx context.Context, studentID, questionID string) error {
	const query = `DELETE FROM review_states WHERE student_id = $1 AND question_id = $2`
	if _, err := r.db.ExecContext(ctx, query, studentID, questionID); err != nil {
		return fmt.Errorf("delete review state: %w", err)
	}
	return nil
}

// ListDue returns states due at the given time, oldest first.
func (r *ReviewRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ReviewState, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM review_states WHERE next_due <= $1 ORDER BY next_due ASC LIMIT %d`, reviewColumns, limit)
	var states []models.ReviewState
	if err := r.db.SelectContext(ctx, &states, query, now); err != nil {
		return nil, fmt.Errorf("list due reviews: %w", err)
	}
	return states, nil
}
