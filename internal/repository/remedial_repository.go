package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cohort-program-api/internal/models"
)

// RemedialRepository persists remedial retry records.
type RemedialRepository struct {
	db *sqlx.DB
}

// NewRemedialRepository constructs a RemedialRepository.
func NewRemedialRepository(db *sqlx.DB) *RemedialRepository {
	return &RemedialRepository{db: db}
}

func (r *RemedialRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

const remedialColumns = `id, student_id, level, failing_score, delay_days, failed_at, retry_at, completed, track_label, created_at`

// ActiveByStudent returns the student's incomplete remedial record, or nil
// when none exists. The engine keeps at most one active record per student.
func (r *RemedialRepository) ActiveByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) (*models.RemedialRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM remedial_records
        WHERE student_id = $1 AND completed = false
        ORDER BY failed_at DESC LIMIT 1`, remedialColumns)
	var record models.RemedialRecord
	if err := sqlx.GetContext(ctx, r.exec(exec), &record, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find active remedial record: %w", err)
	}
	return &record, nil
}

// Create inserts a new remedial record.
func (r *RemedialRepository) Create(ctx context.Context, exec sqlx.ExtContext, record *models.RemedialRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO remedial_records (id, student_id, level, failing_score, delay_days, failed_at, retry_at, completed, track_label, created_at)
        VALUES (:id, :student_id, :level, :failing_score, :delay_days, :failed_at, :retry_at, :completed, :track_label, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, record); err != nil {
		return fmt.Errorf("create remedial record: %w", err)
	}
	return nil
}

// Complete marks a record as taken once the retry exam happens.
func (r *RemedialRepository) Complete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE remedial_records SET completed = true WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("complete remedial record: %w", err)
	}
	return nil
}

// ListDueRetries returns incomplete records whose scheduled retry time has
// passed, so the scheduler can nudge the adapter.
func (r *RemedialRepository) ListDueRetries(ctx context.Context, now time.Time) ([]models.RemedialRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM remedial_records
        WHERE completed = false AND retry_at <= $1 ORDER BY retry_at ASC`, remedialColumns)
	var records []models.RemedialRecord
	if err := r.db.SelectContext(ctx, &records, query, now); err != nil {
		return nil, fmt.Errorf("list due remedial retries: %w", err)
	}
	return records, nil
}
