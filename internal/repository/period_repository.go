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

// PeriodRepository persists exam periods.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs a PeriodRepository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

func (r *PeriodRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

const periodColumns = `id, level, group_label, vote_start, start_time, end_time, votes_closed, bonuses_applied, remedial, created_at`

// Create inserts a new exam period.
func (r *PeriodRepository) Create(ctx context.Context, period *models.ExamPeriod) error {
	if period.ID == "" {
		period.ID = uuid.NewString()
	}
	if period.CreatedAt.IsZero() {
		period.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO exam_periods (id, level, group_label, vote_start, start_time, end_time, votes_closed, bonuses_applied, remedial, created_at)
        VALUES (:id, :level, :group_label, :vote_start, :start_time, :end_time, :votes_closed, :bonuses_applied, :remedial, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, period); err != nil {
		return fmt.Errorf("create exam period: %w", err)
	}
	return nil
}

// FindByID fetches a period by ID.
func (r *PeriodRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ExamPeriod, error) {
	query := fmt.Sprintf("SELECT %s FROM exam_periods WHERE id = $1", periodColumns)
	var period models.ExamPeriod
	if err := sqlx.GetContext(ctx, r.exec(exec), &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// FindByIDForUpdate locks the period row for the duration of the enclosing
// transaction. Period close runs behind this lock so concurrent close
// triggers serialise on the bonuses_applied gate.
func (r *PeriodRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ExamPeriod, error) {
	query := fmt.Sprintf("SELECT %s FROM exam_periods WHERE id = $1 FOR UPDATE", periodColumns)
	var period models.ExamPeriod
	if err := sqlx.GetContext(ctx, r.exec(exec), &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// NextForGroup returns the earliest upcoming period scheduled specifically
// for a group, or nil when none is scheduled.
func (r *PeriodRepository) NextForGroup(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string, now time.Time) (*models.ExamPeriod, error) {
	query := fmt.Sprintf(`SELECT %s FROM exam_periods
        WHERE level = $1 AND group_label = $2 AND start_time > $3 AND votes_closed = false
        ORDER BY start_time ASC LIMIT 1`, periodColumns)
	var period models.ExamPeriod
	if err := sqlx.GetContext(ctx, r.exec(exec), &period, query, level, groupLabel, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find next group period: %w", err)
	}
	return &period, nil
}

// NextShared returns the earliest upcoming legacy period for a level, one
// with no group filter.
func (r *PeriodRepository) NextShared(ctx context.Context, exec sqlx.ExtContext, level int, now time.Time) (*models.ExamPeriod, error) {
	query := fmt.Sprintf(`SELECT %s FROM exam_periods
        WHERE level = $1 AND group_label IS NULL AND start_time > $2 AND votes_closed = false
        ORDER BY start_time ASC LIMIT 1`, periodColumns)
	var period models.ExamPeriod
	if err := sqlx.GetContext(ctx, r.exec(exec), &period, query, level, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find next shared period: %w", err)
	}
	return &period, nil
}

// ActiveForLevel returns the open period whose overall window contains now,
// or nil when the level has none.
func (r *PeriodRepository) ActiveForLevel(ctx context.Context, exec sqlx.ExtContext, level int, now time.Time) (*models.ExamPeriod, error) {
	query := fmt.Sprintf(`SELECT %s FROM exam_periods
        WHERE level = $1 AND votes_closed = false AND vote_start <= $2 AND end_time > $2
        ORDER BY start_time ASC LIMIT 1`, periodColumns)
	var period models.ExamPeriod
	if err := sqlx.GetContext(ctx, r.exec(exec), &period, query, level, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find active period: %w", err)
	}
	return &period, nil
}

// ActiveForStudent returns the open period covering a student's group,
// preferring the group-specific one over a legacy shared period.
func (r *PeriodRepository) ActiveForStudent(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string, now time.Time) (*models.ExamPeriod, error) {
	query := fmt.Sprintf(`SELECT %s FROM exam_periods
        WHERE level = $1 AND votes_closed = false AND vote_start <= $2 AND end_time > $2
          AND (group_label IS NULL OR group_label = $3)
        ORDER BY group_label DESC NULLS LAST, start_time ASC LIMIT 1`, periodColumns)
	var period models.ExamPeriod
	if err := sqlx.GetContext(ctx, r.exec(exec), &period, query, level, now, groupLabel); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find active period for student: %w", err)
	}
	return &period, nil
}

// ListActive returns all open periods whose window contains now.
func (r *PeriodRepository) ListActive(ctx context.Context, now time.Time) ([]models.ExamPeriod, error) {
	query := fmt.Sprintf(`SELECT %s FROM exam_periods
        WHERE votes_closed = false AND vote_start <= $1 AND end_time > $1
        ORDER BY start_time ASC`, periodColumns)
	var periods []models.ExamPeriod
	if err := r.db.SelectContext(ctx, &periods, query, now); err != nil {
		return nil, fmt.Errorf("list active periods: %w", err)
	}
	return periods, nil
}

// ListDueClose returns ended periods whose bonuses have not been applied
// yet. The bonuses_applied flag is the idempotency gate for close
// processing.
func (r *PeriodRepository) ListDueClose(ctx context.Context, now time.Time) ([]models.ExamPeriod, error) {
	query := fmt.Sprintf(`SELECT %s FROM exam_periods
        WHERE end_time <= $1 AND bonuses_applied = false
        ORDER BY end_time ASC`, periodColumns)
	var periods []models.ExamPeriod
	if err := r.db.SelectContext(ctx, &periods, query, now); err != nil {
		return nil, fmt.Errorf("list periods due for close: %w", err)
	}
	return periods, nil
}

// MarkClosed sets the terminal flags on a period.
func (r *PeriodRepository) MarkClosed(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE exam_periods SET votes_closed = true, bonuses_applied = true WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark period closed: %w", err)
	}
	return nil
}
