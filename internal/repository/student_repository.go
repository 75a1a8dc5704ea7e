package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cohort-program-api/internal/models"
)

// StudentRepository manages persistence for student records. Mutating and
// counting methods accept an optional sqlx.ExtContext so callers can run
// them inside an enclosing transaction; nil falls back to the pool.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

const studentColumns = `id, display_name, level, group_label, levels_passed, remedial, alumni, registered_at,
        has_voted, bonus_points, bonus_tier, current_period_id, created_at, updated_at`

// FindByID fetches a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	var student models.Student
	if err := sqlx.GetContext(ctx, r.exec(exec), &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.Level > 0 {
		conditions = append(conditions, fmt.Sprintf("level = $%d", len(args)+1))
		args = append(args, filter.Level)
	}
	if filter.GroupLabel != "" {
		conditions = append(conditions, fmt.Sprintf("group_label = $%d", len(args)+1))
		args = append(args, filter.GroupLabel)
	}
	if filter.Remedial != nil {
		conditions = append(conditions, fmt.Sprintf("remedial = $%d", len(args)+1))
		args = append(args, *filter.Remedial)
	}
	if filter.Alumni != nil {
		conditions = append(conditions, fmt.Sprintf("alumni = $%d", len(args)+1))
		args = append(args, *filter.Alumni)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(display_name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM students WHERE %s ORDER BY registered_at ASC LIMIT %d OFFSET %d",
		studentColumns, where, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM students WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// ListByGroup returns the derived membership of a group: non-remedial,
// non-alumni students carrying the group label at the given level.
func (r *StudentRepository) ListByGroup(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string) ([]models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students
        WHERE level = $1 AND group_label = $2 AND remedial = false AND alumni = false
        ORDER BY registered_at ASC`, studentColumns)
	var students []models.Student
	if err := sqlx.SelectContext(ctx, r.exec(exec), &students, query, level, groupLabel); err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	return students, nil
}

// CountInGroup returns the non-remedial member count for a group label.
// Callers re-check the count inside the assignment transaction before
// inserting to keep the capacity invariant at commit time.
func (r *StudentRepository) CountInGroup(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string) (int, error) {
	const query = `SELECT COUNT(*) FROM students
        WHERE level = $1 AND group_label = $2 AND remedial = false AND alumni = false`
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, level, groupLabel); err != nil {
		return 0, fmt.Errorf("count group members: %w", err)
	}
	return count, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.RegisteredAt.IsZero() {
		student.RegisteredAt = now
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, display_name, level, group_label, levels_passed, remedial, alumni, registered_at,
        has_voted, bonus_points, bonus_tier, current_period_id, created_at, updated_at)
        VALUES (:id, :display_name, :level, :group_label, :levels_passed, :remedial, :alumni, :registered_at,
        :has_voted, :bonus_points, :bonus_tier, :current_period_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update persists the mutable fields of a student.
func (r *StudentRepository) Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET display_name = :display_name, level = :level, group_label = :group_label,
        levels_passed = :levels_passed, remedial = :remedial, alumni = :alumni, has_voted = :has_voted,
        bonus_points = :bonus_points, bonus_tier = :bonus_tier, current_period_id = :current_period_id,
        updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// SetBonus stores a per-period bonus award on a student.
func (r *StudentRepository) SetBonus(ctx context.Context, exec sqlx.ExtContext, studentID string, points int, tier models.BonusTier, periodID string) error {
	const query = `UPDATE students SET bonus_points = $2, bonus_tier = $3, current_period_id = $4, updated_at = $5 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, studentID, points, tier, periodID, time.Now().UTC()); err != nil {
		return fmt.Errorf("set bonus: %w", err)
	}
	return nil
}

// ResetBonusByPeriod clears per-period vote state for every student tied to
// the period. Bonuses are single-use, so this runs as the last mutation of
// a period close.
func (r *StudentRepository) ResetBonusByPeriod(ctx context.Context, exec sqlx.ExtContext, periodID string) error {
	const query = `UPDATE students SET bonus_points = 0, bonus_tier = '', has_voted = false,
        current_period_id = NULL, updated_at = $2 WHERE current_period_id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, periodID, time.Now().UTC()); err != nil {
		return fmt.Errorf("reset bonus state: %w", err)
	}
	return nil
}

// IsNotFound reports whether err signals a missing row.
func IsNotFound(err error) bool {
	return err == sql.ErrNoRows
}
