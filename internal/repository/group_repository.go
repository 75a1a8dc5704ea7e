package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cohort-program-api/internal/models"
)

// GroupRepository persists group identities. Membership is deliberately
// not a column: occupancy is derived by counting students whose
// group_label matches, which avoids a second source of truth.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs a GroupRepository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// ListByLevel returns the groups materialised for a level in letter order.
func (r *GroupRepository) ListByLevel(ctx context.Context, exec sqlx.ExtContext, level int) ([]models.Group, error) {
	const query = `SELECT id, level, letter, created_at FROM groups WHERE level = $1 ORDER BY letter ASC`
	var groups []models.Group
	if err := sqlx.SelectContext(ctx, r.exec(exec), &groups, query, level); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// ListOccupancy returns groups for a level together with their derived
// non-remedial member counts, in letter order.
func (r *GroupRepository) ListOccupancy(ctx context.Context, exec sqlx.ExtContext, level int) ([]models.GroupOccupancy, error) {
	const query = `SELECT g.id, g.level, g.letter, g.created_at,
        (SELECT COUNT(*) FROM students s
            WHERE s.level = g.level
              AND s.group_label = g.level || '-' || g.letter
              AND s.remedial = false AND s.alumni = false) AS members
        FROM groups g WHERE g.level = $1 ORDER BY g.letter ASC`
	var occupancy []models.GroupOccupancy
	if err := sqlx.SelectContext(ctx, r.exec(exec), &occupancy, query, level); err != nil {
		return nil, fmt.Errorf("list group occupancy: %w", err)
	}
	return occupancy, nil
}

// Create materialises a group. Re-creating an existing (level, letter)
// pair is a no-op, not an error.
func (r *GroupRepository) Create(ctx context.Context, exec sqlx.ExtContext, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO groups (id, level, letter, created_at)
        VALUES (:id, :level, :letter, :created_at)
        ON CONFLICT (level, letter) DO NOTHING`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, group); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}
