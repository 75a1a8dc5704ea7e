package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cohort-program-api/internal/models"
)

// WaitingListRepository persists FIFO waiting-list entries.
type WaitingListRepository struct {
	db *sqlx.DB
}

// NewWaitingListRepository constructs a WaitingListRepository.
func NewWaitingListRepository(db *sqlx.DB) *WaitingListRepository {
	return &WaitingListRepository{db: db}
}

func (r *WaitingListRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// Enqueue appends a student to a waiting list.
func (r *WaitingListRepository) Enqueue(ctx context.Context, exec sqlx.ExtContext, entry *models.WaitingListEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now().UTC()
	}
	const query = `INSERT INTO waiting_list (id, student_id, level, kind, reason, enqueued_at)
        VALUES (:id, :student_id, :level, :kind, :reason, :enqueued_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry); err != nil {
		return fmt.Errorf("enqueue waiting-list entry: %w", err)
	}
	return nil
}

// ListByKind returns queue entries for a level and kind in FIFO order.
func (r *WaitingListRepository) ListByKind(ctx context.Context, exec sqlx.ExtContext, level int, kind models.WaitingKind) ([]models.WaitingListEntry, error) {
	const query = `SELECT id, student_id, level, kind, reason, enqueued_at
        FROM waiting_list WHERE level = $1 AND kind = $2 ORDER BY enqueued_at ASC, id ASC`
	var entries []models.WaitingListEntry
	if err := sqlx.SelectContext(ctx, r.exec(exec), &entries, query, level, kind); err != nil {
		return nil, fmt.Errorf("list waiting-list entries: %w", err)
	}
	return entries, nil
}

// HasEntry reports whether the student is already queued for the level.
func (r *WaitingListRepository) HasEntry(ctx context.Context, exec sqlx.ExtContext, studentID string, level int) (bool, error) {
	const query = `SELECT COUNT(*) FROM waiting_list WHERE student_id = $1 AND level = $2`
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, studentID, level); err != nil {
		return false, fmt.Errorf("check waiting-list entry: %w", err)
	}
	return count > 0, nil
}

// Delete consumes a resolved entry.
func (r *WaitingListRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `DELETE FROM waiting_list WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete waiting-list entry: %w", err)
	}
	return nil
}
