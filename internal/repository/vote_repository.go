package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cohort-program-api/internal/models"
)

// VoteRepository persists peer votes.
type VoteRepository struct {
	db *sqlx.DB
}

// NewVoteRepository constructs a VoteRepository.
func NewVoteRepository(db *sqlx.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

func (r *VoteRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// HasVoted reports whether any vote row exists for the (voter, period)
// pair. The one-act-per-period rule is enforced by this existence check,
// not by row uniqueness.
func (r *VoteRepository) HasVoted(ctx context.Context, exec sqlx.ExtContext, voterID, periodID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM votes WHERE voter_id = $1 AND period_id = $2`
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, voterID, periodID); err != nil {
		return false, fmt.Errorf("check prior vote: %w", err)
	}
	return count > 0, nil
}

// InsertBatch writes one row per recipient in a single statement so the
// vote act is all-or-nothing.
func (r *VoteRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, votes []models.Vote) error {
	if len(votes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range votes {
		if votes[i].ID == "" {
			votes[i].ID = uuid.NewString()
		}
		if votes[i].CreatedAt.IsZero() {
			votes[i].CreatedAt = now
		}
	}
	const query = `INSERT INTO votes (id, voter_id, recipient_id, period_id, created_at)
        VALUES (:id, :voter_id, :recipient_id, :period_id, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, votes); err != nil {
		return fmt.Errorf("insert votes: %w", err)
	}
	return nil
}

// Tally aggregates votes received per student for a period, ordered by
// count descending. Ties keep a stable relative order by earliest vote.
func (r *VoteRepository) Tally(ctx context.Context, exec sqlx.ExtContext, periodID string) ([]models.VoteTally, error) {
	const query = `SELECT recipient_id AS student_id, COUNT(*) AS votes
        FROM votes WHERE period_id = $1
        GROUP BY recipient_id
        ORDER BY votes DESC, MIN(created_at) ASC`
	var tallies []models.VoteTally
	if err := sqlx.SelectContext(ctx, r.exec(exec), &tallies, query, periodID); err != nil {
		return nil, fmt.Errorf("tally votes: %w", err)
	}
	return tallies, nil
}

// CountVoters returns how many distinct students cast votes in a period.
func (r *VoteRepository) CountVoters(ctx context.Context, exec sqlx.ExtContext, periodID string) (int, error) {
	const query = `SELECT COUNT(DISTINCT voter_id) FROM votes WHERE period_id = $1`
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, periodID); err != nil {
		return 0, fmt.Errorf("count voters: %w", err)
	}
	return count, nil
}
