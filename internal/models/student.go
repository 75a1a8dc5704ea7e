package models

import "time"

// BonusTier labels the peer-vote bonus band a student earned in the
// current exam period.
type BonusTier string

const (
	BonusTierGold   BonusTier = "gold"
	BonusTierSilver BonusTier = "silver"
	BonusTierBronze BonusTier = "bronze"
	BonusTierNone   BonusTier = ""
)

// TierForVotes maps a received vote count onto bonus points and a tier.
func TierForVotes(votes int) (int, BonusTier) {
	switch {
	case votes >= 8:
		return 20, BonusTierGold
	case votes >= 5:
		return 12, BonusTierSilver
	case votes >= 3:
		return 6, BonusTierBronze
	default:
		return 0, BonusTierNone
	}
}

// Student represents a learner enrolled in the cohort program. Students
// are never hard-deleted; alumni and remedial state is kept on the row.
type Student struct {
	ID           string    `db:"id" json:"id"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	Level        int       `db:"level" json:"level"`
	GroupLabel   string    `db:"group_label" json:"group_label"`
	LevelsPassed int       `db:"levels_passed" json:"levels_passed"`
	Remedial     bool      `db:"remedial" json:"remedial"`
	Alumni       bool      `db:"alumni" json:"alumni"`
	RegisteredAt time.Time `db:"registered_at" json:"registered_at"`

	// Per-period vote state, reset when the period's bonuses are applied.
	HasVoted        bool      `db:"has_voted" json:"has_voted"`
	BonusPoints     int       `db:"bonus_points" json:"bonus_points"`
	BonusTier       BonusTier `db:"bonus_tier" json:"bonus_tier,omitempty"`
	CurrentPeriodID *string   `db:"current_period_id" json:"current_period_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Level      int
	GroupLabel string
	Remedial   *bool
	Alumni     *bool
	Search     string
	Page       int
	PageSize   int
}
