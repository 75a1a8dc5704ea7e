package models

import (
	"fmt"
	"time"
)

// Group identifies a capacity-bounded cohort subdivision within a level.
// Membership is never stored on the group: it is derived by querying
// students whose group_label matches Label(), which keeps a single source
// of truth for occupancy.
type Group struct {
	ID        string    `db:"id" json:"id"`
	Level     int       `db:"level" json:"level"`
	Letter    string    `db:"letter" json:"letter"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Label renders the canonical "<level>-<letter>" group label.
func (g Group) Label() string {
	return GroupLabel(g.Level, g.Letter)
}

// GroupLabel renders the canonical "<level>-<letter>" label.
func GroupLabel(level int, letter string) string {
	return fmt.Sprintf("%d-%s", level, letter)
}

// RemedialGroupLabel is the synthetic label carried by students on the
// remedial track for a level. Remedial students are excluded from normal
// capacity counts.
func RemedialGroupLabel(level int) string {
	return fmt.Sprintf("Remedial-Level-%d", level)
}

// GroupOccupancy pairs a group with its derived non-remedial member count.
type GroupOccupancy struct {
	Group
	Members int `db:"members" json:"members"`
}
