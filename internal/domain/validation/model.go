// Package validation implements the multi-level result sign-off workflow.
// Validation records are append-only; a result's current validation level
// is derived from its most recent approved record, never stored.
package validation

import (
	"time"

	"github.com/google/uuid"
)

// Validation levels. A new validation may target at most one tier above
// the current one.
const (
	LevelTechnician       = "TECHNICIAN"
	LevelSeniorTechnician = "SENIOR_TECHNICIAN"
	LevelPathologist      = "PATHOLOGIST"
	LevelClinicalReviewer = "CLINICAL_REVIEWER"
)

// Senior technician is a peer tier of technician, not a step between
// technician and pathologist: a technician approval alone clears the way
// for pathologist review.
var levelRank = map[string]int{
	LevelTechnician:       1,
	LevelSeniorTechnician: 1,
	LevelPathologist:      2,
	LevelClinicalReviewer: 3,
}

// LevelRank returns the ordinal of a validation level and whether the
// level is known.
func LevelRank(level string) (int, bool) {
	r, ok := levelRank[level]
	return r, ok
}

// Validation outcomes.
const (
	StatusApproved    = "APPROVED"
	StatusRejected    = "REJECTED"
	StatusNeedsReview = "NEEDS_REVIEW"
	StatusNeedsRepeat = "NEEDS_REPEAT"
)

// ResultValidation is one immutable sign-off record. Rows are never
// updated or deleted.
type ResultValidation struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ResultID    uuid.UUID `db:"result_id" json:"result_id"`
	Level       string    `db:"level" json:"level"`
	ValidatorID uuid.UUID `db:"validator_id" json:"validator_id"`
	Status      string    `db:"status" json:"status"`
	Comments    *string   `db:"comments" json:"comments,omitempty"`
	ValidatedAt time.Time `db:"validated_at" json:"validated_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
