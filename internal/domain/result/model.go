// Package result implements result entry and flagging: parameter values are
// classified against reference ranges, compared against the patient's prior
// values, and rolled up into aggregate flags that drive critical value
// alerting downstream.
package result

import (
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/platform/laberr"
)

// Result statuses.
const (
	StatusPending        = "PENDING"
	StatusPreliminary    = "PRELIMINARY"
	StatusFinal          = "FINAL"
	StatusAmended        = "AMENDED"
	StatusCancelled      = "CANCELLED"
	StatusEnteredInError = "ENTERED_IN_ERROR"
)

// Parameter interpretation flags, ordered by severity.
const (
	FlagNormal   = "NORMAL"
	FlagAbnormal = "ABNORMAL"
	FlagCritical = "CRITICAL"
	FlagPanic    = "PANIC"
)

// Entry methods.
const (
	EntryManual    = "MANUAL"
	EntryInterface = "INTERFACE"
)

// transitions is the allowed edge set. Amending a FINAL or PRELIMINARY
// result moves it to AMENDED and chains a fresh PRELIMINARY successor.
var transitions = map[string][]string{
	StatusPending:        {StatusPreliminary, StatusCancelled, StatusEnteredInError},
	StatusPreliminary:    {StatusFinal, StatusAmended, StatusCancelled, StatusEnteredInError},
	StatusFinal:          {StatusAmended},
	StatusAmended:        {},
	StatusCancelled:      {},
	StatusEnteredInError: {},
}

func ValidateTransition(from, to string) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return laberr.InvalidTransition("lab result", from, to)
}

func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// LabResult is one reportable result for an order item. Test identity is
// snapshotted at creation so later catalog edits cannot rewrite history.
type LabResult struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ResultNumber string    `db:"result_number" json:"result_number"`
	OrderItemID  uuid.UUID `db:"order_item_id" json:"order_item_id"`
	OrderID      uuid.UUID `db:"order_id" json:"order_id"`
	PatientID    uuid.UUID `db:"patient_id" json:"patient_id"`
	SpecimenID   uuid.UUID `db:"specimen_id" json:"specimen_id"`

	TestID   uuid.UUID `db:"test_id" json:"test_id"`
	TestCode string    `db:"test_code" json:"test_code"`
	TestName string    `db:"test_name" json:"test_name"`

	Status         string `db:"status" json:"status"`
	Interpretation string `db:"interpretation" json:"interpretation"`

	HasCriticalValues bool `db:"has_critical_values" json:"has_critical_values"`
	HasPanicValues    bool `db:"has_panic_values" json:"has_panic_values"`
	DeltaCheckFlagged bool `db:"delta_check_flagged" json:"delta_check_flagged"`

	RequiresPathologistReview bool    `db:"requires_pathologist_review" json:"requires_pathologist_review"`
	ReviewNotes               *string `db:"review_notes" json:"review_notes,omitempty"`

	EnteredBy   uuid.UUID `db:"entered_by" json:"entered_by"`
	EntryMethod string    `db:"entry_method" json:"entry_method"`

	// Amendment chain. OriginalResultID points at the result this one
	// supersedes.
	OriginalResultID *uuid.UUID `db:"original_result_id" json:"original_result_id,omitempty"`
	AmendmentReason  *string    `db:"amendment_reason" json:"amendment_reason,omitempty"`
	AmendedBy        *uuid.UUID `db:"amended_by" json:"amended_by,omitempty"`
	AmendedAt        *time.Time `db:"amended_at" json:"amended_at,omitempty"`

	FinalizedBy *uuid.UUID `db:"finalized_by" json:"finalized_by,omitempty"`
	FinalizedAt *time.Time `db:"finalized_at" json:"finalized_at,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LabResultParameter is one analyte value within a result. The reference
// range text is snapshotted from the catalog at entry time.
type LabResultParameter struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ResultID    uuid.UUID `db:"result_id" json:"result_id"`
	ParameterID uuid.UUID `db:"parameter_id" json:"parameter_id"`

	ParameterCode string  `db:"parameter_code" json:"parameter_code"`
	ParameterName string  `db:"parameter_name" json:"parameter_name"`
	Unit          *string `db:"unit" json:"unit,omitempty"`

	ValueNumeric *float64 `db:"value_numeric" json:"value_numeric,omitempty"`
	ValueText    *string  `db:"value_text" json:"value_text,omitempty"`

	ReferenceRange string `db:"reference_range" json:"reference_range"`
	Flag           string `db:"flag" json:"flag"`

	PreviousValue   *float64 `db:"previous_value" json:"previous_value,omitempty"`
	DeltaPercentage *float64 `db:"delta_percentage" json:"delta_percentage,omitempty"`
	DeltaFlagged    bool     `db:"delta_flagged" json:"delta_flagged"`

	EnteredBy uuid.UUID `db:"entered_by" json:"entered_by"`
	EnteredAt time.Time `db:"entered_at" json:"entered_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ParameterInput is one analyte value submitted for entry.
type ParameterInput struct {
	ParameterID  uuid.UUID `json:"parameter_id"`
	ValueNumeric *float64  `json:"value_numeric,omitempty"`
	ValueText    *string   `json:"value_text,omitempty"`
}
