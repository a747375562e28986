// Package catalog exposes read-only test, panel, and parameter
// configuration to the workflow engine. Catalog management itself lives
// outside the engine; these models are the configuration snapshot it
// consumes.
package catalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LabTest maps to the lab_test table.
type LabTest struct {
	ID                        uuid.UUID `db:"id" json:"id"`
	Code                      string    `db:"code" json:"code"`
	Name                      string    `db:"name" json:"name"`
	Category                  *string   `db:"category" json:"category,omitempty"`
	SpecimenType              string    `db:"specimen_type" json:"specimen_type"`
	Price                     float64   `db:"price" json:"price"`
	TurnaroundMinutes         *int      `db:"turnaround_minutes" json:"turnaround_minutes,omitempty"`
	RequiresPathologistReview bool      `db:"requires_pathologist_review" json:"requires_pathologist_review"`
	IsActive                  bool      `db:"is_active" json:"is_active"`
	CreatedAt                 time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                 time.Time `db:"updated_at" json:"updated_at"`
}

// LabPanel maps to the lab_panel table. A panel expands into one order item
// per constituent test.
type LabPanel struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Price     float64   `db:"price" json:"price"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LabTestParameter maps to the lab_test_parameter table: one row per
// measured analyte within a test, carrying the thresholds the evaluator
// classifies against.
type LabTestParameter struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TestID       uuid.UUID `db:"test_id" json:"test_id"`
	Code         string    `db:"code" json:"code"`
	Name         string    `db:"name" json:"name"`
	Unit         *string   `db:"unit" json:"unit,omitempty"`
	DisplayOrder int       `db:"display_order" json:"display_order"`

	NormalLow  *float64 `db:"normal_low" json:"normal_low,omitempty"`
	NormalHigh *float64 `db:"normal_high" json:"normal_high,omitempty"`
	// NormalText describes non-numeric parameters ("Negative", "Clear").
	NormalText *string `db:"normal_text" json:"normal_text,omitempty"`

	CriticalLow  *float64 `db:"critical_low" json:"critical_low,omitempty"`
	CriticalHigh *float64 `db:"critical_high" json:"critical_high,omitempty"`
	PanicLow     *float64 `db:"panic_low" json:"panic_low,omitempty"`
	PanicHigh    *float64 `db:"panic_high" json:"panic_high,omitempty"`

	DeltaCheckEnabled      bool     `db:"delta_check_enabled" json:"delta_check_enabled"`
	DeltaPercentThreshold  *float64 `db:"delta_percent_threshold" json:"delta_percent_threshold,omitempty"`
	DeltaAbsoluteThreshold *float64 `db:"delta_absolute_threshold" json:"delta_absolute_threshold,omitempty"`
}

// ReferenceRangeText formats the normal range for snapshotting onto a
// result parameter row.
func (p *LabTestParameter) ReferenceRangeText() string {
	switch {
	case p.NormalLow != nil && p.NormalHigh != nil:
		return fmt.Sprintf("%g - %g", *p.NormalLow, *p.NormalHigh)
	case p.NormalLow != nil:
		return fmt.Sprintf(">= %g", *p.NormalLow)
	case p.NormalHigh != nil:
		return fmt.Sprintf("<= %g", *p.NormalHigh)
	case p.NormalText != nil:
		return *p.NormalText
	default:
		return ""
	}
}
