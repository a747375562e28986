// Package alert implements the critical value alert engine: flagged
// result parameters produce alert records that must be acknowledged, and
// unacknowledged alerts are escalated by a background sweep.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// Alert types.
const (
	TypeCriticalValue = "CRITICAL_VALUE"
	TypePanicValue    = "PANIC_VALUE"
	TypeDeltaCheck    = "DELTA_CHECK"
)

// Alert severities.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
)

// CriticalValueAlert is one alert raised for one flagged parameter. Test
// and parameter identity plus the offending value are snapshotted so the
// alert stays readable even if the result is later amended.
type CriticalValueAlert struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ResultID    uuid.UUID `db:"result_id" json:"result_id"`
	ParameterID uuid.UUID `db:"parameter_id" json:"parameter_id"`
	OrderID     uuid.UUID `db:"order_id" json:"order_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`

	AlertType string `db:"alert_type" json:"alert_type"`
	Severity  string `db:"severity" json:"severity"`

	TestName        string   `db:"test_name" json:"test_name"`
	ParameterCode   string   `db:"parameter_code" json:"parameter_code"`
	ParameterName   string   `db:"parameter_name" json:"parameter_name"`
	Value           string   `db:"value" json:"value"`
	Unit            *string  `db:"unit" json:"unit,omitempty"`
	ReferenceRange  string   `db:"reference_range" json:"reference_range"`
	DeltaPercentage *float64 `db:"delta_percentage" json:"delta_percentage,omitempty"`

	NotifiedTo         uuid.UUID `db:"notified_to" json:"notified_to"`
	NotificationMethod string    `db:"notification_method" json:"notification_method"`
	NotifiedAt         time.Time `db:"notified_at" json:"notified_at"`

	AcknowledgedBy      *uuid.UUID `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt      *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgmentNotes *string    `db:"acknowledgment_notes" json:"acknowledgment_notes,omitempty"`

	ActionTaken *string    `db:"action_taken" json:"action_taken,omitempty"`
	ResolvedBy  *uuid.UUID `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`

	// EscalatedAt marks that the escalation sweep has handled this alert;
	// it is never escalated twice.
	EscalatedAt *time.Time `db:"escalated_at" json:"escalated_at,omitempty"`

	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Acknowledged reports whether the alert has been acknowledged.
func (a *CriticalValueAlert) Acknowledged() bool {
	return a.AcknowledgedAt != nil
}

// Resolved reports whether the alert has been resolved.
func (a *CriticalValueAlert) Resolved() bool {
	return a.ResolvedAt != nil
}
