// Package specimen owns the specimen lifecycle: collection with barcode
// generation, receipt, quality assessment, processing, and
// storage/disposal bookkeeping.
package specimen

import (
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/platform/laberr"
)

// Specimen statuses. COMPLETED, REJECTED, and DISCARDED are terminal.
const (
	StatusCollected  = "COLLECTED"
	StatusReceived   = "RECEIVED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusRejected   = "REJECTED"
	StatusDiscarded  = "DISCARDED"
)

// Quality statuses, orthogonal to the primary state machine.
const (
	QualityPending     = "PENDING"
	QualityAcceptable  = "ACCEPTABLE"
	QualityCompromised = "COMPROMISED"
	QualityRejected    = "REJECTED"
)

// transitions is the specimen state machine. REJECTED is additionally
// reachable from any non-terminal state via RejectSpecimen.
var transitions = map[string][]string{
	StatusCollected:  {StatusReceived, StatusRejected},
	StatusReceived:   {StatusProcessing, StatusRejected, StatusDiscarded},
	StatusProcessing: {StatusCompleted, StatusRejected, StatusDiscarded},
	StatusCompleted:  {},
	StatusRejected:   {},
	StatusDiscarded:  {},
}

// ValidateTransition checks a specimen status edge.
func ValidateTransition(from, to string) error {
	allowed, ok := transitions[from]
	if !ok {
		return laberr.InvalidTransition("specimen", from, to)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return laberr.InvalidTransition("specimen", from, to)
}

// IsTerminal reports whether a specimen status has no outgoing edges.
func IsTerminal(status string) bool {
	allowed, ok := transitions[status]
	return ok && len(allowed) == 0
}

// Specimen maps to the specimen table. Barcode is globally unique.
type Specimen struct {
	ID             uuid.UUID `db:"id" json:"id"`
	SpecimenNumber string    `db:"specimen_number" json:"specimen_number"`
	Barcode        string    `db:"barcode" json:"barcode"`
	OrderItemID    uuid.UUID `db:"order_item_id" json:"order_item_id"`
	OrderID        uuid.UUID `db:"order_id" json:"order_id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	SpecimenType   string    `db:"specimen_type" json:"specimen_type"`
	Status         string    `db:"status" json:"status"`
	QualityStatus  string    `db:"quality_status" json:"quality_status"`

	CollectedBy uuid.UUID  `db:"collected_by" json:"collected_by"`
	CollectedAt time.Time  `db:"collected_at" json:"collected_at"`
	ReceivedBy  *uuid.UUID `db:"received_by" json:"received_by,omitempty"`
	ReceivedAt  *time.Time `db:"received_at" json:"received_at,omitempty"`

	// Interference flags set by the quality check.
	Hemolyzed bool `db:"hemolyzed" json:"hemolyzed"`
	Lipemic   bool `db:"lipemic" json:"lipemic"`
	Icteric   bool `db:"icteric" json:"icteric"`

	QualityNotes    *string `db:"quality_notes" json:"quality_notes,omitempty"`
	RejectionReason *string `db:"rejection_reason" json:"rejection_reason,omitempty"`

	StorageLocation    *string    `db:"storage_location" json:"storage_location,omitempty"`
	StorageTemperature *float64   `db:"storage_temperature" json:"storage_temperature,omitempty"`
	StoredAt           *time.Time `db:"stored_at" json:"stored_at,omitempty"`

	DisposalMethod *string    `db:"disposal_method" json:"disposal_method,omitempty"`
	DisposedBy     *uuid.UUID `db:"disposed_by" json:"disposed_by,omitempty"`
	DisposedAt     *time.Time `db:"disposed_at" json:"disposed_at,omitempty"`

	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// QualityCheck is the input to PerformQualityCheck.
type QualityCheck struct {
	Status    string
	Hemolyzed bool
	Lipemic   bool
	Icteric   bool
	Notes     string
}
