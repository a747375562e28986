// Package order owns the LabOrder and LabOrderItem lifecycle: creation
// with panel expansion, the order status state machine, recurrence, and
// the append-only status history that forms the audit trail.
package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/platform/laberr"
)

// Order statuses. COMPLETED and CANCELLED are terminal.
const (
	StatusPending    = "PENDING"
	StatusScheduled  = "SCHEDULED"
	StatusCollected  = "COLLECTED"
	StatusReceived   = "RECEIVED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
)

// Order priorities.
const (
	PriorityRoutine = "ROUTINE"
	PriorityUrgent  = "URGENT"
	PriorityStat    = "STAT"
)

// Order item statuses.
const (
	ItemPending    = "PENDING"
	ItemInProgress = "IN_PROGRESS"
	ItemCompleted  = "COMPLETED"
	ItemCancelled  = "CANCELLED"
)

// transitions is the single source of truth for the order state machine.
// Statuses absent from a from-state's list are rejected; terminal states
// have no outgoing edges.
var transitions = map[string][]string{
	StatusPending:    {StatusScheduled, StatusCollected, StatusCancelled},
	StatusScheduled:  {StatusCollected, StatusCancelled},
	StatusCollected:  {StatusReceived, StatusCancelled},
	StatusReceived:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// ValidateTransition checks an order status edge against the transition
// table.
func ValidateTransition(from, to string) error {
	allowed, ok := transitions[from]
	if !ok {
		return laberr.InvalidTransition("lab order", from, to)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return laberr.InvalidTransition("lab order", from, to)
}

// IsTerminal reports whether an order status has no outgoing edges.
func IsTerminal(status string) bool {
	allowed, ok := transitions[status]
	return ok && len(allowed) == 0
}

// LabOrder maps to the lab_order table.
type LabOrder struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	OrderNumber      string     `db:"order_number" json:"order_number"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	EncounterID      *uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	OrderingDoctorID uuid.UUID  `db:"ordering_doctor_id" json:"ordering_doctor_id"`
	Priority         string     `db:"priority" json:"priority"`
	Status           string     `db:"status" json:"status"`

	IsRecurring       bool       `db:"is_recurring" json:"is_recurring"`
	ParentOrderID     *uuid.UUID `db:"parent_order_id" json:"parent_order_id,omitempty"`
	RecurrencePattern *string    `db:"recurrence_pattern" json:"recurrence_pattern,omitempty"`
	RecurrenceEndDate *time.Time `db:"recurrence_end_date" json:"recurrence_end_date,omitempty"`
	ScheduledDate     *time.Time `db:"scheduled_date" json:"scheduled_date,omitempty"`

	Notes *string `db:"notes" json:"notes,omitempty"`

	VersionID   int        `db:"version_id" json:"version_id"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// LabOrderItem maps to the lab_order_item table: one row per ordered test,
// including tests expanded from a panel. Price is snapshotted from the
// catalog at order time. ResultID back-references the current result once
// one is entered.
type LabOrderItem struct {
	ID       uuid.UUID  `db:"id" json:"id"`
	OrderID  uuid.UUID  `db:"order_id" json:"order_id"`
	TestID   uuid.UUID  `db:"test_id" json:"test_id"`
	PanelID  *uuid.UUID `db:"panel_id" json:"panel_id,omitempty"`
	Status   string     `db:"status" json:"status"`
	Price    float64    `db:"price" json:"price"`
	ResultID *uuid.UUID `db:"result_id" json:"result_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StatusHistory is one immutable audit record per successful transition.
// Rows are never updated or deleted.
type StatusHistory struct {
	ID         uuid.UUID `db:"id" json:"id"`
	OrderID    uuid.UUID `db:"order_id" json:"order_id"`
	FromStatus string    `db:"from_status" json:"from_status"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	ChangedBy  string    `db:"changed_by" json:"changed_by"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}
