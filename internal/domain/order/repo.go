package order

import (
	"context"

	"github.com/google/uuid"
)

type OrderRepository interface {
	Create(ctx context.Context, o *LabOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabOrder, error)
	GetByNumber(ctx context.Context, orderNumber string) (*LabOrder, error)
	// Update persists mutable fields guarded by the version token and
	// returns laberr.ErrConflict when the row changed underneath.
	Update(ctx context.Context, o *LabOrder) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabOrder, int, error)
}

type ItemRepository interface {
	Create(ctx context.Context, item *LabOrderItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabOrderItem, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*LabOrderItem, error)
	Update(ctx context.Context, item *LabOrderItem) error
}

type HistoryRepository interface {
	// Create appends one immutable history record.
	Create(ctx context.Context, h *StatusHistory) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*StatusHistory, error)
}
