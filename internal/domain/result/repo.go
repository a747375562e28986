package result

import (
	"context"

	"github.com/google/uuid"
)

type ResultRepository interface {
	Create(ctx context.Context, r *LabResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error)
	GetByNumber(ctx context.Context, resultNumber string) (*LabResult, error)
	// Update persists mutable fields guarded by the version token and
	// returns laberr.ErrConflict when the row changed underneath.
	Update(ctx context.Context, r *LabResult) error
	ListByOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]*LabResult, error)
	// PreviousValue selects the most recent numeric value for the same
	// patient, test and analyte, excluding the result being entered and
	// any result that is CANCELLED, ENTERED_IN_ERROR or AMENDED. Returns
	// (nil, nil) when no prior value exists.
	PreviousValue(ctx context.Context, patientID, testID uuid.UUID, parameterCode string, excludeResultID uuid.UUID) (*float64, error)
}

type ParameterRepository interface {
	Create(ctx context.Context, p *LabResultParameter) error
	ListByResult(ctx context.Context, resultID uuid.UUID) ([]*LabResultParameter, error)
}
