package catalog

import (
	"context"

	"github.com/google/uuid"
)

type TestRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error)
	GetByCode(ctx context.Context, code string) (*LabTest, error)
	ListParameters(ctx context.Context, testID uuid.UUID) ([]*LabTestParameter, error)
	GetParameter(ctx context.Context, id uuid.UUID) (*LabTestParameter, error)
}

type PanelRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*LabPanel, error)
	// TestIDs returns the constituent test IDs in display order.
	TestIDs(ctx context.Context, panelID uuid.UUID) ([]uuid.UUID, error)
}
