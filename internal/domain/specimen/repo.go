package specimen

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists a new specimen; a barcode collision surfaces as
	// laberr.ErrDuplicateKey so the caller can regenerate and retry.
	Create(ctx context.Context, sp *Specimen) error
	GetByID(ctx context.Context, id uuid.UUID) (*Specimen, error)
	GetByBarcode(ctx context.Context, barcode string) (*Specimen, error)
	// Update persists mutable fields guarded by the version token.
	Update(ctx context.Context, sp *Specimen) error
	ListByOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]*Specimen, error)
}
