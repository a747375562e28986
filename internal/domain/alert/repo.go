package alert

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *CriticalValueAlert) error
	GetByID(ctx context.Context, id uuid.UUID) (*CriticalValueAlert, error)
	// Update persists mutable fields guarded by the version token and
	// returns laberr.ErrConflict when the row changed underneath.
	Update(ctx context.Context, a *CriticalValueAlert) error
	ListByResult(ctx context.Context, resultID uuid.UUID) ([]*CriticalValueAlert, error)
	// ListUnacknowledged returns open alerts: not acknowledged and not
	// resolved, oldest notification first.
	ListUnacknowledged(ctx context.Context) ([]*CriticalValueAlert, error)
}
