package validation

import (
	"context"

	"github.com/google/uuid"
)

// Repository is append-only: validation records are immutable audit
// entries and there is deliberately no Update or Delete.
type Repository interface {
	Create(ctx context.Context, v *ResultValidation) error
	ListByResult(ctx context.Context, resultID uuid.UUID) ([]*ResultValidation, error)
}
