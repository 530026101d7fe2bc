package repository

import (
	"context"

	"esim-gateway/internal/catalog/domain"
)

// Repository reads the plan catalog. Plans are managed outside the service (see cmd/seed).
type Repository interface {
	// ListActive returns active plans ordered by USD price, cheapest first.
	ListActive(ctx context.Context) ([]*domain.Plan, error)
	// GetActive returns the plan with id if it is active, or nil.
	GetActive(ctx context.Context, id int64) (*domain.Plan, error)
}
