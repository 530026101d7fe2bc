package repository

import (
	"context"
	"errors"

	"esim-gateway/internal/transaction/domain"
)

// ErrCorrelationTaken is returned by Insert when the correlation id already exists.
var ErrCorrelationTaken = errors.New("transaction id already exists")

// Repository persists transactions. Lookups return nil, nil when no row matches.
type Repository interface {
	Insert(ctx context.Context, t *domain.Transaction) error
	GetByID(ctx context.Context, id int64) (*domain.Transaction, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*domain.Transaction, error)
	// UpdateStatus sets status and bumps updated_at, returning the updated row.
	UpdateStatus(ctx context.Context, correlationID string, status domain.Status) (*domain.Transaction, error)
	// UpdateStatusUnlessProvisioned is UpdateStatus guarded by the absence of a
	// provisioning profile, checked and written as one step. When a profile
	// exists the row is returned unchanged with provisioned set.
	UpdateStatusUnlessProvisioned(ctx context.Context, correlationID string, status domain.Status) (t *domain.Transaction, provisioned bool, err error)
}
