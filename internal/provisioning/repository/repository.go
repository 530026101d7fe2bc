package repository

import (
	"context"
	"errors"

	"esim-gateway/internal/provisioning/domain"
)

var (
	// ErrTransactionProvisioned means the transaction already owns a profile.
	ErrTransactionProvisioned = errors.New("transaction already has a profile")
	// ErrIdentifierTaken means the ICCID or IMSI is already in use.
	ErrIdentifierTaken = errors.New("iccid or imsi already in use")
	// ErrTransactionNotCompleted means the transaction is absent or no longer completed.
	ErrTransactionNotCompleted = errors.New("transaction not completed")
)

// Repository persists profiles. Lookups return nil, nil when no row matches.
type Repository interface {
	// Insert stores p only while its transaction is completed.
	Insert(ctx context.Context, p *domain.Profile) error
	GetByID(ctx context.Context, id int64) (*domain.Profile, error)
	GetByICCID(ctx context.Context, iccid string) (*domain.Profile, error)
	GetByTransaction(ctx context.Context, transactionID int64) (*domain.Profile, error)
	// UpdateStatus sets status; moving into activated stamps activated_at once.
	UpdateStatus(ctx context.Context, id int64, status domain.Status) (*domain.Profile, error)
}
