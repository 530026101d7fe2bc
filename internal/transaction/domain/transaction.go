package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus returns the Status for s and whether it is one of the known values.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return st, true
	}
	return "", false
}

// Transaction records one paid purchase. CorrelationID is the public id
// (transactions.transaction_id) shared with the payer and the callbacks.
type Transaction struct {
	ID               int64
	UserID           int64
	PlanID           int64
	CorrelationID    string
	AmountUSDCents   int64
	PaymentMethod    string
	PaymentReference string
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewCorrelationID returns "TXN-" followed by 32 upper-case hex characters.
func NewCorrelationID() string {
	id := uuid.New()
	return "TXN-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
}
