package domain

import "time"

// Status is the lifecycle state of a provisioning profile.
type Status string

const (
	StatusPending    Status = "pending"
	StatusActivated  Status = "activated"
	StatusSuspended  Status = "suspended"
	StatusTerminated Status = "terminated"
)

// ParseStatus returns s as a Status and whether it is a known value.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusActivated, StatusSuspended, StatusTerminated:
		return st, true
	}
	return "", false
}

// Profile is the eSIM identity bound 1:1 to a completed transaction.
// TransactionID is the internal transactions.id, not the correlation id.
// ActivatedAt is nil until the first transition into activated.
type Profile struct {
	ID            int64
	UserID        int64
	TransactionID int64
	ICCID         string
	IMSI          string
	Status        Status
	ActivatedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
