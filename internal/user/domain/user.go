package domain

import (
	"errors"
	"strconv"
	"time"
)

// User is a registered subject. PasswordHash is a bcrypt hash and never leaves the service layer.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Phone        string // optional, E.164
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SubjectID is the user id as carried in token subjects and cache keys.
func (u *User) SubjectID() string {
	return strconv.FormatInt(u.ID, 10)
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}

// ParseSubjectID converts a token subject back to a user id.
func ParseSubjectID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid subject id")
	}
	return id, nil
}
