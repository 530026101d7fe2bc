package repository

import (
	"context"
	"errors"

	"esim-gateway/internal/user/domain"
)

// ErrEmailTaken is returned by Create when another user already has the email.
var ErrEmailTaken = errors.New("email already registered")

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// Create inserts u and sets ID, CreatedAt and UpdatedAt. Returns ErrEmailTaken on a duplicate
	// email; the existing row is left untouched.
	Create(ctx context.Context, u *domain.User) error
}
