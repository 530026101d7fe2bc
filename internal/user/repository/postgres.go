package repository

import (
	"context"
	"database/sql"
	"errors"

	"esim-gateway/internal/db"
	"esim-gateway/internal/user/domain"
)

const userColumns = `id, email, password_hash, phone, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create inserts the user and fills in its generated id and timestamps.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	phone := sql.NullString{String: u.Phone, Valid: u.Phone != ""}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, phone) VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		u.Email, u.PasswordHash, phone,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if constraint, ok := db.UniqueViolation(err); ok && constraint == db.ConstraintUsersEmail {
		return ErrEmailTaken
	}
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var phone sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &phone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Phone = phone.String
	return &u, nil
}
