package repository

import (
	"context"
	"database/sql"

	"esim-gateway/internal/callback/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append stores e verbatim. An empty payload is stored as SQL NULL.
func (r *PostgresRepository) Append(ctx context.Context, e *domain.WebhookEvent) error {
	var payload any
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	return r.db.QueryRowContext(ctx,
		`INSERT INTO webhook_events (event_type, payload) VALUES ($1, $2::jsonb)
		 RETURNING id, created_at`,
		e.EventType, payload,
	).Scan(&e.ID, &e.CreatedAt)
}

func (r *PostgresRepository) MarkProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET processed = TRUE, processed_at = now() WHERE id = $1 AND NOT processed`, id)
	return err
}
