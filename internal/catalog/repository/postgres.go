package repository

import (
	"context"
	"database/sql"
	"errors"

	"esim-gateway/internal/catalog/domain"
)

const planColumns = `id, name, data_limit, validity_days, price_usd_cents, price_khr_riel, active, created_at`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListActive(ctx context.Context) ([]*domain.Plan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE active ORDER BY price_usd_cents ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetActive returns nil, nil when the plan is absent or inactive.
func (r *PostgresRepository) GetActive(ctx context.Context, id int64) (*domain.Plan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1 AND active`, id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// Upsert inserts or updates a plan by name. Used by the seed command.
func (r *PostgresRepository) Upsert(ctx context.Context, p *domain.Plan) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE plans SET data_limit = $2, validity_days = $3, price_usd_cents = $4, price_khr_riel = $5, active = $6
		 WHERE name = $1 RETURNING id, created_at`,
		p.Name, p.DataLimit, p.ValidityDays, p.PriceUSDCents, p.PriceKHRRiel, p.Active,
	).Scan(&p.ID, &p.CreatedAt)
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return r.db.QueryRowContext(ctx,
		`INSERT INTO plans (name, data_limit, validity_days, price_usd_cents, price_khr_riel, active)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		p.Name, p.DataLimit, p.ValidityDays, p.PriceUSDCents, p.PriceKHRRiel, p.Active,
	).Scan(&p.ID, &p.CreatedAt)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(s scanner) (*domain.Plan, error) {
	var p domain.Plan
	if err := s.Scan(&p.ID, &p.Name, &p.DataLimit, &p.ValidityDays, &p.PriceUSDCents, &p.PriceKHRRiel, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
