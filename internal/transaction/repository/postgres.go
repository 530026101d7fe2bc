package repository

import (
	"context"
	"database/sql"
	"errors"

	"esim-gateway/internal/db"
	"esim-gateway/internal/transaction/domain"
)

const txColumns = `id, user_id, plan_id, transaction_id, amount_usd_cents, payment_method, payment_reference, status, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert writes t and fills in its id and timestamps. A clash on the
// correlation id returns ErrCorrelationTaken.
func (r *PostgresRepository) Insert(ctx context.Context, t *domain.Transaction) error {
	ref := sql.NullString{String: t.PaymentReference, Valid: t.PaymentReference != ""}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO transactions (user_id, plan_id, transaction_id, amount_usd_cents, payment_method, payment_reference, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		t.UserID, t.PlanID, t.CorrelationID, t.AmountUSDCents, t.PaymentMethod, ref, string(t.Status),
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if constraint, ok := db.UniqueViolation(err); ok && constraint == db.ConstraintTransactionsCorrelation {
		return ErrCorrelationTaken
	}
	return err
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	return scanTx(r.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *PostgresRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.Transaction, error) {
	return scanTx(r.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE transaction_id = $1`, correlationID))
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, correlationID string, status domain.Status) (*domain.Transaction, error) {
	return scanTx(r.db.QueryRowContext(ctx,
		`UPDATE transactions SET status = $2, updated_at = now()
		 WHERE transaction_id = $1
		 RETURNING `+txColumns,
		correlationID, string(status)))
}

// UpdateStatusUnlessProvisioned locks the transaction row before looking for a
// profile. Profile inserts take a share lock on the same row, so neither side
// can slip in between the check and the write.
func (r *PostgresRepository) UpdateStatusUnlessProvisioned(ctx context.Context, correlationID string, status domain.Status) (*domain.Transaction, bool, error) {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer sqlTx.Rollback()

	cur, err := scanTx(sqlTx.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE transaction_id = $1 FOR UPDATE`, correlationID))
	if err != nil || cur == nil {
		return nil, false, err
	}
	var provisioned bool
	if err := sqlTx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM esim_profiles WHERE transaction_id = $1)`, cur.ID,
	).Scan(&provisioned); err != nil {
		return nil, false, err
	}
	if provisioned {
		return cur, true, sqlTx.Commit()
	}
	updated, err := scanTx(sqlTx.QueryRowContext(ctx,
		`UPDATE transactions SET status = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING `+txColumns,
		cur.ID, string(status)))
	if err != nil {
		return nil, false, err
	}
	return updated, false, sqlTx.Commit()
}

func scanTx(row *sql.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var ref sql.NullString
	var status string
	err := row.Scan(&t.ID, &t.UserID, &t.PlanID, &t.CorrelationID, &t.AmountUSDCents, &t.PaymentMethod, &ref, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.PaymentReference = ref.String
	t.Status = domain.Status(status)
	return &t, nil
}
