package repository

import (
	"context"
	"database/sql"
	"errors"

	"esim-gateway/internal/db"
	"esim-gateway/internal/provisioning/domain"
	txdomain "esim-gateway/internal/transaction/domain"
)

const profileColumns = `id, user_id, transaction_id, iccid, imsi, status, activated_at, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert copies user_id from the transaction row, which it share-locks while
// checking the transaction is still completed.
func (r *PostgresRepository) Insert(ctx context.Context, p *domain.Profile) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO esim_profiles (user_id, transaction_id, iccid, imsi, status)
		 SELECT t.user_id, t.id, $2::text, $3::text, $4::text
		 FROM transactions t
		 WHERE t.id = $1 AND t.status = $5
		 FOR SHARE
		 RETURNING id, user_id, created_at, updated_at`,
		p.TransactionID, p.ICCID, p.IMSI, string(p.Status), string(txdomain.StatusCompleted),
	).Scan(&p.ID, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTransactionNotCompleted
	}
	if constraint, ok := db.UniqueViolation(err); ok {
		switch constraint {
		case db.ConstraintProfilesTransaction:
			return ErrTransactionProvisioned
		case db.ConstraintProfilesICCID, db.ConstraintProfilesIMSI:
			return ErrIdentifierTaken
		}
	}
	return err
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.Profile, error) {
	return scanProfile(r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM esim_profiles WHERE id = $1`, id))
}

func (r *PostgresRepository) GetByICCID(ctx context.Context, iccid string) (*domain.Profile, error) {
	return scanProfile(r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM esim_profiles WHERE iccid = $1`, iccid))
}

func (r *PostgresRepository) GetByTransaction(ctx context.Context, transactionID int64) (*domain.Profile, error) {
	return scanProfile(r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM esim_profiles WHERE transaction_id = $1`, transactionID))
}

// UpdateStatus writes status and, when it is activated, stamps activated_at in
// the same statement. COALESCE keeps the first stamp under concurrent events.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id int64, status domain.Status) (*domain.Profile, error) {
	return scanProfile(r.db.QueryRowContext(ctx,
		`UPDATE esim_profiles
		 SET status = $2,
		     activated_at = CASE WHEN $3 THEN COALESCE(activated_at, now()) ELSE activated_at END,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+profileColumns,
		id, string(status), status == domain.StatusActivated))
}

func scanProfile(row *sql.Row) (*domain.Profile, error) {
	var p domain.Profile
	var status string
	var activatedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &p.TransactionID, &p.ICCID, &p.IMSI, &status, &activatedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Status = domain.Status(status)
	if activatedAt.Valid {
		t := activatedAt.Time
		p.ActivatedAt = &t
	}
	return &p, nil
}
