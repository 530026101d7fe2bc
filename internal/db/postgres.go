package db

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Unique constraint names created by migration 000001_init. Repositories compare
// UniqueViolation results against these.
const (
	ConstraintUsersEmail              = "users_email_key"
	ConstraintTransactionsCorrelation = "transactions_transaction_id_key"
	ConstraintProfilesTransaction     = "esim_profiles_transaction_id_key"
	ConstraintProfilesICCID           = "esim_profiles_iccid_key"
	ConstraintProfilesIMSI            = "esim_profiles_imsi_key"
)

const pgUniqueViolation = "23505"

// Open opens a Postgres connection using the given DSN. Caller must call Close when done.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// UniqueViolation reports whether err is a Postgres unique_violation and, if so,
// the name of the violated constraint.
func UniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return "", false
	}
	return pgErr.ConstraintName, true
}
