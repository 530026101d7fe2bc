// Package migrate applies the embedded schema migrations with golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"esim-gateway/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrNoChange is returned by golang-migrate when the schema is already at the target version.
// Run swallows it; it is exported so callers of the migrate package can match it.
var ErrNoChange = migrate.ErrNoChange

// Directions accepted by Run.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Run applies every pending migration (up) or rolls all of them back (down).
// Being already at the target is not an error.
func Run(dsn string, direction string) error {
	if direction != DirectionUp && direction != DirectionDown {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	m, err := open(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if direction == DirectionUp {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Version reports the current schema version and whether the last migration left it dirty.
// A database with no applied migrations yields version 0.
func Version(dsn string) (version uint, dirty bool, err error) {
	m, err := open(dsn)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func open(dsn string) (*migrate.Migrate, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set; set DATABASE_URL or add it to .env")
	}
	src, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}
