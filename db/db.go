// Package db provides database connection helpers, schema migration, and the
// watch/ledger store used by the reconciler and the command surface.
package db

import (
	"database/sql"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection using DATABASE_URL (or the provided DSN
// when non-empty).
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}
