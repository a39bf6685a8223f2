// Package sqlite keeps ledger tables in a SQLite database using the sqlstore journal layout.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	_ "modernc.org/sqlite"

	"github.com/luno/ledgerflow/adapters/sqlstore"
)

// sqliteConstraint is the primary result code of SQLITE_CONSTRAINT and its extended codes.
const sqliteConstraint = 19

// Dialect locks the whole database on write so the journal tip is read without "for update".
var Dialect = sqlstore.Dialect{
	Name:      "sqlite",
	EnsureTip: "insert or ignore into ledger_tips (ledger_name, table_name, sequence, chain_hash) values (?, ?, 0, '')",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS ledger_tips (
    ledger_name   TEXT NOT NULL,
    table_name    TEXT NOT NULL,
    sequence      INTEGER NOT NULL,
    chain_hash    TEXT NOT NULL,
    PRIMARY KEY (ledger_name, table_name)
)`,
		`CREATE TABLE IF NOT EXISTS ledger_journal (
    ledger_name   TEXT NOT NULL,
    table_name    TEXT NOT NULL,
    sequence      INTEGER NOT NULL,
    doc_key       TEXT NOT NULL,
    version       INTEGER NOT NULL,
    doc_value     BLOB NOT NULL,
    revision_hash TEXT NOT NULL,
    chain_hash    TEXT NOT NULL,
    created_at    INTEGER NOT NULL,
    PRIMARY KEY (ledger_name, table_name, sequence),
    UNIQUE (ledger_name, table_name, doc_key, version)
)`,
	},
	IsDuplicate: func(err error) bool {
		var coder interface{ Code() int }
		return errors.As(err, &coder) && coder.Code()&0xff == sqliteConstraint
	},
}

// Open creates a new SQLite database connection with settings suited to a ledger. Writes are serialised
// through a single connection.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database", j.KV("path", path))
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",   // Enable Write-Ahead Logging for better concurrency
		"PRAGMA synchronous=NORMAL", // Good balance of safety and performance
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000", // Wait up to 5 seconds for locks
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to set pragma", j.KV("pragma", pragma))
		}
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// InitSchema creates the ledger tables.
func InitSchema(ctx context.Context, db *sql.DB) error {
	return New(db).Migrate(ctx)
}

func New(db *sql.DB, opts ...sqlstore.Option) *sqlstore.Ledger {
	return sqlstore.New(db, Dialect, opts...)
}
