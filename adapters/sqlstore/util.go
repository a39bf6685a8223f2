package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/internal/journal"
)

const entryCols = " sequence, doc_key, version, doc_value, revision_hash, chain_hash, created_at "

func (s *Store) insert(ctx context.Context, tx *sql.Tx, e journal.Entry) error {
	_, err := tx.ExecContext(ctx, s.dialect.bind("insert into ledger_journal "+
		"(ledger_name, table_name,"+entryCols+") values (?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		s.addr.Ledger,
		s.addr.Table,
		e.Sequence,
		e.Key,
		e.Version,
		e.Value,
		e.RevisionHash,
		e.ChainHash,
		e.CreatedAt.UnixNano(),
	)
	if s.dialect.isDuplicate(err) {
		return errors.Wrap(ledgerflow.ErrVersionConflict, "", j.KV("key", e.Key))
	} else if err != nil {
		return errors.Wrap(err, "failed to insert journal entry", j.MKV{
			"key":      e.Key,
			"version":  e.Version,
			"sequence": e.Sequence,
		})
	}

	return nil
}

func (s *Store) selectPrefix() string {
	return "select" + entryCols + "from ledger_journal where ledger_name=? and table_name=? and "
}

func (s *Store) lookupWhere(ctx context.Context, dbc *sql.DB, where string, args ...any) (journal.Entry, error) {
	args = append([]any{s.addr.Ledger, s.addr.Table}, args...)
	return entryScan(dbc.QueryRowContext(ctx, s.dialect.bind(s.selectPrefix()+where), args...))
}

// listWhere queries the journal of the table with the provided where clause, then scans and returns all the
// rows.
func (s *Store) listWhere(ctx context.Context, dbc *sql.DB, where string, args ...any) ([]journal.Entry, error) {
	args = append([]any{s.addr.Ledger, s.addr.Table}, args...)
	rows, err := dbc.QueryContext(ctx, s.dialect.bind(s.selectPrefix()+where), args...)
	if err != nil {
		return nil, errors.Wrap(err, "listWhere")
	}
	defer rows.Close()

	var res []journal.Entry
	for rows.Next() {
		e, err := entryScan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return res, nil
}

func entryScan(row row) (journal.Entry, error) {
	var (
		e         journal.Entry
		createdAt int64
	)
	err := row.Scan(
		&e.Sequence,
		&e.Key,
		&e.Version,
		&e.Value,
		&e.RevisionHash,
		&e.ChainHash,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return journal.Entry{}, errors.Wrap(ledgerflow.ErrRecordNotFound, "")
	} else if err != nil {
		return journal.Entry{}, errors.Wrap(err, "entryScan")
	}

	e.CreatedAt = time.Unix(0, createdAt).UTC()
	return e, nil
}

// row is a common interface for *sql.Rows and *sql.Row.
type row interface {
	Scan(dest ...any) error
}
