// Package sqlstore keeps ledger tables in a SQL database. Every table is a journal of revisions in
// ledger_journal plus its tip in ledger_tips. Writes to a table are serialised by locking the tip row.
package sqlstore

import (
	"context"
	"database/sql"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/internal/journal"
)

type Option func(l *Ledger)

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithReader sets the database used for queries. Writes and the reads they depend on always use the writer.
func WithReader(reader *sql.DB) Option {
	return func(l *Ledger) {
		l.reader = reader
	}
}

type Ledger struct {
	writer  *sql.DB
	reader  *sql.DB
	dialect Dialect
	clock   clock.Clock
}

func New(writer *sql.DB, dialect Dialect, opts ...Option) *Ledger {
	l := &Ledger{
		writer:  writer,
		reader:  writer,
		dialect: dialect,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

var _ ledgerflow.Ledger = (*Ledger)(nil)

// Migrate creates the tables of the dialect unless they exist.
func (l *Ledger) Migrate(ctx context.Context) error {
	for _, stmt := range l.dialect.Schema {
		_, err := l.writer.ExecContext(ctx, stmt)
		if err != nil {
			return errors.Wrap(err, "migrate ledger schema", j.KV("dialect", l.dialect.Name))
		}
	}

	return nil
}

func (l *Ledger) Open(ctx context.Context, addr ledgerflow.Address) (ledgerflow.RecordStore, error) {
	if addr.Ledger == "" || addr.Table == "" {
		return nil, errors.New("ledger and table are required")
	}

	return &Store{
		writer:  l.writer,
		reader:  l.reader,
		dialect: l.dialect,
		clock:   l.clock,
		addr:    addr,
	}, nil
}

var _ ledgerflow.RecordStore = (*Store)(nil)

type Store struct {
	writer  *sql.DB
	reader  *sql.DB
	dialect Dialect
	clock   clock.Clock
	addr    ledgerflow.Address
}

func (s *Store) Get(ctx context.Context, key string) (*ledgerflow.Record, error) {
	e, err := s.lookupWhere(ctx, s.reader, "doc_key=? order by version desc limit 1", key)
	if err != nil {
		return nil, err
	}

	r := toRevision(e)
	return &r.Record, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	tip, err := s.lockTip(ctx, tx)
	if err != nil {
		return 0, err
	}

	var current int64
	err = tx.QueryRowContext(ctx, s.dialect.bind("select coalesce(max(version), 0) from ledger_journal "+
		"where ledger_name=? and table_name=? and doc_key=?"), s.addr.Ledger, s.addr.Table, key).Scan(&current)
	if err != nil {
		return 0, errors.Wrap(err, "read document version", j.KV("key", key))
	}

	err = ledgerflow.CheckVersion(key, current, expected)
	if err != nil {
		return 0, err
	}

	e, err := journal.Next(tip, key, current+1, value, s.clock.Now())
	if err != nil {
		return 0, err
	}

	err = s.insert(ctx, tx, e)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, s.dialect.bind("update ledger_tips set sequence=?, chain_hash=? "+
		"where ledger_name=? and table_name=?"), e.Sequence, e.ChainHash, s.addr.Ledger, s.addr.Table)
	if err != nil {
		return 0, errors.Wrap(err, "advance journal tip", j.KV("sequence", e.Sequence))
	}

	err = tx.Commit()
	if s.dialect.isDuplicate(err) {
		return 0, errors.Wrap(ledgerflow.ErrVersionConflict, "", j.KV("key", key))
	} else if err != nil {
		return 0, errors.Wrap(err, "commit revision", j.KV("key", key))
	}

	return e.Version, nil
}

func (s *Store) lockTip(ctx context.Context, tx *sql.Tx) (journal.Tip, error) {
	_, err := tx.ExecContext(ctx, s.dialect.bind(s.dialect.EnsureTip), s.addr.Ledger, s.addr.Table)
	if err != nil {
		return journal.Tip{}, errors.Wrap(err, "ensure journal tip")
	}

	q := "select sequence, chain_hash from ledger_tips where ledger_name=? and table_name=?"
	if s.dialect.LockTip {
		q += " for update"
	}

	var tip journal.Tip
	err = tx.QueryRowContext(ctx, s.dialect.bind(q), s.addr.Ledger, s.addr.Table).Scan(&tip.Sequence, &tip.ChainHash)
	if err != nil {
		return journal.Tip{}, errors.Wrap(err, "lock journal tip")
	}

	return tip, nil
}

func (s *Store) Proof(ctx context.Context, key string) (*ledgerflow.Metadata, error) {
	e, err := s.lookupWhere(ctx, s.reader, "doc_key=? order by version desc limit 1", key)
	if err != nil {
		return nil, err
	}

	var previous string
	if e.Sequence > 1 {
		prev, err := s.lookupWhere(ctx, s.reader, "sequence=?", e.Sequence-1)
		if err != nil {
			return nil, errors.Wrap(err, "read preceding entry", j.KV("sequence", e.Sequence-1))
		}

		previous = prev.ChainHash
	}

	later, err := s.listWhere(ctx, s.reader, "sequence>? order by sequence", e.Sequence)
	if err != nil {
		return nil, err
	}

	md := journal.Describe(s.addr, previous, e, later)
	return &md, nil
}

func (s *Store) History(ctx context.Context, key string) ([]ledgerflow.Revision, error) {
	entries, err := s.listWhere(ctx, s.reader, "doc_key=? order by version", key)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, errors.Wrap(ledgerflow.ErrRecordNotFound, "", j.KV("key", key))
	}

	revs := make([]ledgerflow.Revision, 0, len(entries))
	for _, e := range entries {
		revs = append(revs, toRevision(e))
	}

	return revs, nil
}

func (s *Store) Revision(ctx context.Context, key string, version int64) (*ledgerflow.Revision, error) {
	e, err := s.lookupWhere(ctx, s.reader, "doc_key=? and version=?", key, version)
	if err != nil {
		return nil, err
	}

	r := toRevision(e)
	return &r, nil
}

func (s *Store) Verify(ctx context.Context, md ledgerflow.Metadata) (bool, error) {
	from, to := journal.RangeStart(md.BlockAddress.SequenceNo), md.Digest.SequenceNo
	if to < from {
		return false, nil
	}

	entries, err := s.listWhere(ctx, s.reader, "sequence>=? and sequence<=? order by sequence", from, to)
	if err != nil {
		return false, err
	}

	if int64(len(entries)) != to-from+1 {
		return false, nil
	}

	return journal.VerifyRange(md, s.addr, entries), nil
}

func toRevision(e journal.Entry) ledgerflow.Revision {
	return ledgerflow.Revision{
		Record: ledgerflow.Record{
			Key:       e.Key,
			Value:     e.Value,
			Version:   e.Version,
			UpdatedAt: e.CreatedAt,
		},
		Hash: e.RevisionHash,
	}
}
