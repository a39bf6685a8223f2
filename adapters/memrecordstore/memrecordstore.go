package memrecordstore

import (
	"context"
	"sync"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/internal/journal"
)

// New constructs and returns an in-memory Ledger configured by the provided options. Every address opens the
// same table for the lifetime of the Ledger.
func New(opts ...Option) *Ledger {
	// Set option defaults
	opt := options{
		clock: clock.RealClock{},
	}

	// Set option overrides
	for _, o := range opts {
		o(&opt)
	}

	return &Ledger{
		clock:  opt.clock,
		tables: make(map[ledgerflow.Address]*Store),
	}
}

type options struct {
	clock clock.Clock
}

type Option func(o *options)

// WithClock returns an Option that sets the clock implementation used to timestamp revisions.
func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

var _ ledgerflow.Ledger = (*Ledger)(nil)

type Ledger struct {
	mu     sync.Mutex
	clock  clock.Clock
	tables map[ledgerflow.Address]*Store
}

func (l *Ledger) Open(ctx context.Context, addr ledgerflow.Address) (ledgerflow.RecordStore, error) {
	return l.Table(addr), nil
}

// Table returns the table at the address, creating it when it does not exist yet.
func (l *Ledger) Table(addr ledgerflow.Address) *Store {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.tables[addr]
	if !ok {
		s = &Store{
			addr:  addr,
			clock: l.clock,
			docs:  make(map[string][]int),
		}
		l.tables[addr] = s
	}

	return s
}

var _ ledgerflow.RecordStore = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	addr  ledgerflow.Address
	clock clock.Clock

	// docs holds the journal index of every revision of a document.
	docs    map[string][]int
	journal []journal.Entry
}

func (s *Store) Get(ctx context.Context, key string) (*ledgerflow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.latest(key)
	if !ok {
		return nil, ledgerflow.ErrRecordNotFound
	}

	r := toRevision(e)
	return &r.Record, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if e, ok := s.latest(key); ok {
		current = e.Version
	}

	err := ledgerflow.CheckVersion(key, current, expected)
	if err != nil {
		return 0, err
	}

	var tip journal.Tip
	if n := len(s.journal); n > 0 {
		tip = s.journal[n-1].Tip()
	}

	e, err := journal.Next(tip, key, current+1, copyBytes(value), s.clock.Now())
	if err != nil {
		return 0, err
	}

	s.journal = append(s.journal, e)
	s.docs[key] = append(s.docs[key], len(s.journal)-1)

	return e.Version, nil
}

func (s *Store) Proof(ctx context.Context, key string) (*ledgerflow.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.latest(key)
	if !ok {
		return nil, ledgerflow.ErrRecordNotFound
	}

	var previous string
	if e.Sequence > 1 {
		previous = s.journal[e.Sequence-2].ChainHash
	}

	md := journal.Describe(s.addr, previous, e, s.journal[e.Sequence:])
	return &md, nil
}

func (s *Store) History(ctx context.Context, key string) ([]ledgerflow.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idxs, ok := s.docs[key]
	if !ok {
		return nil, ledgerflow.ErrRecordNotFound
	}

	revs := make([]ledgerflow.Revision, 0, len(idxs))
	for _, idx := range idxs {
		revs = append(revs, toRevision(s.journal[idx]))
	}

	return revs, nil
}

func (s *Store) Revision(ctx context.Context, key string, version int64) (*ledgerflow.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idxs := s.docs[key]
	if version < 1 || version > int64(len(idxs)) {
		return nil, errors.Wrap(ledgerflow.ErrRecordNotFound, "", j.MKV{"key": key, "version": version})
	}

	r := toRevision(s.journal[idxs[version-1]])
	return &r, nil
}

func (s *Store) Verify(ctx context.Context, md ledgerflow.Metadata) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to := journal.RangeStart(md.BlockAddress.SequenceNo), md.Digest.SequenceNo
	if from < 1 || to > int64(len(s.journal)) || to < from {
		return false, nil
	}

	return journal.VerifyRange(md, s.addr, s.journal[from-1:to]), nil
}

func (s *Store) latest(key string) (journal.Entry, bool) {
	idxs := s.docs[key]
	if len(idxs) == 0 {
		return journal.Entry{}, false
	}

	return s.journal[idxs[len(idxs)-1]], true
}

func toRevision(e journal.Entry) ledgerflow.Revision {
	return ledgerflow.Revision{
		Record: ledgerflow.Record{
			Key:       e.Key,
			Value:     copyBytes(e.Value),
			Version:   e.Version,
			UpdatedAt: e.CreatedAt,
		},
		Hash: e.RevisionHash,
	}
}

func copyBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
