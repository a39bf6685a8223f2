package redis

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/internal/journal"
)

const (
	keyPrefix = "ledgerflow:"
	// maxAttempts bounds how often a Put is retried when writes to other documents of the table keep moving
	// the journal tip.
	maxAttempts = 32
)

// ErrJournalContended is returned when writes to other documents of the table kept moving the journal tip
// for every attempt of a Put. The document itself did not move.
var ErrJournalContended = errors.New("journal is contended", j.C("ERR_5a9d3f7b1e0c2864"))

type Option func(l *Ledger)

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// New returns a Ledger keeping every table in the Redis instance. Each table is an append only journal list
// plus one list per document holding the journal sequences of its revisions.
func New(client redis.UniversalClient, opts ...Option) *Ledger {
	l := &Ledger{
		client: client,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

type Ledger struct {
	client redis.UniversalClient
	clock  clock.Clock
}

var _ ledgerflow.Ledger = (*Ledger)(nil)

func (l *Ledger) Open(ctx context.Context, addr ledgerflow.Address) (ledgerflow.RecordStore, error) {
	if addr.Ledger == "" || addr.Table == "" {
		return nil, errors.New("ledger and table are required")
	}

	return &Store{
		client: l.client,
		clock:  l.clock,
		addr:   addr,
		prefix: keyPrefix + journal.StrandID(addr) + ":",
	}, nil
}

// appendScript appends the entry when neither the journal nor the document moved since they were read.
var appendScript = redis.NewScript(`
	local journal_key = KEYS[1]
	local doc_key = KEYS[2]

	local tip = tonumber(ARGV[1])
	local version = tonumber(ARGV[2])
	local entry = ARGV[3]

	if redis.call('LLEN', journal_key) ~= tip then
		return 0
	end

	if redis.call('LLEN', doc_key) ~= version then
		return 0
	end

	local seq = redis.call('RPUSH', journal_key, entry)
	redis.call('RPUSH', doc_key, seq)

	return 1
`)

type Store struct {
	client redis.UniversalClient
	clock  clock.Clock
	addr   ledgerflow.Address
	prefix string
}

var _ ledgerflow.RecordStore = (*Store)(nil)

func (s *Store) journalKey() string {
	return s.prefix + "journal"
}

func (s *Store) docKey(key string) string {
	return s.prefix + "doc:" + key
}

func (s *Store) Get(ctx context.Context, key string) (*ledgerflow.Record, error) {
	e, err := s.latest(ctx, key)
	if err != nil {
		return nil, err
	}

	r := toRevision(e)
	return &r.Record, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var (
			docLen *redis.IntCmd
			last   *redis.StringCmd
		)
		_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			docLen = p.LLen(ctx, s.docKey(key))
			last = p.LIndex(ctx, s.journalKey(), -1)
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return 0, errors.Wrap(err, "read journal tip", j.KV("key", key))
		}

		current := docLen.Val()
		err = ledgerflow.CheckVersion(key, current, expected)
		if err != nil {
			return 0, err
		}

		var tip journal.Tip
		if b, err := last.Bytes(); err == nil {
			var e journal.Entry
			err := json.Unmarshal(b, &e)
			if err != nil {
				return 0, errors.Wrap(err, "decode journal tip")
			}

			tip = e.Tip()
		} else if !errors.Is(err, redis.Nil) {
			return 0, errors.Wrap(err, "read journal tip", j.KV("key", key))
		}

		e, err := journal.Next(tip, key, current+1, value, s.clock.Now())
		if err != nil {
			return 0, err
		}

		b, err := json.Marshal(e)
		if err != nil {
			return 0, errors.Wrap(err, "encode journal entry", j.KV("key", key))
		}

		ok, err := appendScript.Run(ctx, s.client,
			[]string{s.journalKey(), s.docKey(key)},
			strconv.FormatInt(tip.Sequence, 10), strconv.FormatInt(current, 10), string(b)).Int()
		if err != nil {
			return 0, errors.Wrap(err, "append journal entry", j.KV("key", key))
		}

		if ok == 1 {
			return e.Version, nil
		}
	}

	return 0, errors.Wrap(ErrJournalContended, "", j.MKV{"key": key, "attempts": maxAttempts})
}

func (s *Store) Proof(ctx context.Context, key string) (*ledgerflow.Metadata, error) {
	e, err := s.latest(ctx, key)
	if err != nil {
		return nil, err
	}

	var previous string
	if e.Sequence > 1 {
		prev, err := s.entry(ctx, e.Sequence-1)
		if err != nil {
			return nil, err
		}

		previous = prev.ChainHash
	}

	later, err := s.entries(ctx, e.Sequence+1, -1)
	if err != nil {
		return nil, err
	}

	md := journal.Describe(s.addr, previous, e, later)
	return &md, nil
}

func (s *Store) History(ctx context.Context, key string) ([]ledgerflow.Revision, error) {
	seqs, err := s.client.LRange(ctx, s.docKey(key), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read document index", j.KV("key", key))
	}

	if len(seqs) == 0 {
		return nil, errors.Wrap(ledgerflow.ErrRecordNotFound, "", j.KV("key", key))
	}

	cmds, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, seq := range seqs {
			idx, err := strconv.ParseInt(seq, 10, 64)
			if err != nil {
				return errors.Wrap(err, "parse journal sequence", j.KV("key", key))
			}

			p.LIndex(ctx, s.journalKey(), idx-1)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "read document revisions", j.KV("key", key))
	}

	revs := make([]ledgerflow.Revision, 0, len(cmds))
	for _, cmd := range cmds {
		b, err := cmd.(*redis.StringCmd).Bytes()
		if err != nil {
			return nil, errors.Wrap(err, "read document revision", j.KV("key", key))
		}

		e, err := decode(b)
		if err != nil {
			return nil, err
		}

		revs = append(revs, toRevision(e))
	}

	return revs, nil
}

func (s *Store) Revision(ctx context.Context, key string, version int64) (*ledgerflow.Revision, error) {
	if version < 1 {
		return nil, errors.Wrap(ledgerflow.ErrRecordNotFound, "", j.MKV{"key": key, "version": version})
	}

	seq, err := s.client.LIndex(ctx, s.docKey(key), version-1).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(ledgerflow.ErrRecordNotFound, "", j.MKV{"key": key, "version": version})
	} else if err != nil {
		return nil, errors.Wrap(err, "read document index", j.KV("key", key))
	}

	e, err := s.entry(ctx, seq)
	if err != nil {
		return nil, err
	}

	r := toRevision(e)
	return &r, nil
}

func (s *Store) Verify(ctx context.Context, md ledgerflow.Metadata) (bool, error) {
	from, to := journal.RangeStart(md.BlockAddress.SequenceNo), md.Digest.SequenceNo
	if from < 1 || to < from {
		return false, nil
	}

	n, err := s.client.LLen(ctx, s.journalKey()).Result()
	if err != nil {
		return false, errors.Wrap(err, "read journal length")
	}

	if to > n {
		return false, nil
	}

	entries, err := s.entries(ctx, from, to)
	if err != nil {
		return false, err
	}

	return journal.VerifyRange(md, s.addr, entries), nil
}

func (s *Store) latest(ctx context.Context, key string) (journal.Entry, error) {
	seq, err := s.client.LIndex(ctx, s.docKey(key), -1).Int64()
	if errors.Is(err, redis.Nil) {
		return journal.Entry{}, errors.Wrap(ledgerflow.ErrRecordNotFound, "", j.KV("key", key))
	} else if err != nil {
		return journal.Entry{}, errors.Wrap(err, "read document index", j.KV("key", key))
	}

	return s.entry(ctx, seq)
}

func (s *Store) entry(ctx context.Context, seq int64) (journal.Entry, error) {
	b, err := s.client.LIndex(ctx, s.journalKey(), seq-1).Bytes()
	if err != nil {
		return journal.Entry{}, errors.Wrap(err, "read journal entry", j.KV("sequence", seq))
	}

	return decode(b)
}

// entries returns the journal entries from sequence from to sequence to inclusive. A to of -1 reads to the end.
func (s *Store) entries(ctx context.Context, from, to int64) ([]journal.Entry, error) {
	stop := to - 1
	if to < 0 {
		stop = -1
	}

	raw, err := s.client.LRange(ctx, s.journalKey(), from-1, stop).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read journal range", j.MKV{"from": from, "to": to})
	}

	entries := make([]journal.Entry, 0, len(raw))
	for _, b := range raw {
		e, err := decode([]byte(b))
		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	return entries, nil
}

func decode(b []byte) (journal.Entry, error) {
	var e journal.Entry
	err := json.Unmarshal(b, &e)
	if err != nil {
		return journal.Entry{}, errors.Wrap(err, "decode journal entry")
	}

	return e, nil
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
