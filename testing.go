package ledgerflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// RequireFailure fails the test unless err is a *Failure of the kind that stopped at the stage.
func RequireFailure(t testing.TB, err error, kind Kind, stage Stage) *Failure {
	t.Helper()

	var f *Failure
	require.True(t, errors.As(err, &f), "expected *Failure, got %v", err)
	require.Equal(t, kind, f.Kind, f.Error())
	require.Equal(t, stage, f.Stage, f.Error())

	return f
}

// FaultyLedger wraps a Ledger so that tests can make selected operations fail. It is used to simulate a
// crash between two writes of a workflow.
type FaultyLedger struct {
	Ledger

	mu        sync.Mutex
	openErr   error
	putFaults map[string]error
}

func NewFaultyLedger(l Ledger) *FaultyLedger {
	return &FaultyLedger{
		Ledger:    l,
		putFaults: make(map[string]error),
	}
}

// FailOpen makes every Open fail with err. A nil err heals it.
func (l *FaultyLedger) FailOpen(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.openErr = err
}

// FailPut makes every Put of the key fail with err, without writing, until Heal is called.
func (l *FaultyLedger) FailPut(key string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.putFaults[key] = err
}

func (l *FaultyLedger) Heal(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.putFaults, key)
}

func (l *FaultyLedger) Open(ctx context.Context, addr Address) (RecordStore, error) {
	l.mu.Lock()
	err := l.openErr
	l.mu.Unlock()

	if err != nil {
		return nil, err
	}

	store, err := l.Ledger.Open(ctx, addr)
	if err != nil {
		return nil, err
	}

	return &faultyStore{RecordStore: store, ledger: l}, nil
}

type faultyStore struct {
	RecordStore
	ledger *FaultyLedger
}

func (s *faultyStore) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	s.ledger.mu.Lock()
	err := s.ledger.putFaults[key]
	s.ledger.mu.Unlock()

	if err != nil {
		return 0, err
	}

	return s.RecordStore.Put(ctx, key, value, expected)
}
