package ledgerflow_test

import (
	"context"
	"testing"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/memrecordstore"
)

func TestFaultyLedgerPut(t *testing.T) {
	ctx := context.Background()
	ledger := ledgerflow.NewFaultyLedger(memrecordstore.New())

	store, err := ledger.Open(ctx, ledgerflow.Address{Ledger: "contracts", Table: "c1"})
	jtest.RequireNil(t, err)

	errCrash := errors.New("crash")
	ledger.FailPut("c1.result", errCrash)

	_, err = store.Put(ctx, "c1.state", []byte(`{}`), ledgerflow.MustNotExist)
	jtest.RequireNil(t, err)

	_, err = store.Put(ctx, "c1.result", []byte(`{}`), ledgerflow.MustNotExist)
	jtest.Require(t, errCrash, err)

	_, err = store.Get(ctx, "c1.result")
	jtest.Require(t, ledgerflow.ErrRecordNotFound, err)

	ledger.Heal("c1.result")

	version, err := store.Put(ctx, "c1.result", []byte(`{}`), ledgerflow.MustNotExist)
	jtest.RequireNil(t, err)
	require.Equal(t, int64(1), version)
}

func TestFaultyLedgerOpen(t *testing.T) {
	ctx := context.Background()
	ledger := ledgerflow.NewFaultyLedger(memrecordstore.New())

	errDown := errors.New("ledger unavailable")
	ledger.FailOpen(errDown)

	_, err := ledger.Open(ctx, ledgerflow.Address{Ledger: "contracts", Table: "c1"})
	jtest.Require(t, errDown, err)

	ledger.FailOpen(nil)

	_, err = ledger.Open(ctx, ledgerflow.Address{Ledger: "contracts", Table: "c1"})
	jtest.RequireNil(t, err)
}
