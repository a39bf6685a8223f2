package memrecordstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"
	clock_testing "k8s.io/utils/clock/testing"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/adaptertest"
	"github.com/luno/ledgerflow/adapters/memrecordstore"
)

func TestStore(t *testing.T) {
	adaptertest.RunRecordStoreTest(t, func() ledgerflow.Ledger {
		return memrecordstore.New()
	})
}

func TestWithClock(t *testing.T) {
	now := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	clock := clock_testing.NewFakeClock(now)

	ledger := memrecordstore.New(memrecordstore.WithClock(clock))
	store := ledger.Table(ledgerflow.Address{Ledger: "contracts", Table: "c1"})

	ctx := context.Background()
	_, err := store.Put(ctx, "c1.data", []byte(`{}`), ledgerflow.MustNotExist)
	jtest.RequireNil(t, err)

	r, err := store.Get(ctx, "c1.data")
	jtest.RequireNil(t, err)
	require.Equal(t, now, r.UpdatedAt)
}

func TestReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := memrecordstore.New().Table(ledgerflow.Address{Ledger: "contracts", Table: "c1"})

	value := []byte(`{"a":1}`)
	_, err := store.Put(ctx, "k", value, ledgerflow.MustNotExist)
	jtest.RequireNil(t, err)
	value[2] = 'b'

	r, err := store.Get(ctx, "k")
	jtest.RequireNil(t, err)
	r.Value[2] = 'c'

	again, err := store.Get(ctx, "k")
	jtest.RequireNil(t, err)
	require.Equal(t, `{"a":1}`, string(again.Value))
}
