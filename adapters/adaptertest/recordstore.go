package adaptertest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
)

var addr = ledgerflow.Address{Ledger: "contracts", Table: "c1"}

// RunRecordStoreTest runs the conformance suite every Ledger implementation must pass. The factory must return
// an empty ledger on every call.
func RunRecordStoreTest(t *testing.T, factory func() ledgerflow.Ledger) {
	tests := []func(t *testing.T, ledger ledgerflow.Ledger){
		testGetNotFound,
		testCreate,
		testMustNotExist,
		testExpectedVersion,
		testAnyVersion,
		testHistory,
		testRevision,
		testProofAndVerify,
		testTablesAreIsolated,
		testConcurrentPut,
	}

	for _, test := range tests {
		ledgerForTesting := factory()
		test(t, ledgerForTesting)
	}
}

func open(t *testing.T, ledger ledgerflow.Ledger, addr ledgerflow.Address) ledgerflow.RecordStore {
	store, err := ledger.Open(context.Background(), addr)
	jtest.RequireNil(t, err)
	return store
}

func testGetNotFound(t *testing.T, ledger ledgerflow.Ledger) {
	t.Run("Get not found", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, ledger, addr)

		_, err := store.Get(ctx, "c1.data")
		jtest.Require(t, ledgerflow.ErrRecordNotFound, err)

		_, err = store.Proof(ctx, "c1.data")
		jtest.Require(t, ledgerflow.ErrRecordNotFound, err)

		_, err = store.History(ctx, "c1.data")
		jtest.Require(t, ledgerflow.ErrRecordNotFound, err)

		_, err = store.Revision(ctx, "c1.data", 1)
		jtest.Require(t, ledgerflow.ErrRecordNotFound, err)
	})
}

func testCreate(t *testing.T, ledger ledgerflow.Ledger) {
	t.Run("Create", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, ledger, addr)

		version, err := store.Put(ctx, "c1.data", []byte(`{"amount":10}`), ledgerflow.MustNotExist)
		jtest.RequireNil(t, err)
		require.Equal(t, int64(1), version)

		r, err := store.Get(ctx, "c1.data")
		jtest.RequireNil(t, err)
		require.Equal(t, "c1.data", r.Key)
		require.Equal(t, int64(1), r.Version)
		require.JSONEq(t, `{"amount":10}`, string(r.Value))
		require.False(t, r.UpdatedAt.IsZero())
	})
}

func testMustNotExist(t *testing.T, ledger ledgerflow.Ledger) {
	t.Run("Must not exist", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, ledger, addr)

		_, err := store.Put(ctx, "c1.data", []byte(`{"amount":10}`), ledgerflow.MustNotExist)
		jtest.RequireNil(t, err)

		_, err = store.Put(ctx, "c1.data", []byte(`{"amount":20}`), ledgerflow.MustNotExist)
		jtest.Require(t, ledgerflow.ErrVersionConflict, err)

		r, err := store.Get(ctx, "c1.data")
		jtest.RequireNil(t, err)
		require.Equal(t, int64(1), r.Version)
		require.JSONEq(t, `{"amount":10}`, string(r.Value))
	})
}

func testExpectedVersion(t *testing.T, ledger ledgerflow.Ledger) {
	t.Run("Expected version", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, ledger, addr)

		_, err := store.Put(ctx, "c1.state", []byte(`{"count":0}`), 3)
		jtest.Require(t, ledgerflow.ErrRecordNotFound, err)

		_, err = store.Put(ctx, "c1.state", []byte(`{"count":0}`), ledgerflow.MustNotExist)
		jtest.RequireNil(t, err)

		version, err := store.Put(ctx, "c1.state", []byte(`{"count":1}`), 1)
		jtest.RequireNil(t, err)
		require.Equal(t, int64(2), version)

		_, err = store.Put(ctx, "c1.state", []byte(`{"count":99}`), 1)
		jtest.Require(t, ledgerflow.ErrVersionConflict, err)

		r, err := store.Get(ctx, "c1.state")
		jtest.RequireNil(t, err)
		require.Equal(t, int64(2), r.Version)
		require.JSONEq(t, `{"count":1}`, string(r.Value))
	})
}

func testAnyVersion(t *testing.T, ledger ledgerflow.Ledger) {
	t.Run("Any version", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, ledger, addr)

		version, err := store.Put(ctx, "c1.state", []byte(`{"count":0}`), ledgerflow.AnyVersion)
		jtest.RequireNil(t, err)
		require.Equal(t, int64(1), version)

		version, err = store.Put(ctx, "c1.state", []byte(`{"count":1}`), ledgerflow.AnyVersion)
		jtest.RequireNil(t, err)
		require.Equal(t, int64(2), version)
	})
}

func testHistory(t *testing.T, ledger ledgerflow.Ledger) {
	t.Run("History", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, ledger, addr)

		putRevisions(t, store, "c1.state", 3)
		_, err := store.Put(ctx, "c1.result", []byte(`{}`), ledgerflow.MustNotExist)
		jtest.RequireNil(t, err)

		revs, err := store.History(ctx, "c1.state")
		jtest.RequireNil(t, err)
		require.Len(t, revs, 3)

		for i, rev := range revs {
			require.Equal(t, "c1.state", rev.Key)
			require.Equal(t, int64(i+1), rev.Version)
			require.JSONEq(t, fmt.Sprintf(`{"count":%d}`, i), string(rev.Value))
			require.NotEmpty(t, rev.Hash)
		}
	})
}

func testRevision(t *testing.T, ledger ledgerflow.Ledger) {
	t.Run("Revision", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, ledger, addr)

		putRevisions(t, store, "c1.state", 3)

		rev, err := store.Revision(ctx, "c1.state", 2)
		jtest.RequireNil(t, err)
		require.Equal(t, int64(2), rev.Version)
		require.JSONEq(t, `{"count":1}`, string(rev.Value))

		_, err = store.Revision(ctx, "c1.state", 4)
		jtest.Require(t, ledgerflow.ErrRecordNotFound, err)
	})
}

func testProofAndVerify(t *testing.T, ledger ledgerflow.Ledger) {
	t.Run("Proof and verify", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, ledger, addr)

		putRevisions(t, store, "c1.state", 2)
		_, err := store.Put(ctx, "c1.result", []byte(`{"response":"ok"}`), ledgerflow.MustNotExist)
		jtest.RequireNil(t, err)

		md, err := store.Proof(ctx, "c1.state")
		jtest.RequireNil(t, err)
		require.Equal(t, addr.Ledger, md.LedgerName)
		require.Equal(t, addr.Table, md.TableName)
		require.Equal(t, "c1.state", md.DocumentKey)
		require.Equal(t, int64(2), md.Version)
		require.Equal(t, int64(2), md.BlockAddress.SequenceNo)
		require.Equal(t, int64(3), md.Digest.SequenceNo)
		require.Len(t, md.Proof, 1)

		ok, err := store.Verify(ctx, *md)
		jtest.RequireNil(t, err)
		require.True(t, ok)

		stripped := *md
		stripped.Proof = nil
		ok, err = store.Verify(ctx, stripped)
		jtest.RequireNil(t, err)
		require.True(t, ok)

		tampered := *md
		tampered.RevisionHash = md.Digest.Digest
		ok, err = store.Verify(ctx, tampered)
		jtest.RequireNil(t, err)
		require.False(t, ok)

		beyond := *md
		beyond.Digest.SequenceNo = 100
		ok, err = store.Verify(ctx, beyond)
		jtest.RequireNil(t, err)
		require.False(t, ok)
	})
}

func testTablesAreIsolated(t *testing.T, ledger ledgerflow.Ledger) {
	t.Run("Tables are isolated", func(t *testing.T) {
		ctx := context.Background()
		other := ledgerflow.Address{Ledger: addr.Ledger, Table: "c2"}

		a := open(t, ledger, addr)
		b := open(t, ledger, other)

		_, err := a.Put(ctx, "shared", []byte(`{"table":"c1"}`), ledgerflow.MustNotExist)
		jtest.RequireNil(t, err)

		_, err = b.Get(ctx, "shared")
		jtest.Require(t, ledgerflow.ErrRecordNotFound, err)

		version, err := b.Put(ctx, "shared", []byte(`{"table":"c2"}`), ledgerflow.MustNotExist)
		jtest.RequireNil(t, err)
		require.Equal(t, int64(1), version)

		md, err := b.Proof(ctx, "shared")
		jtest.RequireNil(t, err)
		require.Equal(t, int64(1), md.BlockAddress.SequenceNo)

		ok, err := a.Verify(ctx, *md)
		jtest.RequireNil(t, err)
		require.False(t, ok)
	})
}

func testConcurrentPut(t *testing.T, ledger ledgerflow.Ledger) {
	t.Run("Concurrent put", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, ledger, addr)

		_, err := store.Put(ctx, "c1.state", []byte(`{"count":0}`), ledgerflow.MustNotExist)
		jtest.RequireNil(t, err)

		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()

				_, err := store.Put(ctx, "c1.state", []byte(fmt.Sprintf(`{"count":%d}`, i+1)), 1)

				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					wins++
				} else if jtest.Assert(t, ledgerflow.ErrVersionConflict, err) {
					conflicts++
				}
			}(i)
		}
		wg.Wait()

		require.Equal(t, 1, wins)
		require.Equal(t, n-1, conflicts)

		r, err := store.Get(ctx, "c1.state")
		jtest.RequireNil(t, err)
		require.Equal(t, int64(2), r.Version)
	})
}

func putRevisions(t *testing.T, store ledgerflow.RecordStore, key string, n int) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := store.Put(ctx, key, []byte(fmt.Sprintf(`{"count":%d}`, i)), int64(i))
		jtest.RequireNil(t, err)
	}
}
