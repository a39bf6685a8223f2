package redis_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/luno/jettison/jtest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/adaptertest"
	ledgerredis "github.com/luno/ledgerflow/adapters/redis"
)

func newClient(t *testing.T) redis.UniversalClient {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestRedisLedger(t *testing.T) {
	client := newClient(t)

	factory := func() ledgerflow.Ledger {
		// Clean the database before each test
		client.FlushDB(context.Background())
		return ledgerredis.New(client)
	}

	adaptertest.RunRecordStoreTest(t, factory)
}

func TestKeyLayout(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	store, err := ledgerredis.New(client).Open(ctx, ledgerflow.Address{Ledger: "contracts", Table: "c1"})
	jtest.RequireNil(t, err)

	_, err = store.Put(ctx, "c1.state", []byte(`{"count":0}`), ledgerflow.MustNotExist)
	jtest.RequireNil(t, err)

	n, err := client.LLen(ctx, "ledgerflow:contracts/c1:journal").Result()
	jtest.RequireNil(t, err)
	require.Equal(t, int64(1), n)

	seqs, err := client.LRange(ctx, "ledgerflow:contracts/c1:doc:c1.state", 0, -1).Result()
	jtest.RequireNil(t, err)
	require.Equal(t, []string{"1"}, seqs)
}

func TestOpenRequiresAddress(t *testing.T) {
	_, err := ledgerredis.New(newClient(t)).Open(context.Background(), ledgerflow.Address{Ledger: "contracts"})
	require.Error(t, err)
}

// contendedHook moves the journal tip right before every append so that no append can succeed.
type contendedHook struct {
	mr      *miniredis.Miniredis
	journal string
}

func (h contendedHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h contendedHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "evalsha" || cmd.Name() == "eval" {
			_, _ = h.mr.Push(h.journal, "{}")
		}

		return next(ctx, cmd)
	}
}

func (h contendedHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestPutJournalContended(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	client.AddHook(contendedHook{mr: mr, journal: "ledgerflow:contracts/c1:journal"})

	store, err := ledgerredis.New(client).Open(ctx, ledgerflow.Address{Ledger: "contracts", Table: "c1"})
	jtest.RequireNil(t, err)

	_, err = store.Put(ctx, "c1.data", []byte(`{}`), ledgerflow.MustNotExist)
	jtest.Require(t, ledgerredis.ErrJournalContended, err)
	require.False(t, errors.Is(err, ledgerflow.ErrVersionConflict))

	_, err = store.Get(ctx, "c1.data")
	jtest.Require(t, ledgerflow.ErrRecordNotFound, err)
}
