package wredis_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/luno/jettison/jtest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/adaptertest"
	"github.com/luno/ledgerflow/adapters/wredis"
)

func newClient(t *testing.T) redis.UniversalClient {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestRedisNotifier(t *testing.T) {
	client := newClient(t)

	adaptertest.RunNotifierTest(t, func(t *testing.T) (ledgerflow.Notifier, adaptertest.Delivered) {
		// Clean the database before each test
		err := client.FlushDB(context.Background()).Err()
		require.NoError(t, err)

		return wredis.New(client), func(t *testing.T, queue string) [][]byte {
			deliveries, err := wredis.Read(context.Background(), client, queue, "-", 100)
			jtest.RequireNil(t, err)

			var envelopes [][]byte
			for _, d := range deliveries {
				envelopes = append(envelopes, d.Envelope)
			}
			return envelopes
		}
	})
}

func TestReadAfter(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	sink, err := wredis.New(client).Sink(ctx, "events")
	jtest.RequireNil(t, err)

	for i := 0; i < 3; i++ {
		jtest.RequireNil(t, sink.Send(ctx, []byte(fmt.Sprintf(`{"event":%d}`, i))))
	}

	first, err := wredis.Read(ctx, client, "events", "-", 1)
	jtest.RequireNil(t, err)
	require.Len(t, first, 1)
	require.Equal(t, `{"event":0}`, string(first[0].Envelope))

	rest, err := wredis.Read(ctx, client, "events", first[0].StreamID, 10)
	jtest.RequireNil(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, `{"event":1}`, string(rest[0].Envelope))
	require.Less(t, first[0].ID, rest[0].ID)
}

func TestMaxLen(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	sink, err := wredis.New(client, wredis.WithMaxLen(10)).Sink(ctx, "events")
	jtest.RequireNil(t, err)
	jtest.RequireNil(t, sink.Send(ctx, []byte(`{}`)))

	n, err := client.XLen(ctx, wredis.StreamKey("events")).Result()
	jtest.RequireNil(t, err)
	require.Equal(t, int64(1), n)
}
