package adaptertest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
)

// Delivered returns the envelopes a notifier delivered to a queue in the order they were sent.
type Delivered func(t *testing.T, queue string) [][]byte

// RunNotifierTest runs the conformance suite every Notifier implementation must pass.
func RunNotifierTest(t *testing.T, factory func(t *testing.T) (ledgerflow.Notifier, Delivered)) {
	tests := []func(t *testing.T, notifier ledgerflow.Notifier, delivered Delivered){
		testSend,
		testQueuesAreIsolated,
	}

	for _, test := range tests {
		notifier, delivered := factory(t)
		test(t, notifier, delivered)
	}
}

func testSend(t *testing.T, notifier ledgerflow.Notifier, delivered Delivered) {
	t.Run("Send", func(t *testing.T) {
		ctx := context.Background()

		sink, err := notifier.Sink(ctx, "events")
		jtest.RequireNil(t, err)

		for i := 0; i < 3; i++ {
			n := ledgerflow.Notification{Event: json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i))}
			b, err := json.Marshal(n)
			jtest.RequireNil(t, err)

			err = sink.Send(ctx, b)
			jtest.RequireNil(t, err)
		}

		got := delivered(t, "events")
		require.Len(t, got, 3)

		for i, b := range got {
			var n ledgerflow.Notification
			err := json.Unmarshal(b, &n)
			jtest.RequireNil(t, err)
			require.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), string(n.Event))
			require.Nil(t, n.LedgerMetadata)
		}
	})
}

func testQueuesAreIsolated(t *testing.T, notifier ledgerflow.Notifier, delivered Delivered) {
	t.Run("Queues are isolated", func(t *testing.T) {
		ctx := context.Background()

		sink, err := notifier.Sink(ctx, "events-a")
		jtest.RequireNil(t, err)

		err = sink.Send(ctx, []byte(`{"event":{"to":"a"}}`))
		jtest.RequireNil(t, err)

		require.Len(t, delivered(t, "events-a"), 1)
		require.Empty(t, delivered(t, "events-b"))
	})
}
