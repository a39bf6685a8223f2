package kafkastreamer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/adaptertest"
	"github.com/luno/ledgerflow/adapters/kafkastreamer"
)

type fakeWriter struct {
	mu     sync.Mutex
	errs   []error
	topics map[string][]kafka.Message
}

func newFakeWriter(errs ...error) *fakeWriter {
	return &fakeWriter{errs: errs, topics: make(map[string][]kafka.Message)}
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.errs) > 0 {
		err := w.errs[0]
		w.errs = w.errs[1:]
		return err
	}

	for _, msg := range msgs {
		w.topics[msg.Topic] = append(w.topics[msg.Topic], msg)
	}

	return nil
}

func (w *fakeWriter) messages(topic string) []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.topics[topic]
}

func TestNotifier(t *testing.T) {
	adaptertest.RunNotifierTest(t, func(t *testing.T) (ledgerflow.Notifier, adaptertest.Delivered) {
		w := newFakeWriter()
		return kafkastreamer.NewWithWriter(w), func(t *testing.T, queue string) [][]byte {
			var envelopes [][]byte
			for _, msg := range w.messages(queue) {
				envelopes = append(envelopes, msg.Value)
			}
			return envelopes
		}
	})
}

func TestSendRetriesWithoutLeader(t *testing.T) {
	ctx := context.Background()
	w := newFakeWriter(kafka.LeaderNotAvailable, kafka.LeaderNotAvailable)

	sink, err := kafkastreamer.NewWithWriter(w, kafkastreamer.WithRetryBackoff(time.Millisecond)).Sink(ctx, "events")
	jtest.RequireNil(t, err)

	err = sink.Send(ctx, []byte(`{"event":{}}`))
	jtest.RequireNil(t, err)

	msgs := w.messages("events")
	require.Len(t, msgs, 1)
	require.Equal(t, "content-type", msgs[0].Headers[0].Key)
}

func TestSendFails(t *testing.T) {
	ctx := context.Background()
	w := newFakeWriter(kafka.TopicAuthorizationFailed)

	sink, err := kafkastreamer.NewWithWriter(w).Sink(ctx, "events")
	jtest.RequireNil(t, err)

	err = sink.Send(ctx, []byte(`{"event":{}}`))
	jtest.Require(t, kafka.TopicAuthorizationFailed, err)
	require.Empty(t, w.messages("events"))
}

func TestSendStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink, err := kafkastreamer.NewWithWriter(newFakeWriter()).Sink(ctx, "events")
	jtest.RequireNil(t, err)

	err = sink.Send(ctx, []byte(`{}`))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSinkRequiresQueue(t *testing.T) {
	_, err := kafkastreamer.NewWithWriter(newFakeWriter()).Sink(context.Background(), "")
	require.Error(t, err)
}
