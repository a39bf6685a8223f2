// Package wredis delivers notifications to Redis streams. Every queue is a stream and every envelope one entry
// holding the envelope under the "envelope" field.
package wredis

import (
	"context"
	"strconv"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/redis/go-redis/v9"

	"github.com/luno/ledgerflow"
)

const (
	streamKeyPrefix = "ledgerflow:events:"
	envelopeField   = "envelope"
)

type Option func(n *Notifier)

// WithMaxLen trims every stream to approximately n entries on each send.
func WithMaxLen(n int64) Option {
	return func(s *Notifier) {
		s.maxLen = n
	}
}

type Notifier struct {
	client redis.UniversalClient
	maxLen int64
}

func New(client redis.UniversalClient, opts ...Option) *Notifier {
	n := &Notifier{client: client}
	for _, opt := range opts {
		opt(n)
	}

	return n
}

var _ ledgerflow.Notifier = (*Notifier)(nil)

func (n *Notifier) Sink(ctx context.Context, queue string) (ledgerflow.NotificationSink, error) {
	if queue == "" {
		return nil, errors.New("queue is required")
	}

	return &Sink{
		client: n.client,
		stream: StreamKey(queue),
		maxLen: n.maxLen,
	}, nil
}

// StreamKey is the key of the stream backing the queue.
func StreamKey(queue string) string {
	return streamKeyPrefix + queue
}

type Sink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

var _ ledgerflow.NotificationSink = (*Sink)(nil)

func (s *Sink) Send(ctx context.Context, envelope []byte) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			envelopeField: string(envelope),
		},
	}

	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	err := s.client.XAdd(ctx, args).Err()
	if err != nil {
		return errors.Wrap(err, "xadd notification", j.KV("stream", s.stream))
	}

	return nil
}

// Delivery is an envelope read back from a queue.
type Delivery struct {
	// ID orders deliveries within a queue. It is derived from the stream entry id.
	ID       int64
	StreamID string
	Envelope []byte
}

// Read returns up to count deliveries of the queue that follow the stream id after. Use "-" to read from the
// start of the stream.
func Read(ctx context.Context, client redis.UniversalClient, queue, after string, count int64) ([]Delivery, error) {
	start := after
	if after != "-" {
		start = "(" + after
	}

	msgs, err := client.XRangeN(ctx, StreamKey(queue), start, "+", count).Result()
	if err != nil {
		return nil, errors.Wrap(err, "xrange notifications", j.KV("queue", queue))
	}

	deliveries := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		d, err := parseDelivery(msg)
		if err != nil {
			return nil, err
		}

		deliveries = append(deliveries, d)
	}

	return deliveries, nil
}

func parseDelivery(msg redis.XMessage) (Delivery, error) {
	envelope, ok := msg.Values[envelopeField].(string)
	if !ok {
		return Delivery{}, errors.New("invalid envelope format", j.KV("stream_id", msg.ID))
	}

	id, err := parseStreamID(msg.ID)
	if err != nil {
		return Delivery{}, err
	}

	return Delivery{
		ID:       id,
		StreamID: msg.ID,
		Envelope: []byte(envelope),
	}, nil
}

// parseStreamID converts a stream entry id (timestamp-sequence) to timestamp*1_000_000 + sequence.
func parseStreamID(streamID string) (int64, error) {
	if streamID == "" {
		return 0, errors.New("empty stream ID")
	}

	timestampStr, sequenceStr, ok := strings.Cut(streamID, "-")
	if !ok || strings.Contains(sequenceStr, "-") {
		return 0, errors.New("invalid stream ID format", j.KV("stream_id", streamID))
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "invalid timestamp in stream ID", j.KV("stream_id", streamID))
	}

	sequence, err := strconv.ParseInt(sequenceStr, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "invalid sequence in stream ID", j.KV("stream_id", streamID))
	}

	// The combined id must fit in an int64.
	const maxTimestamp = 9223372036854
	if timestamp > maxTimestamp {
		return 0, errors.New("timestamp too large in stream ID", j.KV("stream_id", streamID))
	}

	if sequence < 0 || sequence >= 1000000 {
		return 0, errors.New("sequence out of range in stream ID", j.KV("stream_id", streamID))
	}

	return timestamp*1000000 + sequence, nil
}
