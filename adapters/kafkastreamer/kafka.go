// Package kafkastreamer delivers notifications to Kafka. Every queue is a topic.
package kafkastreamer

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/segmentio/kafka-go"
	"k8s.io/utils/clock"

	"github.com/luno/ledgerflow"
)

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Option func(n *Notifier)

// WithRetryBackoff sets how long a send waits before retrying while the topic has no leader.
func WithRetryBackoff(d time.Duration) Option {
	return func(n *Notifier) {
		n.backoff = d
	}
}

func WithClock(c clock.Clock) Option {
	return func(n *Notifier) {
		n.clock = c
	}
}

// New returns a Notifier writing to the brokers. Topics are created on first use when the cluster allows it.
func New(brokers []string, opts ...Option) *Notifier {
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, opts...)
}

func NewWithWriter(w MessageWriter, opts ...Option) *Notifier {
	n := &Notifier{
		writer:  w,
		backoff: time.Millisecond * 100,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(n)
	}

	return n
}

var _ ledgerflow.Notifier = (*Notifier)(nil)

type Notifier struct {
	writer  MessageWriter
	backoff time.Duration
	clock   clock.Clock
}

func (n *Notifier) Sink(ctx context.Context, queue string) (ledgerflow.NotificationSink, error) {
	if queue == "" {
		return nil, errors.New("queue is required")
	}

	return &Sink{
		topic:   queue,
		writer:  n.writer,
		backoff: n.backoff,
		clock:   n.clock,
	}, nil
}

// Close closes the underlying writer when it supports closing.
func (n *Notifier) Close() error {
	c, ok := n.writer.(interface{ Close() error })
	if !ok {
		return nil
	}

	return c.Close()
}

type Sink struct {
	topic   string
	writer  MessageWriter
	backoff time.Duration
	clock   clock.Clock
}

var _ ledgerflow.NotificationSink = (*Sink)(nil)

func (s *Sink) Send(ctx context.Context, envelope []byte) error {
	msg := kafka.Message{
		Topic: s.topic,
		Value: envelope,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}

	for ctx.Err() == nil {
		err := s.writer.WriteMessages(ctx, msg)
		if errors.Is(err, kafka.LeaderNotAvailable) {
			select {
			case <-ctx.Done():
			case <-s.clock.After(s.backoff):
			}
			continue
		} else if err != nil {
			return errors.Wrap(err, "write notification", j.KV("topic", s.topic))
		}

		return nil
	}

	return ctx.Err()
}
