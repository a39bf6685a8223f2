package memstreamer

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/luno/ledgerflow"
)

func New(opts ...Option) *Notifier {
	opt := options{
		clock: clock.RealClock{},
	}

	for _, option := range opts {
		option(&opt)
	}

	return &Notifier{
		opts:   &opt,
		queues: make(map[string][]Message),
	}
}

type options struct {
	clock    clock.Clock
	sendFunc func(ctx context.Context, queue string, envelope []byte) error
	sinkErr  error
}

type Option func(o *options)

func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithSend is called before every delivery. A returned error fails the send and the envelope is not
// delivered. The function may block to simulate a slow queue, in which case it should respect ctx.
func WithSend(sendFunc func(ctx context.Context, queue string, envelope []byte) error) Option {
	return func(o *options) {
		o.sendFunc = sendFunc
	}
}

// WithSinkError makes every call to Sink fail with err.
func WithSinkError(err error) Option {
	return func(o *options) {
		o.sinkErr = err
	}
}

// Message is a delivered envelope.
type Message struct {
	Envelope []byte
	SentAt   time.Time
}

type Notifier struct {
	opts *options

	mu     sync.Mutex
	queues map[string][]Message
}

var _ ledgerflow.Notifier = (*Notifier)(nil)

func (n *Notifier) Sink(ctx context.Context, queue string) (ledgerflow.NotificationSink, error) {
	if n.opts.sinkErr != nil {
		return nil, n.opts.sinkErr
	}

	return &Sink{
		notifier: n,
		queue:    queue,
	}, nil
}

// Messages returns the envelopes delivered to the queue in the order they were sent.
func (n *Notifier) Messages(queue string) []Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]Message(nil), n.queues[queue]...)
}

// Envelopes returns the raw envelopes delivered to the queue in the order they were sent.
func (n *Notifier) Envelopes(queue string) [][]byte {
	var envelopes [][]byte
	for _, m := range n.Messages(queue) {
		envelopes = append(envelopes, m.Envelope)
	}

	return envelopes
}

type Sink struct {
	notifier *Notifier
	queue    string
}

func (s *Sink) Send(ctx context.Context, envelope []byte) error {
	if fn := s.notifier.opts.sendFunc; fn != nil {
		err := fn(ctx, s.queue, envelope)
		if err != nil {
			return err
		}
	}

	s.notifier.mu.Lock()
	defer s.notifier.mu.Unlock()

	s.notifier.queues[s.queue] = append(s.notifier.queues[s.queue], Message{
		Envelope: append([]byte(nil), envelope...),
		SentAt:   s.notifier.opts.clock.Now(),
	})

	return nil
}

var _ ledgerflow.NotificationSink = (*Sink)(nil)
