package ledgerflow

import (
	"os"
	"time"

	"k8s.io/utils/clock"

	internal_logger "github.com/luno/ledgerflow/internal/logger"
)

const (
	defaultSettleDelay   = 400 * time.Millisecond
	defaultNotifyTimeout = 3 * time.Second
	// notifyGrace is added to the notify timeout to bound how long a workflow waits on its dispatch.
	notifyGrace = 500 * time.Millisecond
)

type options struct {
	defaults      Defaults
	clock         clock.Clock
	settleDelay   time.Duration
	notifyTimeout time.Duration
	scratchRoot   string
	logger        *logger
}

func defaultOptions() options {
	return options{
		clock:         clock.RealClock{},
		settleDelay:   defaultSettleDelay,
		notifyTimeout: defaultNotifyTimeout,
		scratchRoot:   os.TempDir(),
		logger: &logger{
			inner: internal_logger.New(os.Stdout),
		},
	}
}

type Option func(o *options)

// WithDefaults sets the process wide configuration that every invocation is resolved against.
func WithDefaults(d Defaults) Option {
	return func(o *options) {
		o.defaults = d
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithSettleDelay sets how long the lookup execution waits after writing the result before it asks the
// ledger for the metadata it attaches to notifications.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) {
		o.settleDelay = d
	}
}

// WithNotifyTimeout bounds every single notification send.
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.notifyTimeout = d
	}
}

// WithScratchRoot sets the directory under which every invocation creates its own scratch directory.
func WithScratchRoot(dir string) Option {
	return func(o *options) {
		o.scratchRoot = dir
	}
}

func WithLogger(l Logger) Option {
	return func(o *options) {
		o.logger.inner = l
	}
}

// WithDebugMode enables debug logging of every workflow step.
func WithDebugMode() Option {
	return func(o *options) {
		o.logger.debugMode = true
	}
}
