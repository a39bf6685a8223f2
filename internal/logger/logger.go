package logger

import (
	"context"
	"io"
	"log/slog"
)

type logger struct {
	log *slog.Logger
}

func (l logger) Debug(ctx context.Context, msg string, meta map[string]string) {
	l.log.DebugContext(ctx, msg, "meta", meta)
}

// retryable is implemented by workflow failures.
type retryable interface {
	Retryable() bool
}

func (l logger) Error(ctx context.Context, err error) {
	if r, ok := err.(retryable); ok {
		l.log.LogAttrs(ctx, slog.LevelError, err.Error(), slog.Bool("retryable", r.Retryable()))
		return
	}

	l.log.ErrorContext(ctx, err.Error())
}

// New returns a JSON logger tagged with the ledgerflow component. Debug lines are always written since they are
// already gated by the orchestrator's debug mode.
func New(w io.Writer) *logger {
	opts := slog.HandlerOptions{
		Level: slog.LevelDebug,
	}
	sl := slog.New(slog.NewJSONHandler(w, &opts)).With("component", "ledgerflow")
	return &logger{
		log: sl,
	}
}
