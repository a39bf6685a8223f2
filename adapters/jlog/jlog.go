// Package jlog logs through github.com/luno/jettison/log.
package jlog

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/ledgerflow"
)

func New() *logger {
	return &logger{}
}

type logger struct{}

func (l logger) Debug(ctx context.Context, msg string, meta ledgerflow.MKV) {
	log.Debug(ctx, msg, j.MKS(meta))
}

// Error logs err. Workflow failures are logged with their message and carry their workflow, kind and stage
// as key values.
func (l logger) Error(ctx context.Context, err error) {
	f, ok := err.(*ledgerflow.Failure)
	if !ok {
		log.Error(ctx, errors.Wrap(err, ""))
		return
	}

	log.Error(ctx, errors.Wrap(err, f.Message, j.MKV{
		"workflow": string(f.Workflow),
		"kind":     string(f.Kind),
		"stage":    string(f.Stage),
	}))
}

var _ ledgerflow.Logger = (*logger)(nil)
