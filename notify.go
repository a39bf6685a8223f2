package ledgerflow

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"golang.org/x/sync/errgroup"
)

// Notification is the envelope delivered to the events queue for every event a contract emits.
type Notification struct {
	Event          json.RawMessage `json:"event"`
	LedgerMetadata *Metadata       `json:"ledgerMetadata,omitempty"`
}

// notify delivers the emitted events of the outcome when an events queue is configured. Delivery runs as a
// detached task and the workflow only waits a bounded time for it to settle. Failures are logged and counted
// but never returned.
func (o *Orchestrator) notify(ctx context.Context, wf Workflow, cfg Config, store RecordStore, out *Outcome, settle bool) {
	if o.notifier == nil || cfg.EventsQueue == "" || len(out.Emit) == 0 {
		o.logger.Debug(ctx, "notification skipped", MKV{
			"contract_id": cfg.ContractID,
			"events":      strconv.Itoa(len(out.Emit)),
		})
		return
	}

	bound := o.notifyTimeout + notifyGrace
	if settle {
		bound += o.settleDelay
	}

	done := o.dispatch(context.WithoutCancel(ctx), wf, cfg, store, out.Emit, settle)

	select {
	case err := <-done:
		if err != nil {
			// Every failed send has already been logged.
			o.logger.Debug(ctx, "notification dispatch failed", MKV{"contract_id": cfg.ContractID, "error": err.Error()})
			return
		}

		o.logger.Debug(ctx, "notifications sent", MKV{
			"contract_id": cfg.ContractID,
			"queue":       cfg.EventsQueue,
			"events":      strconv.Itoa(len(out.Emit)),
		})
	case <-o.clock.After(bound):
		o.logger.Error(ctx, errors.New("notification dispatch did not settle in time",
			j.MKV{"contract_id": cfg.ContractID, "queue": cfg.EventsQueue}))
	case <-ctx.Done():
	}
}

// dispatch sends one notification per event concurrently. The returned channel receives the first send error,
// or nil, once every send returned.
func (o *Orchestrator) dispatch(ctx context.Context, wf Workflow, cfg Config, store RecordStore, events []json.RawMessage, settle bool) <-chan error {
	errc := make(chan error, 1)

	go func() {
		defer close(errc)

		if settle && o.settleDelay > 0 {
			<-o.clock.After(o.settleDelay)
		}

		md, err := store.Proof(ctx, cfg.Keys.Result)
		if err != nil {
			observeMetadataError(wf)
			o.logger.Error(ctx, errors.Wrap(err, "fetch ledger metadata for notification", j.KV("key", cfg.Keys.Result)))
			md = nil
		}

		sink, err := o.notifier.Sink(ctx, cfg.EventsQueue)
		if err != nil {
			for range events {
				observeNotification(wf, err)
			}

			err = errors.Wrap(err, "open notification sink", j.KV("queue", cfg.EventsQueue))
			o.logger.Error(ctx, err)
			errc <- err
			return
		}

		var eg errgroup.Group
		for _, event := range events {
			eg.Go(func() error {
				return o.send(ctx, wf, sink, Notification{Event: event, LedgerMetadata: md})
			})
		}

		errc <- eg.Wait()
	}()

	return errc
}

func (o *Orchestrator) send(ctx context.Context, wf Workflow, sink NotificationSink, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, o.notifyTimeout)
	defer cancel()

	b, err := Marshal(&n)
	if err == nil {
		err = sink.Send(ctx, b)
	}

	observeNotification(wf, err)
	if err != nil {
		o.logger.Error(ctx, errors.Wrap(err, "send notification"))
		return err
	}

	return nil
}
