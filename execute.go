package ledgerflow

import (
	"context"
	"strconv"
)

// Execute triggers a contract whose template is read from the ledger bucket under the template key. State and
// result are overwritten without a version check.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (*Response, error) {
	return invoke(ctx, o, WorkflowExecute, func() (*Response, *Failure) {
		return o.execute(ctx, req)
	})
}

func (o *Orchestrator) execute(ctx context.Context, req ExecuteRequest) (*Response, *Failure) {
	const wf = WorkflowExecute

	cfg, f := o.resolve(wf, req.ContractID, req.Addressing)
	if f != nil {
		return nil, f
	}

	if cfg.LedgerBucket == "" {
		return nil, fail(wf, KindInvalidInput, StageInputInvalid, nil, "ledger bucket is not configured")
	}

	dir, cleanup, f := o.newScratch(ctx, wf)
	if f != nil {
		return nil, f
	}
	defer cleanup()

	keys := cfg.Keys
	tmpl, f := o.fetchTemplate(ctx, wf, Location{Bucket: cfg.LedgerBucket, Path: cfg.TemplateBlob()}, dir)
	if f != nil {
		return nil, f
	}

	store, f := o.open(ctx, wf, cfg, StageDataMissing)
	if f != nil {
		return nil, f
	}

	data, f := readRecord(ctx, wf, store, keys.Data, KindContractNotDeployed, StageDataMissing)
	if f != nil {
		return nil, f
	}

	state, f := readRecord(ctx, wf, store, keys.State, KindStateMissing, StageStateMissing)
	if f != nil {
		return nil, f
	}

	out, f := o.trigger(ctx, wf, tmpl, data.Value, req.Request, state.Value)
	if f != nil {
		return nil, f
	}

	version, err := store.Put(ctx, keys.State, rawOrNull(out.State), AnyVersion)
	if err != nil {
		return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "write record %s", keys.State)
	}

	result, err := marshalOutcome(out)
	if err != nil {
		return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "marshal result")
	}

	_, err = store.Put(ctx, keys.Result, result, AnyVersion)
	if err != nil {
		return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "write record %s", keys.Result)
	}

	o.logger.Debug(ctx, "contract executed", MKV{
		"contract_id": cfg.ContractID,
		"template":    tmpl.Identifier(),
		"version":     strconv.FormatInt(version, 10),
	})

	o.notify(ctx, wf, cfg, store, out, false)

	return &Response{Response: rawOrNull(out.Response), Version: version}, nil
}
