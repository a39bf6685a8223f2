package ledgerflow

import (
	"context"
	"strconv"

	"github.com/luno/jettison/errors"
)

// ExecuteLookup triggers a contract that was deployed with ModeReference. The template is fetched from the
// location its TemplateReference points to and must match the hash recorded at deploy time before the contract
// logic runs. State and result are written with the version of the state that was read so that of two racing
// invocations exactly one succeeds and the other fails with ConcurrentModification.
func (o *Orchestrator) ExecuteLookup(ctx context.Context, req ExecuteRequest) (*Response, error) {
	return invoke(ctx, o, WorkflowRun, func() (*Response, *Failure) {
		return o.executeLookup(ctx, req)
	})
}

func (o *Orchestrator) executeLookup(ctx context.Context, req ExecuteRequest) (*Response, *Failure) {
	const wf = WorkflowRun

	cfg, f := o.resolve(wf, req.ContractID, req.Addressing)
	if f != nil {
		return nil, f
	}

	store, f := o.open(ctx, wf, cfg, StageReferenceMissing)
	if f != nil {
		return nil, f
	}

	keys := cfg.Keys
	refRecord, f := readRecord(ctx, wf, store, keys.Template, KindReferenceMissing, StageReferenceMissing)
	if f != nil {
		return nil, f
	}

	var ref TemplateReference
	err := Unmarshal(refRecord.Value, &ref)
	if err != nil || ref.S3Path == "" || ref.Hash == "" {
		return nil, fail(wf, KindReferenceMissing, StageReferenceMissing, err, "template reference %s is malformed", keys.Template)
	}

	o.logger.Debug(ctx, "template reference resolved", MKV{"contract_id": cfg.ContractID, "s3path": ref.S3Path})

	dir, cleanup, f := o.newScratch(ctx, wf)
	if f != nil {
		return nil, f
	}
	defer cleanup()

	tmpl, f := o.fetchTemplate(ctx, wf, ParseLocation(ref.S3Path, cfg.SourceBucket), dir)
	if f != nil {
		return nil, f
	}

	if tmpl.Hash() != ref.Hash {
		return nil, fail(wf, KindTemplateHashMismatch, StageHashMismatch, nil,
			"template hash %s does not match the deployed hash %s", tmpl.Hash(), ref.Hash)
	}

	data, f := readRecord(ctx, wf, store, keys.Data, KindContractNotDeployed, StageDataMissing)
	if f != nil {
		return nil, f
	}

	state, f := readRecord(ctx, wf, store, keys.State, KindStateMissing, StageStateMissing)
	if f != nil {
		return nil, f
	}

	v := state.Version
	f = checkPairing(ctx, wf, store, keys, v)
	if f != nil {
		return nil, f
	}

	out, f := o.trigger(ctx, wf, tmpl, data.Value, req.Request, state.Value)
	if f != nil {
		return nil, f
	}

	version, err := store.Put(ctx, keys.State, rawOrNull(out.State), v)
	if errors.Is(err, ErrVersionConflict) {
		return nil, fail(wf, KindConcurrentModification, StagePersistConflict, err,
			"state record %s moved from version %d", keys.State, v)
	} else if err != nil {
		return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "write record %s", keys.State)
	}

	result, err := marshalOutcome(out)
	if err != nil {
		return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "marshal result")
	}

	// The result is written with the same expected version as the state so both advance together.
	_, err = store.Put(ctx, keys.Result, result, v)
	if err != nil {
		return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err,
			"write record %s at version %d after writing state version %d", keys.Result, v, version)
	}

	o.logger.Debug(ctx, "contract executed", MKV{
		"contract_id": cfg.ContractID,
		"template":    tmpl.Identifier(),
		"version":     strconv.FormatInt(version, 10),
	})

	o.notify(ctx, wf, cfg, store, out, true)

	return &Response{Response: rawOrNull(out.Response), Version: version}, nil
}

// checkPairing makes sure the result record is at the same version as the state record. A mismatch means an
// earlier invocation failed between writing the two and the contract's state is unknown.
func checkPairing(ctx context.Context, wf Workflow, store RecordStore, keys Keys, stateVersion int64) *Failure {
	result, err := store.Get(ctx, keys.Result)
	if errors.Is(err, ErrRecordNotFound) {
		return fail(wf, KindPersistenceFailed, StagePersistFailed, err,
			"result record %s is missing for state version %d", keys.Result, stateVersion)
	} else if err != nil {
		return fail(wf, KindPersistenceFailed, StagePersistFailed, err, "read record %s", keys.Result)
	}

	if result.Version != stateVersion {
		return fail(wf, KindPersistenceFailed, StagePersistFailed, nil,
			"result record %s is at version %d but state record %s is at version %d",
			keys.Result, result.Version, keys.State, stateVersion)
	}

	return nil
}
