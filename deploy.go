package ledgerflow

import (
	"context"
	"encoding/json"
	"strconv"
)

// Deploy initialises a contract from the template archive at the source location. The data record is created
// exactly once: any later Deploy of the same contract fails with AlreadyDeployed, even when an earlier attempt
// failed after creating it. Records created before a failure are not rolled back.
func (o *Orchestrator) Deploy(ctx context.Context, req DeployRequest) (*Response, error) {
	return invoke(ctx, o, WorkflowDeploy, func() (*Response, *Failure) {
		return o.deploy(ctx, req)
	})
}

func (o *Orchestrator) deploy(ctx context.Context, req DeployRequest) (*Response, *Failure) {
	const wf = WorkflowDeploy

	if len(req.Data) == 0 {
		return nil, fail(wf, KindInvalidInput, StageInputInvalid, nil, "contract data is required")
	} else if !json.Valid(req.Data) {
		return nil, fail(wf, KindInvalidInput, StageInputInvalid, nil, "contract data is not valid JSON")
	}

	cfg, f := o.resolve(wf, req.ContractID, req.Addressing)
	if f != nil {
		return nil, f
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeLedger
	}

	if mode != ModeLedger && mode != ModeReference {
		return nil, fail(wf, KindInvalidInput, StageInputInvalid, nil, "unknown deploy mode %q", mode)
	}

	source := req.Source
	if source.Bucket == "" {
		source.Bucket = cfg.SourceBucket
	}

	if source.Bucket == "" || source.Path == "" {
		return nil, fail(wf, KindInvalidInput, StageInputInvalid, nil, "contract source location is required")
	}

	if cfg.LedgerBucket == "" {
		return nil, fail(wf, KindInvalidInput, StageInputInvalid, nil, "ledger bucket is not configured")
	}

	dir, cleanup, f := o.newScratch(ctx, wf)
	if f != nil {
		return nil, f
	}
	defer cleanup()

	tmpl, f := o.fetchTemplate(ctx, wf, source, dir)
	if f != nil {
		return nil, f
	}

	if v, ok := tmpl.(DataValidator); ok {
		err := v.ValidateData(req.Data)
		if err != nil {
			return nil, fail(wf, KindInvalidInput, StageDataInvalid, err, "contract data does not match the template model")
		}
	}

	out, err := o.engine.Init(ctx, tmpl, req.Data)
	if err != nil {
		return nil, fail(wf, KindEngineFailed, StageEngineFailed, err, "contract initialisation failed")
	}

	store, f := o.open(ctx, wf, cfg, StagePersistFailed)
	if f != nil {
		return nil, f
	}

	keys := cfg.Keys
	_, f = createOnce(ctx, wf, store, keys.Data, req.Data)
	if f != nil {
		return nil, f
	}

	version, f := createOnce(ctx, wf, store, keys.State, rawOrNull(out.State))
	if f != nil {
		return nil, f
	}

	bucket, err := o.blobs.Bucket(ctx, cfg.LedgerBucket)
	if err != nil {
		return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "open bucket %s", cfg.LedgerBucket)
	}

	err = bucket.Upload(ctx, cfg.TemplateBlob(), dir.Archive, cfg.EncryptAtRest)
	if err != nil {
		return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "upload template archive %s", cfg.TemplateBlob())
	}

	if mode == ModeReference {
		ref, err := Marshal(&TemplateReference{S3Path: source.String(), Hash: tmpl.Hash()})
		if err != nil {
			return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "marshal template reference")
		}

		_, err = store.Put(ctx, keys.Template, ref, AnyVersion)
		if err != nil {
			return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "write template reference %s", keys.Template)
		}
	}

	result, err := marshalOutcome(out)
	if err != nil {
		return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "marshal result")
	}

	_, err = store.Put(ctx, keys.Result, result, MustNotExist)
	if err != nil {
		return nil, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "create record %s", keys.Result)
	}

	o.logger.Debug(ctx, "contract deployed", MKV{
		"contract_id": cfg.ContractID,
		"template":    tmpl.Identifier(),
		"mode":        string(mode),
		"version":     strconv.FormatInt(version, 10),
	})

	o.notify(ctx, wf, cfg, store, out, false)

	return &Response{Response: rawOrNull(out.Response), Version: version}, nil
}

func marshalOutcome(out *Outcome) ([]byte, error) {
	emit := out.Emit
	if emit == nil {
		emit = []json.RawMessage{}
	}

	return Marshal(&Outcome{
		State:    rawOrNull(out.State),
		Response: rawOrNull(out.Response),
		Emit:     emit,
	})
}
