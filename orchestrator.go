package ledgerflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/luno/jettison/errors"
	"k8s.io/utils/clock"

	"github.com/luno/ledgerflow/internal/scratch"
)

// Mode selects how a deployed contract resolves its template when it is executed.
type Mode string

const (
	// ModeLedger deployments are executed with Execute which reads the template from the ledger bucket.
	ModeLedger Mode = "ledger"
	// ModeReference deployments additionally record a TemplateReference so that they can be executed with
	// ExecuteLookup which verifies the template against the hash recorded at deploy time.
	ModeReference Mode = "reference"
)

type DeployRequest struct {
	Addressing
	ContractID string          `json:"contractId"`
	Source     Location        `json:"contractSourceLocation"`
	Data       json.RawMessage `json:"contractData"`
	Mode       Mode            `json:"mode,omitempty"`
}

type ExecuteRequest struct {
	Addressing
	ContractID string          `json:"contractId"`
	Request    json.RawMessage `json:"requestPayload"`
}

type Response struct {
	Response json.RawMessage `json:"response"`

	// Version is the version of the state record that the invocation wrote.
	Version int64 `json:"-"`
}

// Orchestrator runs the contract lifecycle workflows. It holds no per contract state: every invocation
// re-reads what it needs and races between invocations are settled by the record store.
type Orchestrator struct {
	ledger    Ledger
	blobs     BlobProvider
	notifier  Notifier
	extractor Extractor
	loader    TemplateLoader
	engine    Engine

	defaults      Defaults
	clock         clock.Clock
	settleDelay   time.Duration
	notifyTimeout time.Duration
	scratchRoot   string
	logger        *logger
}

// NewOrchestrator returns an Orchestrator. The notifier may be nil in which case no notifications are sent.
func NewOrchestrator(
	ledger Ledger,
	blobs BlobProvider,
	notifier Notifier,
	extractor Extractor,
	loader TemplateLoader,
	engine Engine,
	opts ...Option,
) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Orchestrator{
		ledger:        ledger,
		blobs:         blobs,
		notifier:      notifier,
		extractor:     extractor,
		loader:        loader,
		engine:        engine,
		defaults:      o.defaults,
		clock:         o.clock,
		settleDelay:   o.settleDelay,
		notifyTimeout: o.notifyTimeout,
		scratchRoot:   o.scratchRoot,
		logger:        o.logger,
	}
}

// invoke records the outcome of a workflow and makes sure that a nil *Failure is returned as a nil error.
func invoke[T any](ctx context.Context, o *Orchestrator, wf Workflow, fn func() (T, *Failure)) (T, error) {
	start := o.clock.Now()
	res, f := fn()
	if f != nil {
		observeInvocation(wf, start, o.clock, f)
		o.logger.Error(ctx, f)

		var zero T
		return zero, f
	}

	observeInvocation(wf, start, o.clock, nil)
	return res, nil
}

func (o *Orchestrator) resolve(wf Workflow, contractID string, a Addressing) (Config, *Failure) {
	cfg, err := o.defaults.Resolve(contractID, a)
	if err != nil {
		return Config{}, fail(wf, KindInvalidInput, StageInputInvalid, err, "invalid contract addressing")
	}

	return cfg, nil
}

func (o *Orchestrator) open(ctx context.Context, wf Workflow, cfg Config, stage Stage) (RecordStore, *Failure) {
	store, err := o.ledger.Open(ctx, cfg.Address)
	if err != nil {
		return nil, fail(wf, KindPersistenceFailed, stage, err, "open ledger table %s/%s", cfg.Address.Ledger, cfg.Address.Table)
	}

	return store, nil
}

func (o *Orchestrator) newScratch(ctx context.Context, wf Workflow) (*scratch.Dir, func(), *Failure) {
	dir, err := scratch.New(o.scratchRoot)
	if err != nil {
		return nil, nil, fail(wf, KindExtractionFailed, StageExtractFailed, err, "create scratch directory")
	}

	cleanup := func() {
		err := dir.Remove()
		if err != nil {
			o.logger.Error(ctx, err)
		}
	}

	return dir, cleanup, nil
}

// fetchTemplate downloads the archive at loc into the scratch directory, extracts and loads it.
func (o *Orchestrator) fetchTemplate(ctx context.Context, wf Workflow, loc Location, dir *scratch.Dir) (Template, *Failure) {
	bucket, err := o.blobs.Bucket(ctx, loc.Bucket)
	if err != nil {
		return nil, fail(wf, KindTemplateNotFound, StageFetchFailed, err, "open bucket %s", loc.Bucket)
	}

	err = bucket.Download(ctx, loc.Path, dir.Archive)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, fail(wf, KindTemplateNotFound, StageFetchFailed, err, "template archive %s does not exist", loc)
	} else if err != nil {
		return nil, fail(wf, KindTemplateNotFound, StageFetchFailed, err, "download template archive %s", loc)
	}

	o.logger.Debug(ctx, "template archive fetched", MKV{"location": loc.String()})

	err = o.extractor.Extract(ctx, dir.Archive, dir.Contract)
	if err != nil {
		return nil, fail(wf, KindExtractionFailed, StageExtractFailed, err, "extract template archive %s", loc)
	}

	tmpl, err := o.loader.Load(ctx, dir.Contract)
	if err != nil {
		return nil, fail(wf, KindTemplateInvalid, StageLoadFailed, err, "load template %s", loc)
	}

	o.logger.Debug(ctx, "template loaded", MKV{
		"identifier": tmpl.Identifier(),
		"hash":       tmpl.Hash(),
	})

	return tmpl, nil
}

// readRecord reads a record that a workflow depends on. Missing records are reported with the provided kind.
func readRecord(ctx context.Context, wf Workflow, store RecordStore, key string, missing Kind, stage Stage) (*Record, *Failure) {
	r, err := store.Get(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, fail(wf, missing, stage, err, "record %s does not exist", key)
	} else if err != nil {
		return nil, fail(wf, KindPersistenceFailed, stage, err, "read record %s", key)
	}

	return r, nil
}

// createOnce creates the record and reports any existing record, including one created by a concurrent
// invocation between the read and the write, as AlreadyDeployed.
func createOnce(ctx context.Context, wf Workflow, store RecordStore, key string, value []byte) (int64, *Failure) {
	_, err := store.Get(ctx, key)
	if err == nil {
		return 0, fail(wf, KindAlreadyDeployed, StageAlreadyDeployed, nil, "record %s already exists", key)
	} else if !errors.Is(err, ErrRecordNotFound) {
		return 0, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "read record %s", key)
	}

	version, err := store.Put(ctx, key, value, MustNotExist)
	if errors.Is(err, ErrVersionConflict) {
		return 0, fail(wf, KindAlreadyDeployed, StageAlreadyDeployed, err, "record %s already exists", key)
	} else if err != nil {
		return 0, fail(wf, KindPersistenceFailed, StagePersistFailed, err, "create record %s", key)
	}

	return version, nil
}

// trigger validates the request and runs the contract logic against data and state.
func (o *Orchestrator) trigger(ctx context.Context, wf Workflow, tmpl Template, data, request, state []byte) (*Outcome, *Failure) {
	if len(request) == 0 || !json.Valid(request) {
		return nil, fail(wf, KindInvalidRequest, StageRequestInvalid, nil, "request payload is not valid JSON")
	}

	out, err := o.engine.Trigger(ctx, tmpl, data, request, state)
	if err != nil {
		return nil, fail(wf, KindEngineFailed, StageEngineFailed, err, "contract rejected the request")
	}

	return out, nil
}
