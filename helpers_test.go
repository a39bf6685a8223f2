package ledgerflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/fsblob"
	"github.com/luno/ledgerflow/adapters/memrecordstore"
	"github.com/luno/ledgerflow/adapters/memstreamer"
	"github.com/luno/ledgerflow/archive"
	"github.com/luno/ledgerflow/celengine"
	"github.com/luno/ledgerflow/internal/scratch"
	"github.com/luno/ledgerflow/template"
)

const (
	ledgerName   = "contracts"
	sourceBucket = "source"
	ledgerBucket = "ledger"
	eventsQueue  = "events"
	sourcePath   = "templates/counter.cta"
)

// counterTemplate counts up by the amount requested, refusing anything that is not positive.
var counterTemplate = map[string]string{
	"package.json": `{"name": "counter", "version": "1.0.0"}`,
	"schema.json": `{
		"type": "object",
		"required": ["owner"],
		"properties": {"owner": {"type": "string"}}
	}`,
	"logic/init.cel": `{
		"state": {"count": 0.0, "owner": data.owner},
		"response": {"deployed": true},
		"emit": [{"type": "deployed", "owner": data.owner}]
	}`,
	"logic/trigger.cel": `request.by > 0.0
		? dyn({
			"state": {"count": state.count + request.by, "owner": state.owner},
			"response": {"count": state.count + request.by},
			"emit": [{"type": "counted", "count": state.count + request.by}]
		})
		: dyn({"error": "by must be positive"})`,
}

const contractData = `{"owner": "alice"}`

type harness struct {
	o        *ledgerflow.Orchestrator
	ledger   *ledgerflow.FaultyLedger
	blobs    *fsblob.Provider
	notifier *memstreamer.Notifier
	engine   *countingEngine
	logs     *testLogger
	scratch  string
}

type harnessOptions struct {
	notifier *memstreamer.Notifier
	wrap     func(e ledgerflow.Engine) ledgerflow.Engine
	opts     []ledgerflow.Option
}

type harnessOption func(o *harnessOptions)

func withNotifier(n *memstreamer.Notifier) harnessOption {
	return func(o *harnessOptions) {
		o.notifier = n
	}
}

func withEngine(wrap func(e ledgerflow.Engine) ledgerflow.Engine) harnessOption {
	return func(o *harnessOptions) {
		o.wrap = wrap
	}
}

func withOptions(opts ...ledgerflow.Option) harnessOption {
	return func(o *harnessOptions) {
		o.opts = append(o.opts, opts...)
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	ho := harnessOptions{notifier: memstreamer.New()}
	for _, opt := range opts {
		opt(&ho)
	}

	cel, err := celengine.New()
	jtest.RequireNil(t, err)

	var engine ledgerflow.Engine = cel
	if ho.wrap != nil {
		engine = ho.wrap(engine)
	}
	counting := &countingEngine{Engine: engine}

	h := &harness{
		ledger:   ledgerflow.NewFaultyLedger(memrecordstore.New()),
		blobs:    fsblob.New(t.TempDir()),
		notifier: ho.notifier,
		engine:   counting,
		logs:     &testLogger{},
		scratch:  t.TempDir(),
	}

	options := []ledgerflow.Option{
		ledgerflow.WithDefaults(ledgerflow.Defaults{
			LedgerName:   ledgerName,
			SourceBucket: sourceBucket,
			LedgerBucket: ledgerBucket,
		}),
		ledgerflow.WithScratchRoot(h.scratch),
		ledgerflow.WithSettleDelay(0),
		ledgerflow.WithLogger(h.logs),
	}

	h.o = ledgerflow.NewOrchestrator(
		h.ledger,
		h.blobs,
		h.notifier,
		archive.NewExtractor(),
		template.NewLoader(),
		counting,
		append(options, ho.opts...)...,
	)

	h.uploadTemplate(t, sourceBucket, sourcePath, counterTemplate)

	t.Cleanup(func() {
		h.requireNoScratch(t)
	})

	return h
}

// uploadTemplate zips the files and uploads the archive to the bucket.
func (h *harness) uploadTemplate(t *testing.T, bucket, key string, files map[string]string) {
	t.Helper()

	src := t.TempDir()
	for name, content := range files {
		path := filepath.Join(src, filepath.FromSlash(name))
		require.Nil(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.Nil(t, os.WriteFile(path, []byte(content), 0o600))
	}

	path := filepath.Join(t.TempDir(), "upload.cta")
	jtest.RequireNil(t, archive.Create(path, src))

	h.uploadFile(t, bucket, key, path)
}

func (h *harness) uploadFile(t *testing.T, bucket, key, path string) {
	t.Helper()

	b, err := h.blobs.Bucket(context.Background(), bucket)
	jtest.RequireNil(t, err)
	jtest.RequireNil(t, b.Upload(context.Background(), key, path, false))
}

func (h *harness) deploy(t *testing.T, contractID string, mode ledgerflow.Mode) *ledgerflow.Response {
	t.Helper()

	resp, err := h.o.Deploy(context.Background(), ledgerflow.DeployRequest{
		ContractID: contractID,
		Source:     ledgerflow.Location{Path: sourcePath},
		Data:       json.RawMessage(contractData),
		Mode:       mode,
	})
	jtest.RequireNil(t, err)

	return resp
}

func executeRequest(contractID string, request string) ledgerflow.ExecuteRequest {
	return ledgerflow.ExecuteRequest{
		ContractID: contractID,
		Request:    json.RawMessage(request),
	}
}

func (h *harness) store(t *testing.T, contractID string) ledgerflow.RecordStore {
	t.Helper()

	store, err := h.ledger.Open(context.Background(), ledgerflow.Address{Ledger: ledgerName, Table: contractID})
	jtest.RequireNil(t, err)

	return store
}

// record returns the latest revision of the key or nil when it does not exist.
func (h *harness) record(t *testing.T, contractID, key string) *ledgerflow.Record {
	t.Helper()

	r, err := h.store(t, contractID).Get(context.Background(), key)
	if errors.Is(err, ledgerflow.ErrRecordNotFound) {
		return nil
	}
	jtest.RequireNil(t, err)

	return r
}

func (h *harness) requireNoScratch(t *testing.T) {
	t.Helper()

	left, err := scratch.Leftovers(h.scratch)
	jtest.RequireNil(t, err)
	require.Empty(t, left)
}

// countingEngine counts the calls that reach the contract logic.
type countingEngine struct {
	ledgerflow.Engine
	inits    atomic.Int64
	triggers atomic.Int64
}

func (e *countingEngine) Init(ctx context.Context, tmpl ledgerflow.Template, data []byte) (*ledgerflow.Outcome, error) {
	e.inits.Add(1)
	return e.Engine.Init(ctx, tmpl, data)
}

func (e *countingEngine) Trigger(ctx context.Context, tmpl ledgerflow.Template, data, request, state []byte) (*ledgerflow.Outcome, error) {
	e.triggers.Add(1)
	return e.Engine.Trigger(ctx, tmpl, data, request, state)
}

// barrierEngine holds every trigger until n callers reached it so that all of them have read the same state.
type barrierEngine struct {
	ledgerflow.Engine
	wg *sync.WaitGroup
}

func newBarrier(n int) func(e ledgerflow.Engine) ledgerflow.Engine {
	return func(e ledgerflow.Engine) ledgerflow.Engine {
		var wg sync.WaitGroup
		wg.Add(n)
		return &barrierEngine{Engine: e, wg: &wg}
	}
}

func (e *barrierEngine) Trigger(ctx context.Context, tmpl ledgerflow.Template, data, request, state []byte) (*ledgerflow.Outcome, error) {
	e.wg.Done()
	e.wg.Wait()
	return e.Engine.Trigger(ctx, tmpl, data, request, state)
}

type testLogger struct {
	mu     sync.Mutex
	errors []error
}

func (l *testLogger) Debug(ctx context.Context, msg string, meta ledgerflow.MKV) {}

func (l *testLogger) Error(ctx context.Context, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.errors = append(l.errors, err)
}

func (l *testLogger) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]error(nil), l.errors...)
}

func (h *harness) download(t *testing.T, bucket, key string) []byte {
	t.Helper()

	b, err := h.blobs.Bucket(context.Background(), bucket)
	jtest.RequireNil(t, err)

	path := filepath.Join(t.TempDir(), "download.cta")
	jtest.RequireNil(t, b.Download(context.Background(), key, path))

	content, err := os.ReadFile(path)
	jtest.RequireNil(t, err)

	return content
}
