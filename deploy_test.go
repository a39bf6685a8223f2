package ledgerflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
)

func TestDeploy(t *testing.T) {
	h := newHarness(t)

	resp := h.deploy(t, "c1", ledgerflow.ModeLedger)
	require.JSONEq(t, `{"deployed": true}`, string(resp.Response))
	require.Equal(t, int64(1), resp.Version)

	data := h.record(t, "c1", "c1.data")
	require.NotNil(t, data)
	require.JSONEq(t, contractData, string(data.Value))
	require.Equal(t, int64(1), data.Version)

	state := h.record(t, "c1", "c1.state")
	require.NotNil(t, state)
	require.JSONEq(t, `{"count": 0, "owner": "alice"}`, string(state.Value))
	require.Equal(t, int64(1), state.Version)

	result := h.record(t, "c1", "c1.result")
	require.NotNil(t, result)
	require.JSONEq(t, `{
		"state": {"count": 0, "owner": "alice"},
		"response": {"deployed": true},
		"emit": [{"type": "deployed", "owner": "alice"}]
	}`, string(result.Value))
	require.Equal(t, int64(1), result.Version)

	// ModeLedger does not record a template reference.
	require.Nil(t, h.record(t, "c1", "c1.cta"))

	// The archive is copied to the ledger bucket byte for byte.
	require.Equal(t, h.download(t, sourceBucket, sourcePath), h.download(t, ledgerBucket, "contracts/c1/c1.cta"))

	require.Equal(t, int64(1), h.engine.inits.Load())
}

func TestDeployReference(t *testing.T) {
	h := newHarness(t)
	h.deploy(t, "c1", ledgerflow.ModeReference)

	ref := h.record(t, "c1", "c1.cta")
	require.NotNil(t, ref)

	var tr ledgerflow.TemplateReference
	jtest.RequireNil(t, json.Unmarshal(ref.Value, &tr))
	require.Equal(t, "s3://source/templates/counter.cta", tr.S3Path)
	require.Len(t, tr.Hash, 64)
}

func TestDeployTwice(t *testing.T) {
	h := newHarness(t)
	h.deploy(t, "c1", ledgerflow.ModeReference)

	_, err := h.o.Deploy(context.Background(), ledgerflow.DeployRequest{
		ContractID: "c1",
		Source:     ledgerflow.Location{Path: sourcePath},
		Data:       json.RawMessage(`{"owner": "bob"}`),
	})
	ledgerflow.RequireFailure(t, err, ledgerflow.KindAlreadyDeployed, ledgerflow.StageAlreadyDeployed)
	jtest.Require(t, ledgerflow.ErrAlreadyDeployed, err)

	// The first deployment is untouched.
	require.JSONEq(t, contractData, string(h.record(t, "c1", "c1.data").Value))
	require.Equal(t, int64(1), h.record(t, "c1", "c1.state").Version)
}

func TestDeployAfterFailedStateWrite(t *testing.T) {
	h := newHarness(t)

	h.ledger.FailPut("c1.state", errors.New("connection reset"))
	_, err := h.o.Deploy(context.Background(), ledgerflow.DeployRequest{
		ContractID: "c1",
		Source:     ledgerflow.Location{Path: sourcePath},
		Data:       json.RawMessage(contractData),
	})
	ledgerflow.RequireFailure(t, err, ledgerflow.KindPersistenceFailed, ledgerflow.StagePersistFailed)

	// The data record was created and is not rolled back.
	require.NotNil(t, h.record(t, "c1", "c1.data"))
	require.Nil(t, h.record(t, "c1", "c1.state"))

	h.ledger.Heal("c1.state")
	_, err = h.o.Deploy(context.Background(), ledgerflow.DeployRequest{
		ContractID: "c1",
		Source:     ledgerflow.Location{Path: sourcePath},
		Data:       json.RawMessage(contractData),
	})
	ledgerflow.RequireFailure(t, err, ledgerflow.KindAlreadyDeployed, ledgerflow.StageAlreadyDeployed)
}

func TestConcurrentDeploy(t *testing.T) {
	h := newHarness(t)

	const n = 6
	var (
		wg   sync.WaitGroup
		errs = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.o.Deploy(context.Background(), ledgerflow.DeployRequest{
				ContractID: "c1",
				Source:     ledgerflow.Location{Path: sourcePath},
				Data:       json.RawMessage(contractData),
			})
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}

		jtest.Require(t, ledgerflow.ErrAlreadyDeployed, err)
	}
	require.Equal(t, 1, wins)
}

func TestDeployFailures(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(t *testing.T, h *harness)
		req   ledgerflow.DeployRequest
		kind  ledgerflow.Kind
		stage ledgerflow.Stage
	}{
		{
			name:  "missing data",
			req:   ledgerflow.DeployRequest{Source: ledgerflow.Location{Path: sourcePath}},
			kind:  ledgerflow.KindInvalidInput,
			stage: ledgerflow.StageInputInvalid,
		},
		{
			name:  "data is not json",
			req:   ledgerflow.DeployRequest{Source: ledgerflow.Location{Path: sourcePath}, Data: json.RawMessage(`{"owner":`)},
			kind:  ledgerflow.KindInvalidInput,
			stage: ledgerflow.StageInputInvalid,
		},
		{
			name:  "unknown mode",
			req:   ledgerflow.DeployRequest{Source: ledgerflow.Location{Path: sourcePath}, Data: json.RawMessage(contractData), Mode: "copy"},
			kind:  ledgerflow.KindInvalidInput,
			stage: ledgerflow.StageInputInvalid,
		},
		{
			name:  "missing source",
			req:   ledgerflow.DeployRequest{Data: json.RawMessage(contractData)},
			kind:  ledgerflow.KindInvalidInput,
			stage: ledgerflow.StageInputInvalid,
		},
		{
			name:  "source does not exist",
			req:   ledgerflow.DeployRequest{Source: ledgerflow.Location{Path: "templates/missing.cta"}, Data: json.RawMessage(contractData)},
			kind:  ledgerflow.KindTemplateNotFound,
			stage: ledgerflow.StageFetchFailed,
		},
		{
			name: "not an archive",
			setup: func(t *testing.T, h *harness) {
				path := filepath.Join(t.TempDir(), "broken.cta")
				require.Nil(t, os.WriteFile(path, []byte("not a zip"), 0o600))
				h.uploadFile(t, sourceBucket, "templates/broken.cta", path)
			},
			req:   ledgerflow.DeployRequest{Source: ledgerflow.Location{Path: "templates/broken.cta"}, Data: json.RawMessage(contractData)},
			kind:  ledgerflow.KindExtractionFailed,
			stage: ledgerflow.StageExtractFailed,
		},
		{
			name: "template without metadata",
			setup: func(t *testing.T, h *harness) {
				h.uploadTemplate(t, sourceBucket, "templates/bare.cta", map[string]string{"logic/init.cel": `{}`})
			},
			req:   ledgerflow.DeployRequest{Source: ledgerflow.Location{Path: "templates/bare.cta"}, Data: json.RawMessage(contractData)},
			kind:  ledgerflow.KindTemplateInvalid,
			stage: ledgerflow.StageLoadFailed,
		},
		{
			name:  "data does not match the schema",
			req:   ledgerflow.DeployRequest{Source: ledgerflow.Location{Path: sourcePath}, Data: json.RawMessage(`{"owner": 7}`)},
			kind:  ledgerflow.KindInvalidInput,
			stage: ledgerflow.StageDataInvalid,
		},
		{
			name: "init rejects",
			setup: func(t *testing.T, h *harness) {
				h.uploadTemplate(t, sourceBucket, "templates/reject.cta", map[string]string{
					"package.json":   `{"name": "reject", "version": "0.1.0"}`,
					"logic/init.cel": `{"error": "not today"}`,
				})
			},
			req:   ledgerflow.DeployRequest{Source: ledgerflow.Location{Path: "templates/reject.cta"}, Data: json.RawMessage(contractData)},
			kind:  ledgerflow.KindEngineFailed,
			stage: ledgerflow.StageEngineFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			if tc.setup != nil {
				tc.setup(t, h)
			}

			tc.req.ContractID = "c1"
			_, err := h.o.Deploy(context.Background(), tc.req)
			ledgerflow.RequireFailure(t, err, tc.kind, tc.stage)

			require.Nil(t, h.record(t, "c1", "c1.data"))
			require.Nil(t, h.record(t, "c1", "c1.state"))
			require.Nil(t, h.record(t, "c1", "c1.result"))
		})
	}
}

func TestDeployWithoutLedgerBucket(t *testing.T) {
	h := newHarness(t, withOptions(ledgerflow.WithDefaults(ledgerflow.Defaults{
		LedgerName:   ledgerName,
		SourceBucket: sourceBucket,
	})))

	_, err := h.o.Deploy(context.Background(), ledgerflow.DeployRequest{
		ContractID: "c1",
		Source:     ledgerflow.Location{Path: sourcePath},
		Data:       json.RawMessage(contractData),
	})
	ledgerflow.RequireFailure(t, err, ledgerflow.KindInvalidInput, ledgerflow.StageInputInvalid)
	require.Equal(t, int64(0), h.engine.inits.Load())
}

func TestDeployToDataPath(t *testing.T) {
	h := newHarness(t)

	_, err := h.o.Deploy(context.Background(), ledgerflow.DeployRequest{
		Addressing: ledgerflow.Addressing{LedgerName: "other", LedgerDataPath: "shared"},
		ContractID: "c1",
		Source:     ledgerflow.Location{Bucket: sourceBucket, Path: sourcePath},
		Data:       json.RawMessage(contractData),
	})
	jtest.RequireNil(t, err)

	store, err := h.ledger.Open(context.Background(), ledgerflow.Address{Ledger: "other", Table: "shared"})
	jtest.RequireNil(t, err)

	_, err = store.Get(context.Background(), "c1.data")
	jtest.RequireNil(t, err)

	require.Nil(t, h.record(t, "c1", "c1.data"))
}
