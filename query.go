package ledgerflow

import (
	"context"

	"github.com/luno/jettison/errors"
)

// DocumentRequest addresses a single document in a ledger table. The ledger name falls back to the configured
// ledger.
type DocumentRequest struct {
	LedgerName  string `json:"ledgerName,omitempty"`
	TableName   string `json:"tableName"`
	DocumentKey string `json:"documentKey"`
}

type RevisionRequest struct {
	DocumentRequest
	Version int64 `json:"version"`
}

// History returns every revision of a document ordered from oldest to newest.
func (o *Orchestrator) History(ctx context.Context, req DocumentRequest) ([]Revision, error) {
	return invoke(ctx, o, WorkflowHistory, func() ([]Revision, *Failure) {
		const wf = WorkflowHistory

		store, f := o.openDocument(ctx, wf, &req)
		if f != nil {
			return nil, f
		}

		revs, err := store.History(ctx, req.DocumentKey)
		if f := queryFailure(wf, req.DocumentKey, err); f != nil {
			return nil, f
		}

		return revs, nil
	})
}

// Metadata returns the ledger metadata of the latest revision of a document without its proof. Verify proves
// such metadata against the journal.
func (o *Orchestrator) Metadata(ctx context.Context, req DocumentRequest) (*Metadata, error) {
	return invoke(ctx, o, WorkflowMetadata, func() (*Metadata, *Failure) {
		const wf = WorkflowMetadata

		store, f := o.openDocument(ctx, wf, &req)
		if f != nil {
			return nil, f
		}

		md, err := store.Proof(ctx, req.DocumentKey)
		if f := queryFailure(wf, req.DocumentKey, err); f != nil {
			return nil, f
		}

		md.Proof = nil
		return md, nil
	})
}

// Revision returns a document as it was at the requested version.
func (o *Orchestrator) Revision(ctx context.Context, req RevisionRequest) (*Revision, error) {
	return invoke(ctx, o, WorkflowRevision, func() (*Revision, *Failure) {
		const wf = WorkflowRevision

		if req.Version < 1 {
			return nil, fail(wf, KindInvalidInput, StageInputInvalid, nil, "version must be at least 1")
		}

		store, f := o.openDocument(ctx, wf, &req.DocumentRequest)
		if f != nil {
			return nil, f
		}

		rev, err := store.Revision(ctx, req.DocumentKey, req.Version)
		if f := queryFailure(wf, req.DocumentKey, err); f != nil {
			return nil, f
		}

		return rev, nil
	})
}

// Verify proves the metadata of a revision against the journal of its table.
func (o *Orchestrator) Verify(ctx context.Context, md Metadata) (bool, error) {
	return invoke(ctx, o, WorkflowVerify, func() (bool, *Failure) {
		const wf = WorkflowVerify

		if md.LedgerName == "" {
			md.LedgerName = o.defaults.LedgerName
		}

		switch {
		case md.LedgerName == "", md.TableName == "", md.DocumentKey == "":
			return false, fail(wf, KindInvalidInput, StageInputInvalid, nil, "ledger name, table name and document key are required")
		case md.BlockAddress.SequenceNo < 1, md.RevisionHash == "":
			return false, fail(wf, KindInvalidInput, StageInputInvalid, nil, "block address and revision hash are required")
		case md.Digest.SequenceNo < 1, md.Digest.Digest == "":
			return false, fail(wf, KindInvalidInput, StageInputInvalid, nil, "ledger digest is required")
		}

		store, err := o.ledger.Open(ctx, Address{Ledger: md.LedgerName, Table: md.TableName})
		if err != nil {
			return false, fail(wf, KindPersistenceFailed, StageQueryFailed, err, "open ledger table %s/%s", md.LedgerName, md.TableName)
		}

		ok, err := store.Verify(ctx, md)
		if err != nil {
			return false, fail(wf, KindPersistenceFailed, StageQueryFailed, err, "verify document %s", md.DocumentKey)
		}

		return ok, nil
	})
}

func (o *Orchestrator) openDocument(ctx context.Context, wf Workflow, req *DocumentRequest) (RecordStore, *Failure) {
	if req.LedgerName == "" {
		req.LedgerName = o.defaults.LedgerName
	}

	if req.LedgerName == "" || req.TableName == "" || req.DocumentKey == "" {
		return nil, fail(wf, KindInvalidInput, StageInputInvalid, nil, "ledger name, table name and document key are required")
	}

	store, err := o.ledger.Open(ctx, Address{Ledger: req.LedgerName, Table: req.TableName})
	if err != nil {
		return nil, fail(wf, KindPersistenceFailed, StageQueryFailed, err, "open ledger table %s/%s", req.LedgerName, req.TableName)
	}

	return store, nil
}

func queryFailure(wf Workflow, key string, err error) *Failure {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrRecordNotFound) {
		return fail(wf, KindDocumentNotFound, StageQueryFailed, err, "document %s does not exist", key)
	}

	return fail(wf, KindPersistenceFailed, StageQueryFailed, err, "query document %s", key)
}
