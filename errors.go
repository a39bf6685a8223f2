package ledgerflow

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Errors reported by the collaborators of the orchestrator.
var (
	ErrRecordNotFound  = errors.New("record not found", j.C("ERR_6d982e73339f351a"))
	ErrVersionConflict = errors.New("record version conflict", j.C("ERR_4c1f7e0b9a2d6e35"))
	ErrBlobNotFound    = errors.New("blob not found", j.C("ERR_b83d10c6e5a49f27"))
)

// Errors identifying the kind of a Failure. Every workflow failure wraps exactly one of these.
var (
	ErrInvalidInput           = errors.New("invalid input", j.C("ERR_0e7a5b9d3c1f8264"))
	ErrInvalidRequest         = errors.New("invalid request", j.C("ERR_9a4c2e6f1b8d7305"))
	ErrTemplateNotFound       = errors.New("template not found", j.C("ERR_5f3b8d1a7c2e9046"))
	ErrReferenceMissing       = errors.New("template reference missing", j.C("ERR_c2d9e4a61f7b3580"))
	ErrExtractionFailed       = errors.New("template extraction failed", j.C("ERR_7b1e5c3a9d4f2608"))
	ErrTemplateInvalid        = errors.New("template invalid", j.C("ERR_e48a6d2c0b9f1735"))
	ErrTemplateHashMismatch   = errors.New("template hash mismatch", j.C("ERR_31f9c7b5e2a4d086"))
	ErrContractNotDeployed    = errors.New("contract not deployed", j.C("ERR_a6e2d8f4c1b05937"))
	ErrStateMissing           = errors.New("contract state missing", j.C("ERR_8d5a1f3e7c9b2406"))
	ErrAlreadyDeployed        = errors.New("contract already deployed", j.C("ERR_f0b7c3e9a5d18264"))
	ErrConcurrentModification = errors.New("contract modified concurrently - retry with a fresh read", j.C("ERR_2c8e4a6d0f3b9517"))
	ErrPersistenceFailed      = errors.New("contract persistence failed", j.C("ERR_d93f1b7e5a2c6048"))
	ErrEngineFailed           = errors.New("contract engine failed", j.C("ERR_4a7d9c2f6e1b3850"))
	ErrDocumentNotFound       = errors.New("ledger document not found", j.C("ERR_6b0e2d4f8a1c5973"))
)
