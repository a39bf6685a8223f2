package ledgerflow

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Workflow string

const (
	WorkflowDeploy   Workflow = "deploy"
	WorkflowExecute  Workflow = "execute"
	WorkflowRun      Workflow = "run"
	WorkflowHistory  Workflow = "history"
	WorkflowMetadata Workflow = "metadata"
	WorkflowRevision Workflow = "revision"
	WorkflowVerify   Workflow = "verify"
)

// Kind classifies a Failure so that the caller can decide how to react to it.
type Kind string

const (
	KindInvalidInput           Kind = "InvalidInput"
	KindInvalidRequest         Kind = "InvalidRequest"
	KindTemplateNotFound       Kind = "TemplateNotFound"
	KindReferenceMissing       Kind = "ReferenceMissing"
	KindExtractionFailed       Kind = "ExtractionFailed"
	KindTemplateInvalid        Kind = "TemplateInvalid"
	KindTemplateHashMismatch   Kind = "TemplateHashMismatch"
	KindContractNotDeployed    Kind = "ContractNotDeployed"
	KindStateMissing           Kind = "StateMissing"
	KindAlreadyDeployed        Kind = "AlreadyDeployed"
	KindConcurrentModification Kind = "ConcurrentModification"
	KindPersistenceFailed      Kind = "PersistenceFailed"
	KindEngineFailed           Kind = "EngineFailed"
	KindDocumentNotFound       Kind = "DocumentNotFound"
)

var kindErrors = map[Kind]error{
	KindInvalidInput:           ErrInvalidInput,
	KindInvalidRequest:         ErrInvalidRequest,
	KindTemplateNotFound:       ErrTemplateNotFound,
	KindReferenceMissing:       ErrReferenceMissing,
	KindExtractionFailed:       ErrExtractionFailed,
	KindTemplateInvalid:        ErrTemplateInvalid,
	KindTemplateHashMismatch:   ErrTemplateHashMismatch,
	KindContractNotDeployed:    ErrContractNotDeployed,
	KindStateMissing:           ErrStateMissing,
	KindAlreadyDeployed:        ErrAlreadyDeployed,
	KindConcurrentModification: ErrConcurrentModification,
	KindPersistenceFailed:      ErrPersistenceFailed,
	KindEngineFailed:           ErrEngineFailed,
	KindDocumentNotFound:       ErrDocumentNotFound,
}

// Stage is the terminal state a workflow stopped in.
type Stage string

const (
	StageInputInvalid     Stage = "InputInvalid"
	StageReferenceMissing Stage = "ReferenceMissing"
	StageFetchFailed      Stage = "FetchFailed"
	StageExtractFailed    Stage = "ExtractFailed"
	StageLoadFailed       Stage = "LoadFailed"
	StageHashMismatch     Stage = "HashMismatch"
	StageDataInvalid      Stage = "DataInvalid"
	StageDataMissing      Stage = "DataMissing"
	StageStateMissing     Stage = "StateMissing"
	StageRequestInvalid   Stage = "RequestInvalid"
	StageEngineFailed     Stage = "EngineFailed"
	StageAlreadyDeployed  Stage = "AlreadyDeployed"
	StagePersistConflict  Stage = "PersistConflict"
	StagePersistFailed    Stage = "PersistFailed"
	StageQueryFailed      Stage = "QueryFailed"
)

// Failure is the error returned by every workflow and ledger query of the Orchestrator. errors.Is matches it
// against both the sentinel of its Kind and the error that caused it.
type Failure struct {
	Workflow Workflow
	Kind     Kind
	Stage    Stage
	Message  string
	Cause    error
}

func fail(wf Workflow, kind Kind, stage Stage, cause error, format string, args ...any) *Failure {
	return &Failure{
		Workflow: wf,
		Kind:     kind,
		Stage:    stage,
		Message:  fmt.Sprintf(format, args...),
		Cause:    cause,
	}
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", f.Workflow, f.Kind, f.Message)
	if f.Cause != nil {
		msg += ": " + f.Cause.Error()
	}

	return msg
}

func (f *Failure) Unwrap() []error {
	var errs []error
	if err, ok := kindErrors[f.Kind]; ok {
		errs = append(errs, err)
	}

	if f.Cause != nil {
		errs = append(errs, f.Cause)
	}

	return errs
}

// Retryable reports whether invoking the workflow again with the same input can succeed. Only a lost race on
// the state record qualifies.
func (f *Failure) Retryable() bool {
	return f.Kind == KindConcurrentModification
}

// Envelope is the wire shape of every workflow response.
type Envelope struct {
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
	Kind     Kind            `json:"kind,omitempty"`
}

func SuccessEnvelope(resp json.RawMessage) Envelope {
	if len(resp) == 0 {
		resp = json.RawMessage("null")
	}

	return Envelope{Response: resp}
}

func FailureEnvelope(err error) Envelope {
	var f *Failure
	if errors.As(err, &f) {
		msg := f.Message
		// The contract's own reason is part of what the caller sees.
		if f.Kind == KindEngineFailed && f.Cause != nil {
			msg += ": " + f.Cause.Error()
		}

		return Envelope{Error: msg, Kind: f.Kind}
	}

	return Envelope{Error: err.Error()}
}
