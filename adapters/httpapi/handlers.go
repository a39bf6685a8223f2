package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/luno/ledgerflow"
)

type executeBody struct {
	ledgerflow.Addressing
	Request json.RawMessage `json:"requestPayload"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

func (a *api) deploy(w http.ResponseWriter, r *http.Request) {
	var req ledgerflow.DeployRequest
	if !a.decode(w, r, &req) {
		return
	}

	req.ContractID = chi.URLParam(r, "contract_id")
	resp, err := a.svc.Deploy(r.Context(), req)
	a.respondWorkflow(w, r, resp, err)
}

func (a *api) execute(w http.ResponseWriter, r *http.Request) {
	req, ok := a.executeRequest(w, r)
	if !ok {
		return
	}

	resp, err := a.svc.Execute(r.Context(), req)
	a.respondWorkflow(w, r, resp, err)
}

func (a *api) run(w http.ResponseWriter, r *http.Request) {
	req, ok := a.executeRequest(w, r)
	if !ok {
		return
	}

	resp, err := a.svc.ExecuteLookup(r.Context(), req)
	a.respondWorkflow(w, r, resp, err)
}

func (a *api) executeRequest(w http.ResponseWriter, r *http.Request) (ledgerflow.ExecuteRequest, bool) {
	var body executeBody
	if !a.decode(w, r, &body) {
		return ledgerflow.ExecuteRequest{}, false
	}

	return ledgerflow.ExecuteRequest{
		Addressing: body.Addressing,
		ContractID: chi.URLParam(r, "contract_id"),
		Request:    body.Request,
	}, true
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	revs, err := a.svc.History(r.Context(), documentRequest(r))
	a.respond(w, r, revs, err)
}

func (a *api) metadata(w http.ResponseWriter, r *http.Request) {
	md, err := a.svc.Metadata(r.Context(), documentRequest(r))
	a.respond(w, r, md, err)
}

func (a *api) revision(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil {
		a.write(w, r, http.StatusBadRequest, ledgerflow.Envelope{
			Error: "version must be an integer",
			Kind:  ledgerflow.KindInvalidInput,
		})
		return
	}

	rev, err := a.svc.Revision(r.Context(), ledgerflow.RevisionRequest{
		DocumentRequest: documentRequest(r),
		Version:         version,
	})
	a.respond(w, r, rev, err)
}

func (a *api) verify(w http.ResponseWriter, r *http.Request) {
	var md ledgerflow.Metadata
	if !a.decode(w, r, &md) {
		return
	}

	ok, err := a.svc.Verify(r.Context(), md)
	a.respond(w, r, verifyResponse{Verified: ok}, err)
}

func documentRequest(r *http.Request) ledgerflow.DocumentRequest {
	return ledgerflow.DocumentRequest{
		LedgerName:  chi.URLParam(r, "ledger"),
		TableName:   chi.URLParam(r, "table"),
		DocumentKey: chi.URLParam(r, "key"),
	}
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodySize))
	if err != nil {
		// NoReturnErr: HTTP api.
		a.write(w, r, http.StatusRequestEntityTooLarge, ledgerflow.Envelope{
			Error: "failed to read request body",
			Kind:  ledgerflow.KindInvalidInput,
		})
		return false
	}

	if len(body) == 0 {
		body = []byte("{}")
	}

	err = json.Unmarshal(body, v)
	if err != nil {
		a.write(w, r, http.StatusBadRequest, ledgerflow.Envelope{
			Error: "cannot unmarshal body",
			Kind:  ledgerflow.KindInvalidInput,
		})
		return false
	}

	return true
}

func (a *api) respondWorkflow(w http.ResponseWriter, r *http.Request, resp *ledgerflow.Response, err error) {
	if err != nil {
		a.write(w, r, status(err), ledgerflow.FailureEnvelope(err))
		return
	}

	a.write(w, r, http.StatusOK, ledgerflow.SuccessEnvelope(resp.Response))
}

func (a *api) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		a.write(w, r, status(err), ledgerflow.FailureEnvelope(err))
		return
	}

	b, err := json.Marshal(v)
	if err != nil {
		a.write(w, r, http.StatusInternalServerError, ledgerflow.Envelope{Error: "failed to marshal response"})
		return
	}

	a.write(w, r, http.StatusOK, ledgerflow.SuccessEnvelope(b))
}

func (a *api) write(w http.ResponseWriter, r *http.Request, code int, env ledgerflow.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(env)
	if err != nil && a.logger != nil {
		a.logger.Error(r.Context(), errors.Wrap(err, "write response", j.KV("path", r.URL.Path)))
	}
}

// status maps the kind of a failure to an HTTP status code.
func status(err error) int {
	var f *ledgerflow.Failure
	if !errors.As(err, &f) {
		return http.StatusInternalServerError
	}

	switch f.Kind {
	case ledgerflow.KindInvalidInput, ledgerflow.KindInvalidRequest:
		return http.StatusBadRequest
	case ledgerflow.KindTemplateNotFound,
		ledgerflow.KindReferenceMissing,
		ledgerflow.KindContractNotDeployed,
		ledgerflow.KindStateMissing,
		ledgerflow.KindDocumentNotFound:
		return http.StatusNotFound
	case ledgerflow.KindAlreadyDeployed, ledgerflow.KindConcurrentModification:
		return http.StatusConflict
	case ledgerflow.KindExtractionFailed,
		ledgerflow.KindTemplateInvalid,
		ledgerflow.KindTemplateHashMismatch,
		ledgerflow.KindEngineFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
