// Package httpapi exposes the workflows and ledger queries of an Orchestrator over HTTP. Every response body is
// a ledgerflow.Envelope.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luno/ledgerflow"
)

// Service is implemented by *ledgerflow.Orchestrator.
type Service interface {
	Deploy(ctx context.Context, req ledgerflow.DeployRequest) (*ledgerflow.Response, error)
	Execute(ctx context.Context, req ledgerflow.ExecuteRequest) (*ledgerflow.Response, error)
	ExecuteLookup(ctx context.Context, req ledgerflow.ExecuteRequest) (*ledgerflow.Response, error)
	History(ctx context.Context, req ledgerflow.DocumentRequest) ([]ledgerflow.Revision, error)
	Metadata(ctx context.Context, req ledgerflow.DocumentRequest) (*ledgerflow.Metadata, error)
	Revision(ctx context.Context, req ledgerflow.RevisionRequest) (*ledgerflow.Revision, error)
	Verify(ctx context.Context, md ledgerflow.Metadata) (bool, error)
}

var _ Service = (*ledgerflow.Orchestrator)(nil)

const defaultMaxBodySize = 1 << 20

type options struct {
	gatherer    prometheus.Gatherer
	maxBodySize int64
	logger      ledgerflow.Logger
}

type Option func(o *options)

// WithGatherer sets the registry served on /metrics. It defaults to the prometheus default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *options) {
		o.gatherer = g
	}
}

func WithMaxBodySize(n int64) Option {
	return func(o *options) {
		o.maxBodySize = n
	}
}

// WithLogger logs the errors of responses that failed to be written.
func WithLogger(l ledgerflow.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

type api struct {
	svc         Service
	maxBodySize int64
	logger      ledgerflow.Logger
}

func New(svc Service, opts ...Option) http.Handler {
	o := options{
		gatherer:    prometheus.DefaultGatherer,
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	a := &api{
		svc:         svc,
		maxBodySize: o.maxBodySize,
		logger:      o.logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))

	r.Route("/contracts/{contract_id}", func(r chi.Router) {
		r.Post("/deploy", a.deploy)
		r.Post("/execute", a.execute)
		r.Post("/run", a.run)
	})

	r.Route("/ledgers/{ledger}/tables/{table}/documents/{key}", func(r chi.Router) {
		r.Get("/history", a.history)
		r.Get("/metadata", a.metadata)
		r.Get("/revisions/{version}", a.revision)
	})

	r.Post("/verify", a.verify)

	return r
}
