package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/spf13/cobra"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/httpapi"
	"github.com/luno/ledgerflow/archive"
)

type rootOptions struct {
	ConfigPath string
	Debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "ledgerflow",
		Short:         "Deploy and execute smart legal contracts on a verifiable ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML configuration file")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "log every workflow step")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newPublishCommand(opts))
	cmd.AddCommand(newDeployCommand(opts))
	cmd.AddCommand(newExecuteCommand(opts, "execute", "Execute a contract with the template stored in the ledger"))
	cmd.AddCommand(newExecuteCommand(opts, "run", "Execute a reference deployed contract with its verified source template"))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newMetadataCommand(opts))
	cmd.AddCommand(newRevisionCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))

	return cmd
}

// withApp builds the app from the configuration, runs fn and closes the app.
func withApp(ctx context.Context, opts *rootOptions, fn func(a *app, cfg config) error) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	cfg.Debug = cfg.Debug || opts.Debug

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a, cfg)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflows and ledger queries over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, opts, func(a *app, cfg config) error {
				if addr == "" {
					addr = cfg.Addr
				}

				srv := &http.Server{
					Addr:              addr,
					Handler:           httpapi.New(a.orchestrator),
					ReadHeaderTimeout: 10 * time.Second,
				}

				errc := make(chan error, 1)
				go func() {
					errc <- srv.ListenAndServe()
				}()

				select {
				case err := <-errc:
					return errors.Wrap(err, "serve", j.KV("addr", addr))
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				return srv.Shutdown(shutdownCtx)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the configured address")

	return cmd
}

func newPublishCommand(opts *rootOptions) *cobra.Command {
	var encrypt bool

	cmd := &cobra.Command{
		Use:   "publish <template-dir> <s3://bucket/path>",
		Short: "Archive a template directory and upload it to the blob store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app, cfg config) error {
				loc := ledgerflow.ParseLocation(args[1], cfg.SourceBucket)
				if loc.Bucket == "" || loc.Path == "" {
					return errors.New("template location must name a bucket and path", j.KV("location", args[1]))
				}

				tmp, err := os.MkdirTemp("", "ledgerflow-publish-")
				if err != nil {
					return errors.Wrap(err, "create temp dir")
				}
				defer os.RemoveAll(tmp)

				archivePath := filepath.Join(tmp, filepath.Base(loc.Path))
				err = archive.Create(archivePath, args[0])
				if err != nil {
					return err
				}

				bucket, err := a.blobs.Bucket(cmd.Context(), loc.Bucket)
				if err != nil {
					return err
				}

				err = bucket.Upload(cmd.Context(), loc.Path, archivePath, encrypt || cfg.EncryptAtRest)
				if err != nil {
					return err
				}

				return writeJSON(cmd.OutOrStdout(), ledgerflow.SuccessEnvelope(mustJSON(loc)))
			})
		},
	}

	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "encrypt the archive at rest")

	return cmd
}

type addressingFlags struct {
	ledgerName  string
	dataPath    string
	eventsQueue string
}

func (f *addressingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ledgerName, "ledger-name", "", "ledger the contract lives in")
	cmd.Flags().StringVar(&f.dataPath, "data-path", "", "ledger table of the contract, defaults to the contract id")
	cmd.Flags().StringVar(&f.eventsQueue, "events-queue", "", "queue emitted events are delivered to")
}

func (f *addressingFlags) addressing() ledgerflow.Addressing {
	return ledgerflow.Addressing{
		LedgerName:     f.ledgerName,
		LedgerDataPath: f.dataPath,
		EventsQueue:    f.eventsQueue,
	}
}

func newDeployCommand(opts *rootOptions) *cobra.Command {
	var (
		addr   addressingFlags
		source string
		data   string
		mode   string
	)

	cmd := &cobra.Command{
		Use:   "deploy <contract-id>",
		Short: "Deploy a contract from a template archive",
		Long: `Deploy a contract from a template archive.

Example:
  ledgerflow deploy c1 --source s3://source/templates/counter.cta --data '{"owner":"alice"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(data)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, func(a *app, cfg config) error {
				resp, err := a.orchestrator.Deploy(cmd.Context(), ledgerflow.DeployRequest{
					Addressing: addr.addressing(),
					ContractID: args[0],
					Source:     ledgerflow.ParseLocation(source, cfg.SourceBucket),
					Data:       payload,
					Mode:       ledgerflow.Mode(mode),
				})
				return writeResponse(cmd.OutOrStdout(), resp, err)
			})
		},
	}

	addr.register(cmd)
	cmd.Flags().StringVar(&source, "source", "", "template archive location as s3://bucket/path or a path in the source bucket")
	cmd.Flags().StringVar(&data, "data", "{}", "contract data as JSON, or @file to read it from a file")
	cmd.Flags().StringVar(&mode, "mode", string(ledgerflow.ModeLedger), "deployment mode (ledger|reference)")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func newExecuteCommand(opts *rootOptions, use, short string) *cobra.Command {
	var (
		addr    addressingFlags
		request string
	)

	cmd := &cobra.Command{
		Use:   use + " <contract-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(request)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, func(a *app, cfg config) error {
				req := ledgerflow.ExecuteRequest{
					Addressing: addr.addressing(),
					ContractID: args[0],
					Request:    payload,
				}

				execute := a.orchestrator.Execute
				if use == "run" {
					execute = a.orchestrator.ExecuteLookup
				}

				resp, err := execute(cmd.Context(), req)
				return writeResponse(cmd.OutOrStdout(), resp, err)
			})
		},
	}

	addr.register(cmd)
	cmd.Flags().StringVar(&request, "request", "{}", "request payload as JSON, or @file to read it from a file")

	return cmd
}

func documentCommand(opts *rootOptions, use, short string, nargs int, fn func(ctx context.Context, a *app, req ledgerflow.DocumentRequest, args []string) (any, error)) *cobra.Command {
	var ledgerName string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app, cfg config) error {
				v, err := fn(cmd.Context(), a, ledgerflow.DocumentRequest{
					LedgerName:  ledgerName,
					TableName:   args[0],
					DocumentKey: args[1],
				}, args[2:])
				return writeResult(cmd.OutOrStdout(), v, err)
			})
		},
	}

	cmd.Flags().StringVar(&ledgerName, "ledger-name", "", "ledger the table lives in")

	return cmd
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	return documentCommand(opts, "history <table> <key>", "List every revision of a ledger document", 2,
		func(ctx context.Context, a *app, req ledgerflow.DocumentRequest, _ []string) (any, error) {
			return a.orchestrator.History(ctx, req)
		})
}

func newMetadataCommand(opts *rootOptions) *cobra.Command {
	return documentCommand(opts, "metadata <table> <key>", "Show the ledger metadata of the latest revision of a document", 2,
		func(ctx context.Context, a *app, req ledgerflow.DocumentRequest, _ []string) (any, error) {
			return a.orchestrator.Metadata(ctx, req)
		})
}

func newRevisionCommand(opts *rootOptions) *cobra.Command {
	return documentCommand(opts, "revision <table> <key> <version>", "Show a ledger document as it was at a version", 3,
		func(ctx context.Context, a *app, req ledgerflow.DocumentRequest, args []string) (any, error) {
			version, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return nil, errors.Wrap(err, "parse version", j.KV("version", args[0]))
			}

			return a.orchestrator.Revision(ctx, ledgerflow.RevisionRequest{DocumentRequest: req, Version: version})
		})
}

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	var metadata string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Prove ledger metadata against the journal of its table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(metadata)
			if err != nil {
				return err
			}

			var md ledgerflow.Metadata
			err = json.Unmarshal(payload, &md)
			if err != nil {
				return errors.Wrap(err, "parse metadata")
			}

			return withApp(cmd.Context(), opts, func(a *app, cfg config) error {
				ok, err := a.orchestrator.Verify(cmd.Context(), md)
				return writeResult(cmd.OutOrStdout(), map[string]bool{"verified": ok}, err)
			})
		},
	}

	cmd.Flags().StringVar(&metadata, "metadata", "", "ledger metadata as JSON, or @file to read it from a file")
	_ = cmd.MarkFlagRequired("metadata")

	return cmd
}

// readPayload returns the JSON of a flag value. Values starting with @ name a file holding the JSON.
func readPayload(v string) (json.RawMessage, error) {
	b := []byte(v)
	if path, ok := strings.CutPrefix(v, "@"); ok {
		var err error
		b, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read payload", j.KV("path", path))
		}
	}

	if !json.Valid(b) {
		return nil, errors.New("payload is not valid JSON")
	}

	return b, nil
}

func writeResponse(w io.Writer, resp *ledgerflow.Response, err error) error {
	if err != nil {
		return writeFailure(w, err)
	}

	return writeJSON(w, ledgerflow.SuccessEnvelope(resp.Response))
}

func writeResult(w io.Writer, v any, err error) error {
	if err != nil {
		return writeFailure(w, err)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}

	return writeJSON(w, ledgerflow.SuccessEnvelope(b))
}

// writeFailure writes the envelope of a workflow failure and returns the failure so the command exits with an
// error. Errors that are not failures are returned as they are.
func writeFailure(w io.Writer, err error) error {
	var f *ledgerflow.Failure
	if !errors.As(err, &f) {
		return err
	}

	werr := writeJSON(w, ledgerflow.FailureEnvelope(err))
	if werr != nil {
		return werr
	}

	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return b
}
