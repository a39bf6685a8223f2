package main

import (
	"context"
	"database/sql"
	"io"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/redis/go-redis/v9"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/fsblob"
	"github.com/luno/ledgerflow/adapters/jlog"
	"github.com/luno/ledgerflow/adapters/kafkastreamer"
	"github.com/luno/ledgerflow/adapters/memrecordstore"
	"github.com/luno/ledgerflow/adapters/memstreamer"
	ledgerredis "github.com/luno/ledgerflow/adapters/redis"
	"github.com/luno/ledgerflow/adapters/s3blob"
	"github.com/luno/ledgerflow/adapters/sqlite"
	"github.com/luno/ledgerflow/adapters/sqlstore"
	"github.com/luno/ledgerflow/adapters/wredis"
	"github.com/luno/ledgerflow/archive"
	"github.com/luno/ledgerflow/celengine"
	"github.com/luno/ledgerflow/template"
)

// app holds an orchestrator along with everything that has to be closed when the command ends.
type app struct {
	orchestrator *ledgerflow.Orchestrator
	blobs        ledgerflow.BlobProvider
	closers      []io.Closer
}

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err := a.closers[i].Close()
		if err != nil && first == nil {
			first = err
		}
	}

	return first
}

func build(ctx context.Context, cfg config) (*app, error) {
	a := &app{}

	ledger, err := a.ledger(ctx, cfg.Ledger)
	if err != nil {
		a.Close()
		return nil, err
	}

	blobs, err := a.blobProvider(ctx, cfg.Blobs)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.blobs = blobs

	notifier, err := a.notifier(cfg.Notifier)
	if err != nil {
		a.Close()
		return nil, err
	}

	var engineOpts []celengine.Option
	if cfg.Engine.CostLimit > 0 {
		engineOpts = append(engineOpts, celengine.WithCostLimit(cfg.Engine.CostLimit))
	}

	engine, err := celengine.New(engineOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []ledgerflow.Option{
		ledgerflow.WithDefaults(cfg.Defaults),
		ledgerflow.WithLogger(jlog.New()),
	}

	if cfg.Debug {
		opts = append(opts, ledgerflow.WithDebugMode())
	}

	if cfg.SettleDelay > 0 {
		opts = append(opts, ledgerflow.WithSettleDelay(cfg.SettleDelay))
	}

	if cfg.NotifyTimeout > 0 {
		opts = append(opts, ledgerflow.WithNotifyTimeout(cfg.NotifyTimeout))
	}

	if cfg.ScratchDir != "" {
		opts = append(opts, ledgerflow.WithScratchRoot(cfg.ScratchDir))
	}

	a.orchestrator = ledgerflow.NewOrchestrator(
		ledger,
		blobs,
		notifier,
		archive.NewExtractor(),
		template.NewLoader(),
		engine,
		opts...,
	)

	return a, nil
}

func (a *app) ledger(ctx context.Context, cfg ledgerConfig) (ledgerflow.Ledger, error) {
	switch cfg.Backend {
	case backendMemory:
		return memrecordstore.New(), nil
	case backendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client)
		return ledgerredis.New(client), nil
	case backendMySQL, backendPostgres:
		dialect := sqlstore.MySQL
		if cfg.Backend == backendPostgres {
			dialect = sqlstore.Postgres
		}

		db, err := sql.Open(dialect.Name, cfg.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "open database", j.KV("backend", cfg.Backend))
		}
		a.closers = append(a.closers, db)

		ledger := sqlstore.New(db, dialect)
		err = ledger.Migrate(ctx)
		if err != nil {
			return nil, err
		}

		return ledger, nil
	case backendSQLite:
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db)

		err = sqlite.InitSchema(ctx, db)
		if err != nil {
			return nil, err
		}

		return sqlite.New(db), nil
	default:
		return nil, errors.New("unknown ledger backend", j.KV("backend", cfg.Backend))
	}
}

func (a *app) blobProvider(ctx context.Context, cfg blobsConfig) (ledgerflow.BlobProvider, error) {
	switch cfg.Backend {
	case backendFS:
		return fsblob.New(cfg.Root), nil
	case backendS3:
		return s3blob.NewFromConfig(ctx, cfg.S3)
	case backendGCS:
		return a.gcsProvider(ctx, cfg)
	default:
		return nil, errors.New("unknown blob backend", j.KV("backend", cfg.Backend))
	}
}

func (a *app) notifier(cfg notifierConfig) (ledgerflow.Notifier, error) {
	switch cfg.Backend {
	case backendNone:
		return nil, nil
	case backendMemory:
		return memstreamer.New(), nil
	case backendKafka:
		n := kafkastreamer.New(cfg.Brokers)
		a.closers = append(a.closers, n)
		return n, nil
	case backendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client)

		var opts []wredis.Option
		if cfg.RedisMaxLen > 0 {
			opts = append(opts, wredis.WithMaxLen(cfg.RedisMaxLen))
		}

		return wredis.New(client, opts...), nil
	default:
		return nil, errors.New("unknown notifier backend", j.KV("backend", cfg.Backend))
	}
}
