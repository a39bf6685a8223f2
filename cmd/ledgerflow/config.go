package main

import (
	"os"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"gopkg.in/yaml.v3"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/s3blob"
)

const (
	backendMemory   = "memory"
	backendRedis    = "redis"
	backendMySQL    = "mysql"
	backendPostgres = "postgres"
	backendSQLite   = "sqlite"
	backendFS       = "fs"
	backendS3       = "s3"
	backendGCS      = "gcs"
	backendKafka    = "kafka"
	backendNone     = "none"
)

// config is the YAML configuration file of the command. Values of the process wide defaults that the file
// leaves empty are read from the environment.
type config struct {
	ledgerflow.Defaults `yaml:",inline"`

	Debug         bool          `yaml:"debug"`
	SettleDelay   time.Duration `yaml:"settleDelay"`
	NotifyTimeout time.Duration `yaml:"notifyTimeout"`
	Addr          string        `yaml:"addr"`

	Ledger   ledgerConfig   `yaml:"ledger"`
	Blobs    blobsConfig    `yaml:"blobs"`
	Notifier notifierConfig `yaml:"notifier"`
	Engine   engineConfig   `yaml:"engine"`
}

type ledgerConfig struct {
	Backend string `yaml:"backend"`

	// DSN is the data source name of the mysql and postgres backends.
	DSN string `yaml:"dsn"`

	// Path is the database file of the sqlite backend.
	Path string `yaml:"path"`

	RedisAddr string `yaml:"redisAddr"`
}

type blobsConfig struct {
	Backend string `yaml:"backend"`

	// Root is the directory of the fs backend. Every bucket is a directory below it.
	Root string `yaml:"root"`

	S3 s3blob.Config `yaml:"s3"`

	GCSKMSKeyName string `yaml:"gcsKmsKeyName"`
}

type notifierConfig struct {
	Backend string `yaml:"backend"`

	Brokers []string `yaml:"brokers"`

	RedisAddr   string `yaml:"redisAddr"`
	RedisMaxLen int64  `yaml:"redisMaxLen"`
}

type engineConfig struct {
	CostLimit uint64 `yaml:"costLimit"`
}

func defaultConfig() config {
	return config{
		Addr: ":8080",
		Ledger: ledgerConfig{
			Backend: backendMemory,
		},
		Blobs: blobsConfig{
			Backend: backendFS,
			Root:    "blobs",
		},
		Notifier: notifierConfig{
			Backend: backendNone,
		},
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return config{}, errors.Wrap(err, "read config", j.KV("path", path))
		}

		err = yaml.Unmarshal(b, &cfg)
		if err != nil {
			return config{}, errors.Wrap(err, "parse config", j.KV("path", path))
		}
	}

	env, err := ledgerflow.DefaultsFromEnv()
	if err != nil {
		return config{}, err
	}

	cfg.Defaults = mergeDefaults(cfg.Defaults, env)
	return cfg, nil
}

// mergeDefaults fills the values file left empty from env.
func mergeDefaults(file, env ledgerflow.Defaults) ledgerflow.Defaults {
	if file.LedgerName == "" {
		file.LedgerName = env.LedgerName
	}

	if file.SourceBucket == "" {
		file.SourceBucket = env.SourceBucket
	}

	if file.LedgerBucket == "" {
		file.LedgerBucket = env.LedgerBucket
	}

	if file.EventsQueue == "" {
		file.EventsQueue = env.EventsQueue
	}

	if file.ScratchDir == "" {
		file.ScratchDir = env.ScratchDir
	}

	file.EncryptAtRest = file.EncryptAtRest || env.EncryptAtRest
	return file
}
