package ledgerflow

import (
	"os"
	"strconv"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

const (
	EnvLedgerName    = "LEDGERFLOW_LEDGER_NAME"
	EnvSourceBucket  = "LEDGERFLOW_SOURCE_BUCKET"
	EnvLedgerBucket  = "LEDGERFLOW_LEDGER_BUCKET"
	EnvEventsQueue   = "LEDGERFLOW_EVENTS_QUEUE"
	EnvEncryptAtRest = "LEDGERFLOW_ENCRYPT_AT_REST"
	EnvScratchDir    = "LEDGERFLOW_SCRATCH_DIR"
)

// Defaults is the process wide configuration. It is built once at start up and only read afterwards. The
// configuration of a single invocation is derived from it with Resolve.
type Defaults struct {
	LedgerName    string `yaml:"ledgerName"`
	SourceBucket  string `yaml:"sourceBucket"`
	LedgerBucket  string `yaml:"ledgerBucket"`
	EventsQueue   string `yaml:"eventsQueue"`
	EncryptAtRest bool   `yaml:"encryptAtRest"`
	ScratchDir    string `yaml:"scratchDir"`
}

// DefaultsFromEnv reads the process wide configuration from the environment.
func DefaultsFromEnv() (Defaults, error) {
	d := Defaults{
		LedgerName:   os.Getenv(EnvLedgerName),
		SourceBucket: os.Getenv(EnvSourceBucket),
		LedgerBucket: os.Getenv(EnvLedgerBucket),
		EventsQueue:  os.Getenv(EnvEventsQueue),
		ScratchDir:   os.Getenv(EnvScratchDir),
	}

	if v := strings.TrimSpace(os.Getenv(EnvEncryptAtRest)); v != "" {
		encrypt, err := strconv.ParseBool(v)
		if err != nil {
			return Defaults{}, errors.Wrap(err, "parse env", j.KV("key", EnvEncryptAtRest))
		}

		d.EncryptAtRest = encrypt
	}

	return d, nil
}

// Addressing carries the per invocation overrides of the ledger and queue a contract lives in.
type Addressing struct {
	LedgerName     string `json:"ledgerName,omitempty"`
	LedgerDataPath string `json:"ledgerDataPath,omitempty"`
	EventsQueue    string `json:"eventsQueue,omitempty"`
}

// Config is the immutable configuration of a single invocation.
type Config struct {
	ContractID    string
	Keys          Keys
	Address       Address
	SourceBucket  string
	LedgerBucket  string
	EventsQueue   string
	EncryptAtRest bool
}

// Resolve validates the contract id, applies the overrides on top of the defaults and returns the
// configuration for one invocation.
func (d Defaults) Resolve(contractID string, a Addressing) (Config, error) {
	if contractID == "" {
		return Config{}, errors.New("contract id is required")
	}

	if strings.ContainsAny(contractID, "/\\") || strings.TrimSpace(contractID) != contractID {
		return Config{}, errors.New("contract id contains invalid characters", j.KV("contract_id", contractID))
	}

	c := Config{
		ContractID:    contractID,
		Keys:          KeysFor(contractID),
		Address:       Address{Ledger: d.LedgerName, Table: contractID},
		SourceBucket:  d.SourceBucket,
		LedgerBucket:  d.LedgerBucket,
		EventsQueue:   d.EventsQueue,
		EncryptAtRest: d.EncryptAtRest,
	}

	if a.LedgerName != "" {
		c.Address.Ledger = a.LedgerName
	}

	if a.LedgerDataPath != "" {
		c.Address.Table = a.LedgerDataPath
	}

	if a.EventsQueue != "" {
		c.EventsQueue = a.EventsQueue
	}

	if c.Address.Ledger == "" {
		return Config{}, errors.New("ledger name is not configured", j.KV("contract_id", contractID))
	}

	return c, nil
}

// TemplateBlob is the key of the deployed template archive in the ledger bucket. It is scoped by ledger and
// table like the records of the contract.
func (c Config) TemplateBlob() string {
	return c.Address.Ledger + "/" + c.Address.Table + "/" + c.Keys.Template
}
