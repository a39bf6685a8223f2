package ledgerflow

import (
	"context"
)

const (
	// MustNotExist is the expected version to provide to RecordStore.Put when the record must be created.
	MustNotExist int64 = 0
	// AnyVersion is the expected version to provide to RecordStore.Put when the record should be overwritten
	// regardless of the version currently stored.
	AnyVersion int64 = -1
)

// RecordStore implementations should all be tested with adaptertest.RunRecordStoreTest. Every record carries a
// store assigned version that starts at 1 and increases by one on every write. The store must apply a Put
// atomically: the expected version is compared and the new value written in a single step.
type RecordStore interface {
	// Get returns the latest revision of the record or ErrRecordNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// Put writes the value and returns the version it was stored as. The expected version must be MustNotExist,
	// AnyVersion or the version last read. ErrVersionConflict is returned when the stored version has moved (or
	// the record exists when MustNotExist is provided) and ErrRecordNotFound when a specific version is expected
	// of a record that does not exist.
	Put(ctx context.Context, key string, value []byte, expected int64) (int64, error)

	// Proof returns the ledger metadata of the latest revision of the record.
	Proof(ctx context.Context, key string) (*Metadata, error)

	// History returns all revisions of the record ordered from oldest to newest.
	History(ctx context.Context, key string) ([]Revision, error)

	// Revision returns the record as it was at the provided version.
	Revision(ctx context.Context, key string, version int64) (*Revision, error)

	// Verify checks that the metadata describes a revision that is present in the journal and that the revision
	// hash folds, through the proof, into the digest the journal holds at the digest's sequence.
	Verify(ctx context.Context, md Metadata) (bool, error)
}

// Address identifies a table within a ledger. Records of a contract live in the table named by the ledger data
// path, which defaults to the contract id.
type Address struct {
	Ledger string
	Table  string
}

// Ledger opens record stores per address. Implementations should all be tested with
// adaptertest.RunRecordStoreTest.
type Ledger interface {
	Open(ctx context.Context, addr Address) (RecordStore, error)
}

// BlobStore is an object store addressed by key. Download writes the object to the local path and returns
// ErrBlobNotFound when the object is absent.
type BlobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key, localPath string) error
	Upload(ctx context.Context, key, localPath string, encrypted bool) error
}

// BlobProvider opens blob stores per bucket.
type BlobProvider interface {
	Bucket(ctx context.Context, name string) (BlobStore, error)
}

// Extractor unpacks an archive into destDir, creating intermediate directories as required. On failure destDir
// must be left empty.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// Template is a loaded contract template.
type Template interface {
	Identifier() string
	Hash() string
	Dir() string
}

// DataValidator is optionally implemented by a Template that carries a model for its contract data.
type DataValidator interface {
	ValidateData(data []byte) error
}

type TemplateLoader interface {
	Load(ctx context.Context, dir string) (Template, error)
}

// Engine executes the logic of a template. Init only receives the contract data whereas Trigger additionally
// receives the request and the state persisted by the previous call.
type Engine interface {
	Init(ctx context.Context, tmpl Template, data []byte) (*Outcome, error)
	Trigger(ctx context.Context, tmpl Template, data, request, state []byte) (*Outcome, error)
}

// NotificationSink delivers a single envelope to a queue. Delivery is best effort.
type NotificationSink interface {
	Send(ctx context.Context, envelope []byte) error
}

// Notifier opens notification sinks per queue.
type Notifier interface {
	Sink(ctx context.Context, queue string) (NotificationSink, error)
}
