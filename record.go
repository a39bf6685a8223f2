package ledgerflow

import (
	"encoding/json"
	"strings"
	"time"
)

// Record is the latest revision of a document in a RecordStore.
type Record struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Revision is a record as it was written at a specific version along with the hash the journal holds for it.
type Revision struct {
	Record
	Hash string `json:"hash"`
}

// BlockAddress locates a revision in the journal of a table.
type BlockAddress struct {
	StrandID   string `json:"strandId"`
	SequenceNo int64  `json:"sequenceNo"`
}

// Digest is the chain hash of the journal at SequenceNo.
type Digest struct {
	Digest     string `json:"digest"`
	SequenceNo int64  `json:"sequenceNo"`
}

// Metadata is the provenance of a revision. It is used to enrich notifications and by the ledger queries but
// never to make decisions in a workflow.
type Metadata struct {
	LedgerName   string       `json:"ledgerName"`
	TableName    string       `json:"tableName"`
	DocumentKey  string       `json:"documentKey"`
	Version      int64        `json:"version"`
	BlockAddress BlockAddress `json:"blockAddress"`
	RevisionHash string       `json:"revisionHash"`
	PreviousHash string       `json:"previousHash"`
	Digest       Digest       `json:"ledgerDigest"`

	// Proof lists the revision hashes that follow this revision up to and including the digest sequence.
	Proof []string `json:"proof,omitempty"`
}

// TemplateReference is stored under the template key of a contract that was deployed with ModeReference. It
// points to the template archive in its source bucket and pins the hash the template had when it was deployed.
type TemplateReference struct {
	S3Path string `json:"s3path"`
	Hash   string `json:"hash"`
}

// Outcome is the result of an engine call. It is stored verbatim as the result record of the contract.
type Outcome struct {
	State    json.RawMessage   `json:"state"`
	Response json.RawMessage   `json:"response"`
	Emit     []json.RawMessage `json:"emit"`
}

// Location addresses an object in a bucket.
type Location struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

const s3Scheme = "s3://"

func (l Location) String() string {
	if l.Bucket == "" {
		return l.Path
	}

	return s3Scheme + l.Bucket + "/" + l.Path
}

// ParseLocation reads an s3 style path. A path without the scheme is a key in the fallback bucket.
func ParseLocation(s3path string, fallbackBucket string) Location {
	rest, ok := strings.CutPrefix(s3path, s3Scheme)
	if !ok {
		return Location{Bucket: fallbackBucket, Path: s3path}
	}

	bucket, key, _ := strings.Cut(rest, "/")
	return Location{Bucket: bucket, Path: key}
}
